package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	ServiceName    string
	JWTSecret      []byte
	AllowedOrigins []string
	RequestTimeout time.Duration
	Metrics        *metrics.Metrics
	Log            *slog.Logger
	// Ready reports whether backing stores are reachable; nil means always ready.
	Ready func(ctx context.Context) error
}

type Handlers struct {
	Cart     *CartHandler
	Checkout *CheckoutHandler
	Orders   *OrdersHandler
	Products *ProductHandler
}

func NewRouter(cfg RouterConfig, h Handlers) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Log))
	r.Use(middleware.Recoverer)
	r.Use(Instrument(cfg.Metrics))
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				respondError(w, http.StatusServiceUnavailable, "unhealthy", err.Error())
				return
			}
		}
		respondOK(w, http.StatusOK, map[string]string{"status": "ok"}, "")
	})
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.Products.List)
			r.Get("/{id}", h.Products.Get)
			r.Get("/{id}/image", h.Products.Image)

			r.Group(func(r chi.Router) {
				r.Use(Authenticate(cfg.JWTSecret), RequireAdmin)
				r.Post("/", h.Products.Create)
				r.Put("/{id}", h.Products.Update)
				r.Delete("/{id}", h.Products.Delete)
				r.Put("/{id}/image", h.Products.UploadImage)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(cfg.JWTSecret))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.Cart.GetCart)
				r.Post("/", h.Cart.AddItem)
				r.Delete("/", h.Cart.ClearCart)
				r.Put("/{id}", h.Cart.UpdateItem)
				r.Delete("/{id}", h.Cart.RemoveItem)
			})

			r.Route("/checkout", func(r chi.Router) {
				r.Get("/validate", h.Checkout.Validate)
				r.Post("/process", h.Checkout.Process)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Get("/user", h.Orders.ListMine)
				r.Get("/user/{id}", h.Orders.GetOrder)
				r.Put("/user/{id}/cancel", h.Orders.Cancel)

				r.Group(func(r chi.Router) {
					r.Use(RequireAdmin)
					r.Get("/", h.Orders.ListAll)
					r.Put("/bulk", h.Orders.Bulk)
					r.Put("/{id}/status", h.Orders.UpdateStatus)
				})
			})
		})
	})

	return otelhttp.NewHandler(r, cfg.ServiceName)
}
