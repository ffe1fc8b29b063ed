package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/media"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/payment"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

type apiEnv struct {
	handler  http.Handler
	products *service.ProductService
	orders   *service.OrderService
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	log := logger.Discard()
	m := metrics.New(prometheus.NewRegistry())
	store := repository.NewMemoryStore(500 * time.Millisecond)

	carts := service.NewCartService(store, cache.NopCache{}, m, log)
	checkout := service.NewCheckoutService(store, carts, payment.NewSimulator(0, payment.FixedOutcome{Approved: true}), m, log)
	orders := service.NewOrderService(store, m, log)
	products := service.NewProductService(store, media.Disabled{}, log)

	handler := NewRouter(RouterConfig{
		ServiceName:    "storefront-test",
		JWTSecret:      testSecret,
		AllowedOrigins: []string{"http://localhost:3000"},
		RequestTimeout: 5 * time.Second,
		Metrics:        m,
		Log:            log,
	}, Handlers{
		Cart:     NewCartHandler(carts, log),
		Checkout: NewCheckoutHandler(checkout, log),
		Orders:   NewOrdersHandler(orders, log),
		Products: NewProductHandler(products, 1<<20, log),
	})

	return &apiEnv{handler: handler, products: products, orders: orders}
}

func (e *apiEnv) addProduct(t *testing.T, name string, price int64, stock int) *domain.Product {
	t.Helper()
	p, err := e.products.Create(context.Background(), service.ProductInput{
		Name:  name,
		Type:  "bike",
		Price: decimal.NewFromInt(price),
		Stock: stock,
	})
	require.NoError(t, err)
	return p
}

func token(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":   userID,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

type response struct {
	Success      bool              `json:"success"`
	Data         json.RawMessage   `json:"data"`
	Message      string            `json:"message"`
	Errors       json.RawMessage   `json:"errors"`
	InvalidItems []json.RawMessage `json:"invalidItems"`
	Code         string            `json:"code"`
}

func (e *apiEnv) do(t *testing.T, method, path, bearer string, body any) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var resp response
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func decodeData[T any](t *testing.T, resp response) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	return out
}

func codCheckout() map[string]any {
	return map[string]any{
		"name":          "Rani Putri",
		"email":         "rani@example.com",
		"phone":         "+62 812-3456-7890",
		"address":       "Jl. Sudirman 45, Jakarta",
		"paymentMethod": "cod",
	}
}
