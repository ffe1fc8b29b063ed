package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/config"
	h "github.com/fjod/go_cart/storefront/internal/http"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/media"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/payment"
	"github.com/fjod/go_cart/storefront/internal/publisher"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.ServiceName, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("storefront stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("storefront exited")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	cartCache, closeCache, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	images, closeImages, err := openImages(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeImages()

	carts := service.NewCartService(store, cartCache, m, log)
	checkout := service.NewCheckoutService(store, carts, payment.NewSimulator(cfg.PaymentDelay, payment.RandomOutcome{}), m, log)
	orders := service.NewOrderService(store, m, log)
	products := service.NewProductService(store, images, log)

	router := h.NewRouter(h.RouterConfig{
		ServiceName:    cfg.ServiceName,
		JWTSecret:      []byte(cfg.JWTSecret),
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
		Metrics:        m,
		Log:            log,
		Ready:          store.Ping,
	}, h.Handlers{
		Cart:     h.NewCartHandler(carts, log),
		Checkout: h.NewCheckoutHandler(checkout, log),
		Orders:   h.NewOrdersHandler(orders, log),
		Products: h.NewProductHandler(products, cfg.MaxImageSize, log),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("storefront listening", "port", cfg.HTTPPort, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if len(cfg.KafkaBrokers) > 0 {
		poller := publisher.NewOutboxPoller(store,
			publisher.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic),
			publisher.Config{Interval: cfg.OutboxInterval, BatchSize: cfg.OutboxBatch},
			m, log)
		g.Go(func() error {
			defer poller.Close()
			log.Info("outbox poller started", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
			return poller.Run(gctx)
		})
	} else {
		log.Warn("KAFKA_BROKERS not set, outbox events stay in the database")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (repository.Store, error) {
	if cfg.Store == "memory" {
		store := repository.NewMemoryStore(cfg.LockTimeout)
		if err := repository.Seed(ctx, store, repository.DemoCatalog()); err != nil {
			return nil, err
		}
		log.Warn("using in-memory store, data is lost on restart")
		return store, nil
	}

	creds := &repository.Credentials{
		Host:              cfg.DBHost,
		Port:              cfg.DBPort,
		User:              cfg.DBUser,
		Password:          cfg.DBPassword,
		DBName:            cfg.DBName,
		MigrationsDirPath: cfg.MigrationsPath,
		LockTimeout:       cfg.LockTimeout,
	}
	repo, err := repository.NewRepository(creds)
	if err != nil {
		return nil, err
	}
	if err := repo.RunMigrations(creds); err != nil {
		repo.Close()
		return nil, err
	}
	log.Info("database migrations completed")
	return repo, nil
}

func openCache(ctx context.Context, cfg *config.Config, log *slog.Logger) (cache.CartCache, func(), error) {
	if cfg.RedisAddr == "" {
		log.Warn("REDIS_ADDR not set, cart cache disabled")
		return cache.NopCache{}, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, err
	}
	log.Info("connected to redis", "addr", cfg.RedisAddr)
	return cache.NewRedisCache(client, cfg.CartCacheTTL), func() { _ = client.Close() }, nil
}

func openImages(ctx context.Context, cfg *config.Config, log *slog.Logger) (media.ImageStore, func(), error) {
	if cfg.MongoURI == "" {
		log.Warn("MONGO_URI not set, product image endpoints are disabled")
		return media.Disabled{}, func() {}, nil
	}
	db, err := media.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, nil, err
	}
	disconnect := func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Client().Disconnect(dctx)
	}
	store, err := media.NewGridFSStore(db)
	if err != nil {
		disconnect()
		return nil, nil, err
	}
	log.Info("connected to mongodb", "database", cfg.MongoDatabase)
	return store, disconnect, nil
}
