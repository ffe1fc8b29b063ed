package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServiceName     string
	HTTPPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string

	// Store is "postgres" or "memory".
	Store          string
	DBHost         string
	DBPort         int
	DBUser         string
	DBPassword     string
	DBName         string
	MigrationsPath string
	LockTimeout    time.Duration

	RedisAddr     string
	RedisPassword string
	CartCacheTTL  time.Duration

	MongoURI      string
	MongoDatabase string
	MaxImageSize  int64

	KafkaBrokers   []string
	KafkaTopic     string
	OutboxInterval time.Duration
	OutboxBatch    int

	JWTSecret      string
	AllowedOrigins []string

	PaymentDelay time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:     getEnv("SERVICE_NAME", "storefront"),
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		Store:          strings.ToLower(getEnv("STORE", "postgres")),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnvInt("DB_PORT", 5432),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", "postgres"),
		DBName:         getEnv("DB_NAME", "storefront"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "internal/repository/migrations"),
		LockTimeout:    getEnvDuration("LOCK_TIMEOUT", 3*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		CartCacheTTL:  getEnvDuration("CART_CACHE_TTL", 15*time.Minute),

		MongoURI:      getEnv("MONGO_URI", ""),
		MongoDatabase: getEnv("MONGO_DB", "storefront"),
		MaxImageSize:  int64(getEnvInt("MAX_IMAGE_SIZE", 5<<20)),

		KafkaBrokers:   splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "storefront-events"),
		OutboxInterval: getEnvDuration("OUTBOX_INTERVAL", time.Second),
		OutboxBatch:    getEnvInt("OUTBOX_BATCH", 100),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		AllowedOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),

		PaymentDelay: getEnvDuration("PAYMENT_DELAY", 2*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Store != "postgres" && c.Store != "memory" {
		errs = append(errs, fmt.Errorf("STORE must be postgres or memory, got %q", c.Store))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, errors.New("LOCK_TIMEOUT must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if c.MaxImageSize <= 0 {
		errs = append(errs, errors.New("MAX_IMAGE_SIZE must be positive"))
	}
	if c.OutboxBatch <= 0 {
		errs = append(errs, errors.New("OUTBOX_BATCH must be positive"))
	}
	if c.PaymentDelay < 0 {
		errs = append(errs, errors.New("PAYMENT_DELAY must not be negative"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("500ms") and bare seconds ("3").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
