package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, 3*time.Second, cfg.LockTimeout)
	assert.Equal(t, 15*time.Minute, cfg.CartCacheTTL)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE", "Memory")
	t.Setenv("LOCK_TIMEOUT", "500ms")
	t.Setenv("PAYMENT_DELAY", "0")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("OUTBOX_BATCH", "25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 500*time.Millisecond, cfg.LockTimeout)
	assert.Zero(t, cfg.PaymentDelay)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 25, cfg.OutboxBatch)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("OUTBOX_BATCH", "many")
	t.Setenv("LOCK_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.OutboxBatch)
	assert.Equal(t, 3*time.Second, cfg.LockTimeout)
}

func TestLoad_ReportsAllProblems(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STORE", "sqlite")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
	assert.Contains(t, err.Error(), "STORE must be postgres or memory")
}
