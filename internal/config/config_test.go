package config

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/events"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("PORT", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("SWEEP_INTERVAL", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, DefaultAttemptConfig().SweepInterval, cfg.Attempt.SweepInterval)
}

func TestLoadConfig_JWTSecret(t *testing.T) {
	t.Run("production requires a secret", func(t *testing.T) {
		t.Setenv("ENVIRONMENT", "production")
		t.Setenv("JWT_SECRET", "")

		cfg, err := LoadConfig()
		assert.ErrorIs(t, err, ErrJWTSecretRequired)
		assert.Nil(t, cfg)
	})

	t.Run("production rejects the development secret", func(t *testing.T) {
		t.Setenv("ENVIRONMENT", "Production")
		t.Setenv("JWT_SECRET", devJWTSecret)

		_, err := LoadConfig()
		assert.ErrorIs(t, err, ErrJWTSecretRequired)
	})

	t.Run("production with a secret", func(t *testing.T) {
		t.Setenv("ENVIRONMENT", "production")
		t.Setenv("JWT_SECRET", "s3cr3t-from-vault")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, "s3cr3t-from-vault", cfg.JWTSecret)
	})

	t.Run("development falls back", func(t *testing.T) {
		t.Setenv("ENVIRONMENT", "development")
		t.Setenv("JWT_SECRET", "")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, devJWTSecret, cfg.JWTSecret)
	})
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("AUTO_MIGRATE", "false")
	t.Setenv("DEFAULT_MAX_TAB_SWITCHES", "5")
	t.Setenv("NUMERIC_EPSILON", "0.01")
	t.Setenv("STORE_RETRY_BACKOFF", "200ms")
	t.Setenv("SWEEP_BATCH_SIZE", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, 5, cfg.Attempt.DefaultMaxTabSwitches)
	assert.InDelta(t, 0.01, cfg.Attempt.NumericEpsilon, 1e-12)
	assert.Equal(t, 200*time.Millisecond, cfg.Attempt.StoreRetryBackoff)
	assert.Equal(t, 100, cfg.Attempt.SweepBatchSize)
}

func TestEventConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("brokers are trimmed", func(t *testing.T) {
		c := EventConfig{KafkaBrokers: "a:9092, b:9092,,"}
		assert.Equal(t, []string{"a:9092", "b:9092"}, c.GetKafkaBrokers())
	})

	t.Run("disabled falls back to mock", func(t *testing.T) {
		c := EventConfig{Enabled: false, Publisher: "kafka"}
		p, err := c.CreateEventPublisher(logger)
		require.NoError(t, err)
		assert.IsType(t, &events.MockEventPublisher{}, p)
	})

	t.Run("unknown publisher falls back to mock", func(t *testing.T) {
		c := EventConfig{Enabled: true, Publisher: "carrier-pigeon"}
		p, err := c.CreateEventPublisher(logger)
		require.NoError(t, err)
		assert.IsType(t, &events.MockEventPublisher{}, p)
	})
}
