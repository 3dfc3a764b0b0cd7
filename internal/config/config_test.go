package config

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5, cfg.ChainAdvanceMaxRetries)
	assert.Equal(t, "governance_v0", cfg.PolicyBundleID)
	assert.Equal(t, 90*24*time.Hour, cfg.KeyRotationInterval())
	assert.Equal(t, 168*time.Hour, cfg.NonceRetention())
	assert.Equal(t, time.Minute, cfg.RateLimitWindow())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("POSTGRES_DSN", "postgres://cdil@localhost/cdil")
	t.Setenv("KEY_ROTATION_DAYS", "30")
	t.Setenv("CHAIN_ADVANCE_MAX_RETRIES", "9")
	t.Setenv("RATE_LIMIT_REQUESTS", "100")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "10")
	t.Setenv("REDIS_DB", "3")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "postgres://cdil@localhost/cdil", cfg.PostgresDSN)
	assert.Equal(t, 30*24*time.Hour, cfg.KeyRotationInterval())
	assert.Equal(t, 9, cfg.ChainAdvanceMaxRetries)
	assert.Equal(t, 100, cfg.RateLimitRequests)
	assert.Equal(t, 10*time.Second, cfg.RateLimitWindow())
	assert.Equal(t, 3, cfg.RedisDB)
}

func TestFromEnv_RejectsMalformedNumber(t *testing.T) {
	t.Setenv("KEY_ROTATION_DAYS", "ninety")
	_, err := FromEnv()
	require.Error(t, err)
}

func TestKeyRotationInterval_Disabled(t *testing.T) {
	assert.Zero(t, Config{KeyRotationDays: 0}.KeyRotationInterval())
	assert.Zero(t, Config{NonceRetentionHours: -1}.NonceRetention())
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown", "tenant_id", "hospital-alpha")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, `"tenant_id":"hospital-alpha"`))
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
}
