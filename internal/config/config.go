package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	Environment string `env:"CDIL_ENVIRONMENT" envDefault:"dev"`
	AdminAPIKey string `env:"ADMIN_API_KEY"`

	KeyRotationDays        int `env:"KEY_ROTATION_DAYS" envDefault:"90"`
	NonceRetentionHours    int `env:"NONCE_RETENTION_HOURS" envDefault:"168"`
	ChainAdvanceMaxRetries int `env:"CHAIN_ADVANCE_MAX_RETRIES" envDefault:"5"`

	PolicyBundlePath string `env:"POLICY_BUNDLE_PATH"`
	PolicyBundleID   string `env:"POLICY_BUNDLE_ID" envDefault:"governance_v0"`

	RateLimitRequests      int `env:"RATE_LIMIT_REQUESTS" envDefault:"0"`
	RateLimitWindowSeconds int `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ChainAdvanceMaxRetries <= 0 {
		cfg.ChainAdvanceMaxRetries = 5
	}
	return cfg, nil
}

func (c Config) KeyRotationInterval() time.Duration {
	if c.KeyRotationDays <= 0 {
		return 0
	}
	return time.Duration(c.KeyRotationDays) * 24 * time.Hour
}

func (c Config) NonceRetention() time.Duration {
	if c.NonceRetentionHours <= 0 {
		return 0
	}
	return time.Duration(c.NonceRetentionHours) * time.Hour
}

func (c Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

// NewLogger returns a JSON logger on stderr at the configured level.
func NewLogger(cfg Config) *slog.Logger {
	return newLogger(os.Stderr, cfg.LogLevel)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
