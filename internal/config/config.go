package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"

	apperrors "github.com/taziji/ChinaRMBSite/internal/errors"
)

// Config is the immutable server configuration, constructed once at startup
// from the environment. Changing any value requires a restart.
type Config struct {
	AppEnv       string `env:"APP_ENV" default:"development"`
	Port         string `env:"PORT" default:"8080"`
	DocumentRoot string `env:"DOCUMENT_ROOT" default:"ChinaRMBSite"`
	IndexFile    string `env:"INDEX_FILE" default:"index.html"`

	BasicAuthUser     string `env:"BASIC_AUTH_USER"`
	BasicAuthPassword string `env:"BASIC_AUTH_PASSWORD"`
	BasicAuthFile     string `env:"BASIC_AUTH_FILE"`
	BasicAuthRealm    string `env:"BASIC_AUTH_REALM" default:"Restricted"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	ShutdownGrace     time.Duration `env:"SHUTDOWN_GRACE" default:"10s"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" default:"5s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" default:"60s"`

	CacheEnabled     bool          `env:"CACHE_ENABLED" default:"false"`
	CacheTTL         time.Duration `env:"CACHE_TTL" default:"60s"`
	CacheMaxFileSize int64         `env:"CACHE_MAX_FILE_SIZE" default:"262144"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" default:"0"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" default:"20"`

	MaxConcurrentRequests int64 `env:"MAX_CONCURRENT_REQUESTS" default:"0"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// AuthEnabled reports whether the auth gate is active: either a credential
// file is configured or both halves of the env credential pair are present.
func (c *Config) AuthEnabled() bool {
	return c.BasicAuthFile != "" || (c.BasicAuthUser != "" && c.BasicAuthPassword != "")
}

func validate(cfg *Config) error {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		return apperrors.ConfigError(fmt.Sprintf("PORT must be a number between 1 and 65535, got %q", cfg.Port))
	}

	if (cfg.BasicAuthUser == "") != (cfg.BasicAuthPassword == "") {
		return apperrors.ConfigError("BASIC_AUTH_USER and BASIC_AUTH_PASSWORD must be set together")
	}

	if cfg.DocumentRoot == "" {
		return apperrors.ConfigError("DOCUMENT_ROOT must not be empty")
	}
	if cfg.IndexFile == "" {
		return apperrors.ConfigError("INDEX_FILE must not be empty")
	}

	if cfg.ShutdownGrace <= 0 {
		return apperrors.ConfigError("SHUTDOWN_GRACE must be positive")
	}

	if cfg.CacheEnabled {
		if cfg.CacheTTL <= 0 {
			return apperrors.ConfigError("CACHE_TTL must be positive when CACHE_ENABLED is set")
		}
		if cfg.CacheMaxFileSize <= 0 {
			return apperrors.ConfigError("CACHE_MAX_FILE_SIZE must be positive when CACHE_ENABLED is set")
		}
	}

	if cfg.RateLimitRPS < 0 {
		return apperrors.ConfigError("RATE_LIMIT_RPS must not be negative")
	}
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst < 1 {
		return apperrors.ConfigError("RATE_LIMIT_BURST must be at least 1 when rate limiting is enabled")
	}

	if cfg.MaxConcurrentRequests < 0 {
		return apperrors.ConfigError("MAX_CONCURRENT_REQUESTS must not be negative")
	}

	return nil
}
