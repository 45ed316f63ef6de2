// Package config provides environment-based configuration.
//
// Loads from .env file (godotenv), maps to Config struct via go-simpler/env struct tags.
// Validates the listen port, the auth credential pair, and the cache/limiter tuning;
// the result is immutable, so any configuration change requires a restart.
package config
