// Package config loads application configuration from environment variables.
package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Development-only signing secrets. Load refuses to fall back to these when
// APP_ENV is "prod".
const (
	devAccessSecret  = "dev_access_secret_change_this"
	devRefreshSecret = "dev_refresh_secret_change_this"
)

// Config holds all runtime configuration. Handles built from it (DB pool,
// redis client) are constructed once in main and injected downward; nothing
// reads the environment after startup.
type Config struct {
	Env  string // application environment: dev, test, prod
	Port string // HTTP port to listen on

	DBUser string
	DBPass string // optional
	DBHost string
	DBPort string
	DBName string

	AccessSecret  string        // signs access tokens
	RefreshSecret string        // signs renewable tokens; independent key space
	AccessTTL     time.Duration // access token lifetime (~1h)
	RefreshTTL    time.Duration // renewable token lifetime (~7d)
	BcryptCost    int

	CacheTTL time.Duration // TTL for cached stats aggregates
	LogLevel string
}

// Load reads configuration from the environment. Database coordinates are
// required; signing secrets fall back to documented dev defaults outside of
// production and are fatal when missing in production.
func Load() Config {
	cfg := Config{
		Env:           getenv("APP_ENV", "dev"),
		Port:          getenv("APP_PORT", "8080"),
		DBUser:        must("DB_USER"),
		DBPass:        os.Getenv("DB_PASS"),
		DBHost:        must("DB_HOST"),
		DBPort:        must("DB_PORT"),
		DBName:        must("DB_NAME"),
		AccessSecret:  os.Getenv("JWT_ACCESS_SECRET"),
		RefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),
		AccessTTL:     time.Duration(envInt("ACCESS_TOKEN_TTL_MIN", 60)) * time.Minute,
		RefreshTTL:    time.Duration(envInt("REFRESH_TOKEN_TTL_DAYS", 7)) * 24 * time.Hour,
		BcryptCost:    envInt("BCRYPT_COST", 10),
		CacheTTL:      time.Duration(envInt("CACHE_TTL_SECONDS", 60)) * time.Second,
		LogLevel:      getenv("LOG_LEVEL", "info"),
	}

	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		if cfg.Env == "prod" {
			log.Fatal("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required in prod")
		}
		if cfg.AccessSecret == "" {
			cfg.AccessSecret = devAccessSecret
		}
		if cfg.RefreshSecret == "" {
			cfg.RefreshSecret = devRefreshSecret
		}
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		log.Fatal("access and refresh secrets must differ")
	}
	return cfg
}

// must retrieves a required environment variable or exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, v)
	}
	return n
}
