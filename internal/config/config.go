package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	Env           string
	ListenAddr    string
	DatabaseURL   string
	PolicyFile    string
	LogLevel      string
	SweepInterval time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Load reads the environment. A missing DATABASE_URL is not fatal; the
// caller may fall back to the in-memory adapters for local runs.
func Load() (Config, error) {
	cfg := Config{
		Env:           getenv("APP_ENV", "development"),
		ListenAddr:    getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		PolicyFile:    os.Getenv("POLICY_FILE"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		SweepInterval: getenvDuration("SWEEP_INTERVAL", time.Second),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL not set")
	}
	return cfg, nil
}
