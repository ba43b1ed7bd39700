package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds the process configuration, loaded from environment
// variables with development defaults.
type Config struct {
	Port             string
	RedisAddr        string
	ExecAPIURL       string
	ExecClientID     string
	ExecClientSecret string
	JWTSecret        string
	SnapshotIdleTTL  time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnvOrDefault("PORT", "8080"),
		RedisAddr:        getEnvOrDefault("REDIS_ADDR", "redis:6379"),
		ExecAPIURL:       getEnvOrDefault("EXEC_API_URL", "https://api.jdoodle.com/v1/execute"),
		ExecClientID:     os.Getenv("EXEC_CLIENT_ID"),
		ExecClientSecret: os.Getenv("EXEC_CLIENT_SECRET"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
	}

	ttl := getEnvOrDefault("SNAPSHOT_IDLE_TTL", "10m")
	d, err := time.ParseDuration(ttl)
	if err != nil {
		return nil, fmt.Errorf("invalid SNAPSHOT_IDLE_TTL %q: %w", ttl, err)
	}
	if d <= 0 {
		return nil, fmt.Errorf("SNAPSHOT_IDLE_TTL must be positive, got %q", ttl)
	}
	cfg.SnapshotIdleTTL = d

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
