package cli

import (
	"os"
	"strconv"
	"time"

	"github.com/aussiebroadwan/deadbolt/pkg/deadbolt"
	"github.com/aussiebroadwan/deadbolt/pkg/httpx"
)

type Config struct {
	Endpoint  string                // Deadbolt service address (default: http://localhost:3000/)
	Timeout   time.Duration         // Per-request timeout (default: 10s)
	RateLimit httpx.RateLimitConfig // Client-side throttle (default: off)
	Env       string                // Environment (dev, staging, prod) (default: dev)
	LogLevel  string                // Log level (debug, info, warn, error) (default: warn)
	LogFormat string                // Log format (json, text) (default: text)
}

func LoadConfig() Config {
	return Config{
		Endpoint:  getEnvOrDefault("DEADBOLT_ENDPOINT", deadbolt.DefaultEndpoint),
		Timeout:   getEnvDurationOrDefault("DEADBOLT_TIMEOUT", httpx.DefaultTimeout),
		RateLimit: httpx.ParseRateLimitFromEnv("DEADBOLT", httpx.RateLimitConfig{}),
		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "warn"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
