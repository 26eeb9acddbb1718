// Package config reads configuration from the environment, loading a
// .env file first when one exists.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// Database configuration
	DatabasePath string

	// Upload endpoint bearer token. Empty disables upload auth.
	UploadToken string

	// Strava API configuration
	StravaClientID      string
	StravaClientSecret  string
	StravaWebhookSecret string

	// Logging configuration
	LogLevel string
}

// Load reads configuration from environment variables. Strava values
// are optional here; ValidateStrava enforces them when the Strava
// routes are enabled.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := &Config{
		Host:         getEnv("HOST", "127.0.0.1"),
		Port:         getEnvInt("PORT", 8080),
		DatabasePath: getEnv("DATABASE_PATH", "./hotpot.sqlite3"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		UploadToken:         os.Getenv("HOTPOT_UPLOAD_TOKEN"),
		StravaClientID:      os.Getenv("STRAVA_CLIENT_ID"),
		StravaClientSecret:  os.Getenv("STRAVA_CLIENT_SECRET"),
		StravaWebhookSecret: os.Getenv("STRAVA_WEBHOOK_SECRET"),
	}

	return cfg, nil
}

// ValidateStrava fails fast when Strava routes are enabled without
// the required credentials.
func (c *Config) ValidateStrava() error {
	var missing []string
	if c.StravaClientID == "" {
		missing = append(missing, "STRAVA_CLIENT_ID")
	}
	if c.StravaClientSecret == "" {
		missing = append(missing, "STRAVA_CLIENT_SECRET")
	}
	if c.StravaWebhookSecret == "" {
		missing = append(missing, "STRAVA_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
