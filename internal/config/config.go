// Package config provides process configuration and strategy profiles.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	DataDir        string // Base directory for databases and artifacts (always absolute)
	ProfileDir     string // Directory containing strategy profile YAML files
	Port           int
	DevMode        bool
	LogLevel       string
	VenueURL       string // Execution venue adapter base URL
	VenueStreamURL string // Execution venue websocket fill stream (optional)
	S3Bucket       string // Optional bucket for artifact snapshots; empty disables uploads
	S3Region       string
}

// Load reads configuration from environment variables (.env supported).
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("ACIS_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:        absDataDir,
		ProfileDir:     getEnv("ACIS_PROFILE_DIR", filepath.Join(absDataDir, "profiles")),
		Port:           getEnvAsInt("ACIS_PORT", 8010),
		DevMode:        getEnvAsBool("DEV_MODE", false),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		VenueURL:       getEnv("VENUE_URL", "http://localhost:9100"),
		VenueStreamURL: getEnv("VENUE_STREAM_URL", ""),
		S3Bucket:       getEnv("ARTIFACT_S3_BUCKET", ""),
		S3Region:       getEnv("ARTIFACT_S3_REGION", "us-east-1"),
	}

	return cfg, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
