package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the application's configuration values.
type Config struct {
	DatabaseDriver string
	DatabaseURL    string

	TopologyFile string

	SSHUser     string
	SSHPassword string
	SSHPort     int
	LogPath     string

	BandwidthAPIURL   string
	CollectInterval   time.Duration
	BandwidthInterval time.Duration

	HTTPPort      string
	CORSOrigin    string
	ShutdownGrace time.Duration
}

// Load loads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		DatabaseDriver:    getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:       getEnv("DATABASE_URL", "proxywatch.db"),
		TopologyFile:      getEnv("TOPOLOGY_FILE", "topology.json"),
		SSHUser:           getEnv("SSH_USER", "root"),
		SSHPassword:       getEnv("SSH_PASSWORD", ""),
		SSHPort:           getEnvInt("SSH_PORT", 22),
		LogPath:           getEnv("REMOTE_LOG_PATH", "/var/log/nginx/error.log"),
		BandwidthAPIURL:   getEnv("BANDWIDTH_API_URL", ""),
		CollectInterval:   getEnvDuration("COLLECT_INTERVAL", 5*time.Minute),
		BandwidthInterval: getEnvDuration("BANDWIDTH_INTERVAL", 1*time.Minute),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		CORSOrigin:        getEnv("CORS_ORIGIN", "http://localhost:3000"),
		ShutdownGrace:     getEnvDuration("SHUTDOWN_GRACE", 10*time.Second),
	}
}

// Helper function to get an environment variable or return a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// Helper function to get an environment variable as an integer.
func getEnvInt(key string, fallback int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

// Helper function to get an environment variable as a time.Duration.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return fallback
}
