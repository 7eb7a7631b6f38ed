package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/melibackend/offline-inventory/internal/utils"
)

// Config holds configuration for the device-side client process
type Config struct {
	Port        string
	LogLevel    string
	Environment string
	APIKeys     []string

	RemoteAPIURL  string
	RemoteAPIKey  string
	RemoteTimeout time.Duration

	StorageDriver string
	DataDir       string
	SQLitePath    string
	RedisAddr     string
	SeedFile      string

	ActorID                   string
	InitialOnline             bool
	ConnectivityProbeInterval time.Duration
	SyncInterval              time.Duration
	RetryBackoffMin           time.Duration
	RetryBackoffMax           time.Duration

	MetricsExporter string
	MetricsAddr     string
}

// ServerConfig holds configuration for the reference remote backend
type ServerConfig struct {
	Port                       string
	LogLevel                   string
	Environment                string
	APIKeys                    []string
	IdempotencyWindow          time.Duration
	IdempotencyCleanupInterval time.Duration
	DataFile                   string
	MetricsExporter            string
	MetricsAddr                string
}

// LoadConfig loads client configuration from .env file and environment variables
func LoadConfig() *Config {
	loadDotEnv()

	cfg := &Config{
		Port:        getEnvWithDefault("PORT", "8090"),
		LogLevel:    getEnvWithDefault("LOG_LEVEL", "info"),
		Environment: getEnvWithDefault("ENVIRONMENT", "development"),
		APIKeys:     splitList(getEnvWithDefault("API_KEYS", "demo")),

		RemoteAPIURL:  getEnvWithDefault("REMOTE_API_URL", "http://localhost:8081"),
		RemoteAPIKey:  getEnvWithDefault("REMOTE_API_KEY", "demo"),
		RemoteTimeout: getEnvAsDuration("REMOTE_TIMEOUT", 10*time.Second),

		StorageDriver: getEnvWithDefault("STORAGE_DRIVER", "file"),
		DataDir:       getEnvWithDefault("DATA_DIR", "./data"),
		SQLitePath:    getEnvWithDefault("SQLITE_PATH", "./data/local_store.db"),
		RedisAddr:     getEnvWithDefault("REDIS_ADDR", "localhost:6379"),
		SeedFile:      getEnvWithDefault("SEED_FILE", ""),

		ActorID:                   getEnvWithDefault("ACTOR_ID", "device-operator"),
		InitialOnline:             getEnvAsBool("INITIAL_ONLINE", true),
		ConnectivityProbeInterval: getEnvAsDuration("CONNECTIVITY_PROBE_INTERVAL", 15*time.Second),
		SyncInterval:              getEnvAsDuration("SYNC_INTERVAL", time.Minute),
		RetryBackoffMin:           getEnvAsDuration("RETRY_BACKOFF_MIN", 2*time.Second),
		RetryBackoffMax:           getEnvAsDuration("RETRY_BACKOFF_MAX", 2*time.Minute),

		MetricsExporter: getEnvWithDefault("METRICS_EXPORTER", ""),
		MetricsAddr:     getEnvWithDefault("METRICS_ADDR", ":9464"),
	}

	utils.SetupLogging(cfg.LogLevel)

	slog.Info("Configuration loaded",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"log_level", cfg.LogLevel,
		"remote_api_url", cfg.RemoteAPIURL,
		"storage_driver", cfg.StorageDriver,
		"data_dir", cfg.DataDir,
		"initial_online", cfg.InitialOnline,
		"probe_interval", cfg.ConnectivityProbeInterval.String(),
		"sync_interval", cfg.SyncInterval.String(),
		"retry_backoff_min", cfg.RetryBackoffMin.String(),
		"retry_backoff_max", cfg.RetryBackoffMax.String())

	return cfg
}

// LoadServerConfig loads configuration for the reference remote backend
func LoadServerConfig() *ServerConfig {
	loadDotEnv()

	cfg := &ServerConfig{
		Port:                       getEnvWithDefault("PORT", "8081"),
		LogLevel:                   getEnvWithDefault("LOG_LEVEL", "info"),
		Environment:                getEnvWithDefault("ENVIRONMENT", "development"),
		APIKeys:                    splitList(getEnvWithDefault("API_KEYS", "demo")),
		IdempotencyWindow:          getEnvAsDuration("IDEMPOTENCY_WINDOW", 24*time.Hour),
		IdempotencyCleanupInterval: getEnvAsDuration("IDEMPOTENCY_CLEANUP_INTERVAL", time.Minute),
		DataFile:                   getEnvWithDefault("BACKEND_DATA_FILE", "./data/backend_items.json"),
		MetricsExporter:            getEnvWithDefault("METRICS_EXPORTER", ""),
		MetricsAddr:                getEnvWithDefault("METRICS_ADDR", ":9465"),
	}

	utils.SetupLogging(cfg.LogLevel)

	slog.Info("Server configuration loaded",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"log_level", cfg.LogLevel,
		"idempotency_window", cfg.IdempotencyWindow.String(),
		"data_file", cfg.DataFile)

	return cfg
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// loadDotEnv loads .env if present without overriding the real environment
func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("Could not load .env file, continuing with system environment variables only", "error", err)
	}
}

// getEnvWithDefault gets an environment variable with a default fallback
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration, using default", "key", key, "provided", value, "error", err)
		return defaultValue
	}
	return parsed
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		slog.Warn("Invalid boolean, using default", "key", key, "provided", value, "error", err)
		return defaultValue
	}
	return parsed
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
