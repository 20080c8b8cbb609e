package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted in STORE_DRIVER.
const (
	StoreDriverMemory   = "memory"
	StoreDriverRedis    = "redis"
	StoreDriverPostgres = "postgres"
)

// Config holds all agent configuration.
type Config struct {
	ServerPort string
	GinMode    string
	LogLevel   string
	LogFormat  string

	// BackendURL is the base URL of the upstream ExStem API that serves
	// group test metadata and accepts submissions.
	BackendURL     string
	BackendToken   string
	BackendTimeout time.Duration
	SubmitTimeout  time.Duration

	StoreDriver string
	RedisURL    string
	// StateTTL is how long a Redis state entry outlives its attempt's end
	// timestamp. Zero keeps entries until submission or retake clears them.
	StateTTL    time.Duration
	DatabaseURL string
	MaxDBConns  int32

	// MonitorEnabled publishes phase events to the proctor monitor channel
	// and, with Postgres configured, persists them through the event worker.
	MonitorEnabled bool

	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8090"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "auto"),
		BackendURL:     strings.TrimRight(getEnv("BACKEND_URL", "http://localhost:8080/api/v1"), "/"),
		BackendToken:   getEnv("BACKEND_TOKEN", ""),
		BackendTimeout: time.Duration(getEnvInt("BACKEND_TIMEOUT_SECONDS", 10)) * time.Second,
		SubmitTimeout:  time.Duration(getEnvInt("SUBMIT_TIMEOUT_SECONDS", 30)) * time.Second,
		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", StoreDriverRedis)),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		StateTTL:       time.Duration(getEnvInt("STATE_TTL_HOURS", 0)) * time.Hour,
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		MaxDBConns:     int32(getEnvInt("MAX_DB_CONNS", 4)),
		MonitorEnabled: getEnvBool("MONITOR_ENABLED", false),
		AllowedOrigins: parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
	}
}

// Validate rejects settings the agent cannot run with. The memory store loses
// held answers on restart, so it is only accepted in debug mode.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverRedis, StoreDriverPostgres:
	case StoreDriverMemory:
		if c.GinMode != "debug" {
			return fmt.Errorf("STORE_DRIVER=%s is only allowed with GIN_MODE=debug", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.StoreDriver == StoreDriverPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for STORE_DRIVER=%s", c.StoreDriver)
	}
	if c.StateTTL < 0 {
		return fmt.Errorf("STATE_TTL_HOURS must not be negative")
	}
	return nil
}

// NeedsRedis reports whether any configured component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.StoreDriver == StoreDriverRedis || c.MonitorEnabled
}

// NeedsPostgres reports whether any configured component talks to PostgreSQL.
func (c *Config) NeedsPostgres() bool {
	return c.StoreDriver == StoreDriverPostgres || (c.MonitorEnabled && c.DatabaseURL != "")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
