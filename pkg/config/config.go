// Package config loads gateway settings from the environment and the
// accounts file.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Event sink kinds.
const (
	SinkMemory   = "memory"
	SinkRedis    = "redis"
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
)

// DefaultPort is the loopback port the interaction endpoint listens on.
const DefaultPort = 18790

// Config holds server configuration.
type Config struct {
	Port         int
	BindAddr     string
	LogLevel     string
	AccountsFile string

	EventSink     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisList     string
	RedisMaxLen   int64
	MemoryRetain  int
	DatabaseURL   string
	SQLitePath    string

	OTelEnabled  bool
	OTLPEndpoint string

	RateLimitRPS   int
	RateLimitBurst int
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:         envInt("PORT", DefaultPort),
		BindAddr:     envString("BIND_ADDR", "127.0.0.1"),
		LogLevel:     strings.ToUpper(envString("LOG_LEVEL", "INFO")),
		AccountsFile: envString("ACCOUNTS_FILE", "accounts.yaml"),

		EventSink:     strings.ToLower(envString("EVENT_SINK", SinkMemory)),
		RedisAddr:     envString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		RedisList:     os.Getenv("REDIS_LIST"),
		RedisMaxLen:   int64(envInt("REDIS_MAX_LEN", 0)),
		MemoryRetain:  envInt("MEMORY_SINK_RETAIN", 1024),
		// Default to local generic postgres
		DatabaseURL: envString("DATABASE_URL", "postgres://helm@localhost:5433/helm?sslmode=disable"),
		SQLitePath:  envString("SQLITE_PATH", "helm-gateway.db"),

		OTelEnabled:  os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint: envString("OTLP_ENDPOINT", "localhost:4317"),

		RateLimitRPS:   envInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 40),
	}
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.BindAddr, strconv.Itoa(c.Port))
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}
	switch c.EventSink {
	case SinkMemory, SinkRedis, SinkSQLite, SinkPostgres:
	default:
		return fmt.Errorf("config: unknown EVENT_SINK %q", c.EventSink)
	}
	switch c.LogLevel {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("config: unknown LOG_LEVEL %q", c.LogLevel)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("config: rate limit must be positive")
	}
	return nil
}

func envString(key, def string) string {
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
		return def
	}
	return n
}
