// Package config loads gatekeep's process configuration from the
// environment, following the same getEnv-helper convention the rest of
// this codebase's teacher lineage uses for its own process bootstrap.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds every environment-sourced setting gatekeep needs at startup.
type Config struct {
	// ProxiedHost is the upstream's host:port. Required — the process
	// fatals at startup without it.
	ProxiedHost string

	// SigningSecret is the HMAC key for the token codec. May be empty;
	// an empty secret is a loud warning, not a startup failure.
	SigningSecret string

	// AllowedHosts is a regex matched full-match against the request
	// Host (port stripped) to gate internal-only routes.
	AllowedHosts string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// WebSocketMode selects the WS handler (true) or the HTTP handler
	// (false) for the catch-all passthrough route.
	WebSocketMode bool

	Port string

	LogLevel  string
	LogPretty bool
}

// Load reads Config from the process environment, applying the same
// defaults the teacher's cmd/main.go applies for optional settings.
func Load() *Config {
	return &Config{
		ProxiedHost:   os.Getenv("PROXIED_HOST"),
		SigningSecret: os.Getenv("SIGNING_SECRET"),
		AllowedHosts:  getEnv("ALLOWED_HOSTS", "^$"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "gatekeep"),
		PostgresUser:     getEnv("POSTGRES_USER", "gatekeep"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		WebSocketMode: getEnvBool("WEBSOCKET_MODE", false),

		Port: getEnv("PORT", "8888"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", false),
	}
}

// Validate performs the spec's one fatal startup check: an upstream host
// is mandatory for proxying to mean anything.
func (c *Config) Validate() error {
	if c.ProxiedHost == "" {
		return fmt.Errorf("PROXIED_HOST is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
