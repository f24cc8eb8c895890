// Package middleware provides HTTP middleware for gatekeep.
// This file implements structured request logging.
//
// Logged fields: request_id, method, path, query, status, duration,
// duration_ms, client_ip, user_agent, user_id, username, errors.
//
// Log levels: INFO for 2xx/3xx, WARN for 4xx, ERROR for 5xx.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gatekeep/proxy/internal/logger"
)

// StructuredLogger provides structured logging for all requests.
func StructuredLogger() gin.HandlerFunc {
	return StructuredLoggerWithConfigFunc(DefaultStructuredLoggerConfig())
}

// StructuredLoggerConfig allows customization of structured logging.
type StructuredLoggerConfig struct {
	// SkipPaths is a list of paths to skip logging (e.g., health checks)
	SkipPaths []string

	// SkipHealthCheck if true, skips logging for the liveness/readiness endpoints
	SkipHealthCheck bool

	// LogQuery if false, skips logging query parameters (for privacy)
	LogQuery bool

	// LogUserAgent if false, skips logging user agent
	LogUserAgent bool
}

// DefaultStructuredLoggerConfig returns default configuration.
func DefaultStructuredLoggerConfig() StructuredLoggerConfig {
	return StructuredLoggerConfig{
		SkipPaths:       []string{},
		SkipHealthCheck: true,
		LogQuery:        true,
		LogUserAgent:    true,
	}
}

// StructuredLoggerWithConfigFunc creates a structured logger with custom config.
func StructuredLoggerWithConfigFunc(config StructuredLoggerConfig) gin.HandlerFunc {
	skipMap := make(map[string]bool)
	for _, path := range config.SkipPaths {
		skipMap[path] = true
	}
	if config.SkipHealthCheck {
		skipMap["/auth/live"] = true
		skipMap["/auth/ready"] = true
	}

	log := logger.HTTP()

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if skipMap[path] {
			c.Next()
			return
		}

		start := time.Now()
		raw := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}

		event.
			Str("request_id", GetRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Str("duration", duration.String()).
			Int64("duration_ms", duration.Milliseconds()).
			Str("client_ip", c.ClientIP())

		if config.LogQuery && raw != "" {
			event.Str("query", raw)
		}
		if config.LogUserAgent {
			event.Str("user_agent", c.Request.UserAgent())
		}
		if userID, exists := c.Get("user_id"); exists {
			event.Interface("user_id", userID)
		}
		if username, exists := c.Get("username"); exists {
			event.Interface("username", username)
		}
		if len(c.Errors) > 0 {
			event.Str("errors", c.Errors.String())
		}

		event.Msg("request handled")
	}
}
