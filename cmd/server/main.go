package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gatekeep/proxy/internal/admin"
	"github.com/gatekeep/proxy/internal/apperr"
	"github.com/gatekeep/proxy/internal/authgate"
	"github.com/gatekeep/proxy/internal/cache"
	"github.com/gatekeep/proxy/internal/config"
	"github.com/gatekeep/proxy/internal/logger"
	"github.com/gatekeep/proxy/internal/middleware"
	"github.com/gatekeep/proxy/internal/proxy"
	"github.com/gatekeep/proxy/internal/session"
	"github.com/gatekeep/proxy/internal/store"
	"github.com/gatekeep/proxy/internal/token"
)

func main() {
	cfg := config.Load()
	logger.Initialize(cfg.LogLevel, cfg.LogPretty)

	if err := cfg.Validate(); err != nil {
		logger.GetLogger().Fatal().Err(err).Msg("invalid configuration")
	}

	db, err := store.NewDatabase(store.Config{
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPassword,
		DBName:   cfg.PostgresDB,
		SSLMode:  cfg.PostgresSSLMode,
	})
	if err != nil {
		logger.GetLogger().Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		logger.GetLogger().Fatal().Err(err).Msg("failed to migrate user store schema")
	}

	redisCache, err := cache.NewCache(cache.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Enabled:  true,
	})
	if err != nil {
		logger.GetLogger().Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisCache.Close()

	users := store.NewUserStore(db)
	sessions := session.New(redisCache)
	codec := token.NewCodec(cfg.SigningSecret)

	gate, err := authgate.New(sessions, codec, cfg.AllowedHosts)
	if err != nil {
		logger.GetLogger().Fatal().Err(err).Msg("invalid ALLOWED_HOSTS pattern")
	}

	adminHandler := admin.New(users, sessions, codec)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(apperr.Recovery())
	router.Use(middleware.StructuredLogger())
	router.Use(middleware.Timeout(middleware.DefaultTimeoutConfig()))
	router.Use(middleware.DefaultSizeLimiter())
	router.Use(apperr.ErrorHandler())

	adminHandler.RegisterRoutes(router, authgate.Public(), gate.Bearer(), gate.InternalOnly())

	if cfg.WebSocketMode {
		// The WebSocket proxy authenticates off the first client frame
		// itself (see internal/proxy/websocket.go), not gin middleware,
		// since gorilla hijacks the connection before gin's handler
		// chain would otherwise get a chance to run per-message checks.
		wsHandler := proxy.NewWebSocketHandler(cfg.ProxiedHost, gate)
		router.NoRoute(func(c *gin.Context) {
			wsHandler.ServeHTTP(c.Writer, c.Request)
		})
	} else {
		httpHandler := proxy.NewHTTPHandler(cfg.ProxiedHost)
		router.NoRoute(gate.Bearer(), httpHandler.ServeHTTP)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.GetLogger().Info().Str("port", cfg.Port).Msg("gatekeep listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.GetLogger().Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.GetLogger().Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.GetLogger().Error().Err(err).Msg("server forced to shutdown")
	}
}
