package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/whisper/internal/api"
	"github.com/eldtechnologies/whisper/internal/config"
	"github.com/eldtechnologies/whisper/internal/presence"
	"github.com/eldtechnologies/whisper/internal/relay"
	"github.com/eldtechnologies/whisper/internal/session"
	"github.com/eldtechnologies/whisper/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize the datastore: MongoDB when configured, SQLite otherwise
	var db store.DataStore
	if cfg.MongoURL != "" {
		mongoStore, err := store.NewMongoStore(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			logger.Fatal().Err(err).Msg("mongodb connection failed")
		}
		db = mongoStore
		logger.Info().Str("database", cfg.MongoDatabase).Msg("connected to MongoDB")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		db = sqliteStore
		logger.Warn().Str("path", cfg.SQLitePath).Msg("MONGO_URL not set, using SQLite")
	}
	defer db.Close()

	// Initialize Redis store
	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required for sessions and rate limiting")
	}
	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisStore.Close()
	logger.Info().Msg("connected to Redis")

	sessions := session.NewManager(redisStore, session.Options{
		Secret: cfg.SessionSecret,
		TTL:    cfg.SessionTTL,
		Secure: cfg.CookieSecure,
	}, logger)
	online := presence.NewRegistry(db, logger)

	opts := relay.DefaultOptions()
	opts.AllowedOrigins = cfg.AllowedOrigins
	socket := relay.New(sessions, db, online, logger.With().Str("component", "relay").Logger(), opts)

	// Create router
	router := api.NewRouter(cfg, logger, api.Deps{
		DB:       db,
		Redis:    redisStore,
		Sessions: sessions,
		Presence: online,
		Socket:   socket,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting Whisper server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	// Sockets are hijacked, so http.Server.Shutdown does not see them.
	if err := socket.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("socket relay did not drain in time")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
