package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/clubops/training-ops/internal/cache"
	"github.com/clubops/training-ops/internal/config"
	"github.com/clubops/training-ops/internal/database"
	"github.com/clubops/training-ops/internal/handler"
	"github.com/clubops/training-ops/internal/logger"
	"github.com/clubops/training-ops/internal/queue"
	"github.com/clubops/training-ops/internal/repository"
	"github.com/clubops/training-ops/internal/router"
)

func main() {
	// Missing .env is fine; containers inject the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.Init(logger.Options{Level: cfg.LogLevel, Pretty: cfg.Env == "dev"})

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer func() { _ = db.Close() }()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn().Msg("redis unavailable, stats cache disabled")
	} else {
		defer func() { _ = rdb.Close() }()
	}
	statsCache := cache.New(rdb, cfg.CacheTTL)

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	cycles := repository.NewCycleRepo(db)
	leads := repository.NewLeadRepo(db)

	authHandler := handler.NewAuthHandler(users, tokens, cfg)
	cycleHandler := handler.NewCycleHandler(cycles, statsCache)
	leadHandler := handler.NewLeadHandler(leads, statsCache)

	go queue.StartNotificationConsumer()

	e := router.New(cfg, authHandler, cycleHandler, leadHandler)

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
