// Package main is the entry point for the WeMine Telegram bot and web app API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/broskiv2/wemine-bot/internal/bot"
	"github.com/broskiv2/wemine-bot/internal/config"
	"github.com/broskiv2/wemine-bot/internal/database"
	"github.com/broskiv2/wemine-bot/internal/logger"
	"github.com/broskiv2/wemine-bot/internal/mining"
	"github.com/broskiv2/wemine-bot/internal/server"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("wemine-bot %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger.SetLevel(cfg.LogLevel)

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	if err := database.SeedPlans(ctx, pool); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to seed mining plans")
	}

	logger.Log.Info().Msg("Database initialized successfully")

	manager := mining.NewManager(pool)

	telegramBot, err := bot.New(cfg, manager)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to create bot")
	}

	api := server.New(cfg.HTTPAddr, manager)
	go func() {
		if err := api.Start(); err != nil {
			logger.Log.Error().Err(err).Msg("HTTP server failed")
			cancel()
		}
	}()

	go runExpirySweep(ctx, manager, cfg.SweepInterval)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Log.Info().Msg("Shutting down...")
		cancel()
	}()

	telegramBot.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}

// runExpirySweep periodically settles mining sessions whose term has ended.
func runExpirySweep(ctx context.Context, manager *mining.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			settled, err := manager.ExpireDueSessions(ctx)
			if err != nil {
				logger.Log.Error().Err(err).Msg("Expiry sweep failed")
				continue
			}
			if settled > 0 {
				logger.Log.Info().Int("sessions", settled).Msg("Settled expired mining sessions")
			}
		}
	}
}
