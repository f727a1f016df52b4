package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ame2e/mlsgov/internal/authsvc"
	"github.com/ame2e/mlsgov/internal/config"
	"github.com/ame2e/mlsgov/internal/storage"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Authentication Service stopped")
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the service config.yaml")
	flag.Parse()

	cfg, err := config.LoadServiceConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	paths := storage.Paths{Root: cfg.StateDir}
	if err := paths.EnsureDir(); err != nil {
		return fmt.Errorf("prepare state dir: %w", err)
	}

	dir := authsvc.NewDirectory(paths)
	svc := authsvc.NewService(dir, log.Logger)
	app := authsvc.NewServer(svc)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("Shutting down Authentication Service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Authentication Service shutdown error")
		}
	}()

	log.Info().Str("addr", cfg.Listen).Str("state_dir", cfg.StateDir).Msg("Authentication Service listening")
	if err := app.Listen(cfg.Listen, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
