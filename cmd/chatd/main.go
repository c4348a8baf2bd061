package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"sozuri-connect/internal/api"
	"sozuri-connect/internal/config"
	"sozuri-connect/internal/db"
	"sozuri-connect/internal/logger"
	"sozuri-connect/internal/websocket"
)

func main() {
	// Parse command line flags
	isLoadTest := flag.Bool("loadtest", false, "Run server with load testing configuration")
	configFile := flag.String("config", "", "Optional YAML config file")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		logger.New(logger.Config{Pretty: true}).Fatal().Err(err).Msg("failed to load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{Pretty: true}).Fatal().Err(err).Msg("failed to load configuration")
	}
	if *configFile != "" {
		if err := cfg.ApplyFile(*configFile); err != nil {
			logger.New(logger.Config{Pretty: true}).Fatal().Err(err).Msg("failed to load config file")
		}
	}

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: "chatd",
	})
	log.Info().Msg("starting server")

	// Modify database path for load testing
	if *isLoadTest {
		cwd, err := os.Getwd()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to resolve working directory")
		}
		loadTestDir := filepath.Join(cwd, "loadtest")
		if err := os.MkdirAll(loadTestDir, 0755); err != nil {
			log.Fatal().Err(err).Msg("failed to create loadtest directory")
		}

		loadTestPath := filepath.Join(loadTestDir, "loadtest.db")
		cfg.UpdateDatabasePath(loadTestPath)
		log.Info().Str("path", loadTestPath).Msg("using load testing database")
	}

	database, err := db.NewDB(cfg.CleanDatabasePath(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()
	log.Info().Str("path", cfg.CleanDatabasePath()).Msg("database connection established")

	seeded, err := database.SeedAdmin(cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to seed admin agent")
	}
	if seeded {
		log.Info().Str("email", cfg.AdminEmail).Msg("created admin agent")
	}

	hub := websocket.NewHub(database, log)
	go hub.Run()
	defer hub.Stop()

	handlers := api.NewHandlers(database, hub, cfg.JWTSecret, cfg.AllowedOrigins, log)
	server := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           api.NewRouter(handlers, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ServerAddress).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
