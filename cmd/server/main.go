package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gorilla "github.com/gorilla/handlers"

	"github.com/lucaresi/stima/api"
	dbfs "github.com/lucaresi/stima/db"
	"github.com/lucaresi/stima/internal/ai"
	"github.com/lucaresi/stima/internal/config"
	"github.com/lucaresi/stima/internal/db"
	"github.com/lucaresi/stima/internal/enrich"
	"github.com/lucaresi/stima/internal/estimator"
	"github.com/lucaresi/stima/internal/repository/sqlite"
	"github.com/lucaresi/stima/internal/saves"
	"github.com/lucaresi/stima/pkg/llm"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var configPath = flag.String("config", "", "Path to config YAML file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	// one logger for every package that logs
	api.SetLogger(logger)
	llm.SetLogger(logger)
	ai.SetLogger(logger)
	enrich.SetLogger(logger)
	estimator.SetLogger(logger)
	saves.SetLogger(logger)

	logger.Info("starting stima server", "version", version, "build_time", buildTime, "provider", cfg.LLM.Provider)

	ctx := context.Background()

	conn, err := db.New(ctx, cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open db", "err", err)
		os.Exit(1)
	}

	if err := db.Migrate(ctx, conn, dbfs.Migrations, dbfs.SeedFiles); err != nil {
		logger.Error("failed to run migrations", "err", err)
		os.Exit(1)
	}

	repo := sqlite.New(conn, logger)

	provider, err := llm.NewProvider(cfg.LLM, nil)
	if err != nil {
		logger.Error("failed to build llm provider", "err", err)
		os.Exit(1)
	}

	loader, err := ai.NewLoader(ctx, repo)
	if err != nil {
		logger.Error("failed to load estimate schemas", "err", err)
		os.Exit(1)
	}

	engine, err := ai.NewEngine(provider, loader, ai.EngineConfig{MaxTokens: cfg.LLM.MaxTokens})
	if err != nil {
		logger.Error("failed to build ai engine", "err", err)
		os.Exit(1)
	}

	github := enrich.NewClient(cfg.GitHub.Token, &http.Client{Timeout: cfg.GitHub.Timeout})

	orc, err := estimator.New(engine, github, repo, estimator.Config{
		Rate:      cfg.Estimator.MandayRate,
		Currency:  cfg.Estimator.Currency,
		Workers:   cfg.Estimator.Workers,
		QueueSize: cfg.Estimator.QueueSize,
		JobTTL:    cfg.Estimator.JobTTL,
	})
	if err != nil {
		logger.Error("failed to build orchestrator", "err", err)
		os.Exit(1)
	}

	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()
	orc.Start(runCtx)

	mgr, err := saves.NewManager(repo, orc)
	if err != nil {
		logger.Error("failed to build save manager", "err", err)
		os.Exit(1)
	}

	router := api.SetupRoutes(cfg, version, buildTime, conn, orc, mgr)

	// CORS and compression wrap the whole router
	handler := gorilla.CORS(
		gorilla.AllowedOrigins([]string{"*"}),
		gorilla.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorilla.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(gorilla.CompressHandler(router))

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.APITimeout,
		WriteTimeout: cfg.APITimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "err", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "err", err)
	}

	// stop accepting runs, abort in-flight model calls, drain the pool
	cancelRuns()
	orc.Stop()

	if err := conn.Close(); err != nil {
		logger.Error("error closing db", "err", err)
	}

	logger.Info("server exited")
}
