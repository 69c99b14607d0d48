package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/terra-clan/assessment-engine/internal/api"
	"github.com/terra-clan/assessment-engine/internal/cleanup"
	"github.com/terra-clan/assessment-engine/internal/config"
	"github.com/terra-clan/assessment-engine/internal/definitions"
	"github.com/terra-clan/assessment-engine/internal/flow"
	"github.com/terra-clan/assessment-engine/internal/scoring"
	"github.com/terra-clan/assessment-engine/internal/services"
	"github.com/terra-clan/assessment-engine/internal/storage"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	slog.Info("starting assessment-engine",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"log_level", cfg.LogLevel,
	)

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	// Run database migrations
	slog.Info("running database migrations", "dir", cfg.Database.MigrationsDir)
	applied, err := storage.MigrateFromDSN(initCtx, cfg.Database.DSN, cfg.Database.MigrationsDir)
	if err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("migrations complete", "applied", len(applied))

	// Initialize database repository
	repo, err := storage.NewPostgresRepository(initCtx, storage.PostgresConfig{
		DSN:          cfg.Database.DSN,
		MaxOpenConns: int32(cfg.Database.MaxOpenConns),
		MaxIdleConns: int32(cfg.Database.MaxIdleConns),
	})
	if err != nil {
		slog.Error("failed to create database repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("database connected successfully")

	// Readiness probes
	probes := services.NewRegistry()

	postgresProbe, err := services.NewPostgresProbe(cfg.Database.DSN)
	if err != nil {
		slog.Error("failed to create postgres probe", "error", err)
		os.Exit(1)
	}
	defer postgresProbe.Close()
	probes.Register(postgresProbe)

	// Session locks: Redis when enabled, in-process otherwise
	var locker services.SessionLocker = services.NewLocalLocker()
	if cfg.Redis.Enabled {
		redisClient, err := services.NewRedisClient(initCtx, services.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()

		locker = services.NewRedisLocker(redisClient, cfg.Redis.LockTTL)
		probes.Register(services.NewRedisProbe(redisClient))
		slog.Info("redis session locks enabled", "address", cfg.Redis.Address, "ttl", cfg.Redis.LockTTL)
	} else {
		slog.Warn("redis disabled, using in-process session locks; run a single instance only")
	}

	// Load questionnaire definitions
	defs := definitions.NewService(repo)
	if _, err := definitions.NewLoader(defs).LoadFromDir(initCtx, cfg.Definitions.Dir); err != nil {
		slog.Warn("failed to load definitions from dir", "dir", cfg.Definitions.Dir, "error", err)
	}

	// Without an active screening definition no session can start
	probes.RegisterOptional(services.NewProbeFunc("definitions", func(ctx context.Context) error {
		_, err := defs.LatestActive(ctx, scoring.TypeScreening)
		return err
	}))

	// Initialize assessment engine
	registry := scoring.DefaultRegistry()
	slog.Info("score calculators registered", "types", registry.Types())
	engine := flow.NewOrchestrator(repo, defs, repo, registry, locker)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start cleanup worker
	if cfg.Cleanup.StaleAfter > 0 {
		cleanup.NewCleaner(engine, cfg.Cleanup.Interval, cfg.Cleanup.StaleAfter).Start(ctx)
	} else {
		slog.Info("stale session cleanup disabled")
	}

	// Setup HTTP server
	server := api.NewServer(cfg.Server, engine, defs, repo, probes)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gracefully...")

	// Cancel context to stop background workers
	cancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("assessment-engine stopped")
}
