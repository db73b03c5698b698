package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/terra-clan/tanda-engine/internal/api"
	"github.com/terra-clan/tanda-engine/internal/config"
	"github.com/terra-clan/tanda-engine/internal/flow"
	"github.com/terra-clan/tanda-engine/internal/models"
	"github.com/terra-clan/tanda-engine/internal/notify"
	"github.com/terra-clan/tanda-engine/internal/profiles"
	"github.com/terra-clan/tanda-engine/internal/reconcile"
	"github.com/terra-clan/tanda-engine/internal/services"
	"github.com/terra-clan/tanda-engine/internal/storage"
	"github.com/terra-clan/tanda-engine/internal/tanda"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("starting tanda-engine",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Backend,
		"notify", cfg.Notify.Backend,
	)

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	repo, err := openRepository(initCtx, cfg)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	notifier, err := openNotifier(initCtx, cfg, logger)
	if err != nil {
		slog.Error("failed to open notifier", "error", err)
		os.Exit(1)
	}
	defer notifier.Close()

	store := storage.NewNotifying(repo, notifier, logger)

	// Readiness dependencies
	registry := services.NewRegistry()
	registry.Register("storage", services.ProviderFunc(repo.Ping))
	registry.Register("notify", notifier)

	// Load competition profiles
	profileLoader := profiles.NewLoader()
	if err := profileLoader.LoadFromDir(cfg.Profiles.Dir); err != nil {
		slog.Warn("failed to load profiles from dir", "dir", cfg.Profiles.Dir, "error", err)
	}

	flowService := flow.NewService(store, profileLoader, logger)

	players := tanda.NewManager(store, notifier, flowService, logger,
		tanda.WithMinimumScore(cfg.Tanda.MinimumScore),
	)
	if err := players.Resume(initCtx); err != nil {
		slog.Error("failed to resume tanda players", "error", err)
	}

	// Context for background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconciler := reconcile.NewReconciler(store, flowService, reconcile.Config{
		Interval: cfg.Reconcile.Interval,
		Workers:  cfg.Reconcile.Workers,
		Players:  players,
	}, logger)
	reconciler.Start(ctx)

	// Setup HTTP server
	server := api.NewServer(cfg.Server, api.Dependencies{
		Repo:         store,
		Players:      players,
		Scorer:       tanda.NewScorer(store, logger),
		Flow:         flowService,
		Profiles:     profileLoader,
		Subscriber:   notifier,
		Registry:     registry,
		TickInterval: cfg.Tanda.TickInterval,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
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
	reconciler.Stop()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	players.Close()

	slog.Info("tanda-engine stopped")
}

func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, error) {
	if cfg.Storage.Backend == "memory" {
		repo := storage.NewMemoryRepository()
		if key := cfg.Server.BootstrapAPIKey; key != "" {
			repo.AddClient(&models.ApiClient{
				ID:          1,
				Name:        "bootstrap",
				ApiKey:      key,
				IsActive:    true,
				CreatedAt:   time.Now(),
				Permissions: []string{"*"},
			})
		}
		slog.Warn("using in-memory storage, state is lost on restart")
		return repo, nil
	}

	// Run database migrations
	slog.Info("running database migrations", "dir", cfg.Database.MigrationsDir)
	if err := storage.MigrateFromDSN(ctx, cfg.Database.DSN, cfg.Database.MigrationsDir); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
		DSN:          cfg.Database.DSN,
		MaxOpenConns: int32(cfg.Database.MaxOpenConns),
		MaxIdleConns: int32(cfg.Database.MaxIdleConns),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create database repository: %w", err)
	}
	slog.Info("database connected successfully")
	return repo, nil
}

func openNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	switch cfg.Notify.Backend {
	case "redis":
		n, err := notify.NewRedisNotifier(ctx, notify.RedisConfig{
			Address:       cfg.Redis.Address,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			ChannelPrefix: cfg.Redis.ChannelPrefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		return n, nil
	case "postgres":
		n, err := notify.NewPGNotifier(cfg.Database.DSN, logger)
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		return notify.NewHub(), nil
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
