package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/terra-clan/pricing-arena/internal/api"
	"github.com/terra-clan/pricing-arena/internal/arena"
	"github.com/terra-clan/pricing-arena/internal/cache"
	"github.com/terra-clan/pricing-arena/internal/catalog"
	"github.com/terra-clan/pricing-arena/internal/config"
	"github.com/terra-clan/pricing-arena/internal/health"
	"github.com/terra-clan/pricing-arena/internal/pipeline"
	"github.com/terra-clan/pricing-arena/internal/predictors"
	"github.com/terra-clan/pricing-arena/internal/refresh"
	"github.com/terra-clan/pricing-arena/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := setupLogger(os.Stdout, cfg.Log); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting pricing-arena",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
	)

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	defer initCancel()

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	if cfg.Catalog.ExpectedRows > 0 && cat.Len() != cfg.Catalog.ExpectedRows {
		return fmt.Errorf("catalog has %d products, expected %d", cat.Len(), cfg.Catalog.ExpectedRows)
	}

	repo, err := openStore(initCtx, cfg.Store)
	if err != nil {
		return err
	}
	defer repo.Close()
	slog.Info("database connected successfully", "driver", cfg.Store.Driver)

	lc, err := openCache(initCtx, cfg.Redis)
	if err != nil {
		return err
	}
	defer lc.Close()

	evaluator, err := newIsolatedEvaluator(cfg.Predictors)
	if err != nil {
		return err
	}
	manager := arena.New(
		pipeline.New(cat, pipeline.NewIsolatedEstimator(evaluator)),
		repo,
		lc,
		arena.Options{MaxSourceBytes: cfg.Predictors.MaxSourceBytes},
	)

	if err := registerSeeds(initCtx, manager, cfg.Predictors.SeedDir); err != nil {
		return err
	}

	registry := health.NewRegistry(2 * time.Second)
	registry.Register("store", health.CheckFunc(repo.Ping))
	registry.Register("cache", lc)

	server := api.NewServer(cfg.Server, manager, registry)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		refresh.NewRefresher(manager, cfg.Refresh.Interval).Run(gctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("pricing-arena stopped")
	return err
}

// openStore connects the configured repository and applies migrations
func openStore(ctx context.Context, cfg config.StoreConfig) (storage.Repository, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:          cfg.DSN,
			MaxOpenConns: int32(cfg.MaxOpenConns),
			MaxIdleConns: int32(cfg.MaxIdleConns),
			MaxLifetime:  cfg.MaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create database repository: %w", err)
		}
		if err := repo.Migrate(ctx); err != nil {
			repo.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return repo, nil

	case config.DriverSQLite:
		repo, err := storage.NewSQLiteRepository(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return repo, nil

	default:
		return nil, fmt.Errorf("unknown store driver: %q", cfg.Driver)
	}
}

// openCache returns Redis when enabled, otherwise an in-process cache
func openCache(ctx context.Context, cfg config.RedisConfig) (cache.LeaderboardCache, error) {
	if !cfg.Enabled {
		slog.Info("using in-memory leaderboard cache")
		return cache.NewMemoryCache(cfg.TTL), nil
	}

	lc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
		Address:  cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		TTL:      cfg.TTL,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("redis connected successfully", "address", cfg.Address)
	return lc, nil
}

// registerSeeds registers the seed predictors found in dir. Seeds whose
// source is already stored are left alone so their revision is stable.
func registerSeeds(ctx context.Context, manager arena.Manager, dir string) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		slog.Info("no seed predictor directory", "dir", dir)
		return nil
	}

	loader := predictors.NewLoader()
	if err := loader.LoadFromDir(dir); err != nil {
		return err
	}

	for _, seed := range loader.List() {
		existing, err := manager.GetPredictor(ctx, seed.Username)
		if err == nil && existing.Source == seed.Source {
			continue
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to check seed %s: %w", seed.Username, err)
		}

		if _, err := manager.RegisterPredictor(ctx, seed.Username, seed.Source); err != nil {
			slog.Warn("seed predictor rejected", "owner", seed.Username, "file", seed.File, "error", err)
		}
	}
	return nil
}
