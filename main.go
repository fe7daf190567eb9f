package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tournevent/courierbridge/internal/config"
	"github.com/tournevent/courierbridge/internal/server"
	"github.com/tournevent/courierbridge/internal/telemetry"
	"github.com/tournevent/courierbridge/pkg/shipping/orchestrator"
	"go.uber.org/zap"
)

var version = "0.1.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "courierbridge",
	Short:   "CourierBridge - multi-carrier shipping rate and booking service",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the rate cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove expired rate-cache entries",
	RunE:  runCacheMaintenance(false),
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every rate-cache entry",
	RunE:  runCacheMaintenance(true),
}

func init() {
	cacheCmd.AddCommand(cachePurgeCmd, cacheClearCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, cacheCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Initialize telemetry
	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tracer, tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
	} else {
		defer tracerShutdown(context.Background())
	}

	st, gormStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := seedProviderConfigs(ctx, cfg, st, logger); err != nil {
		return err
	}

	cache, closeCache, err := openRateCache(ctx, cfg, gormStore, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	metrics := telemetry.NewMetrics(nil)

	orch := orchestrator.New(orchestrator.Config{
		ProviderTimeout:   cfg.ProviderTimeout,
		FallbackProviders: cfg.FallbackProviders,
		Breaker: orchestrator.BreakerConfig{
			MaxFailures: cfg.BreakerMaxFailures,
			OpenTimeout: cfg.BreakerOpenTimeout,
		},
	}, orchestrator.Deps{
		Configs:  st,
		Events:   st,
		Tracking: st,
		Cache:    cache,
		Metrics:  metrics,
		Logger:   logger,
		Tracer:   tracer,
	})

	if err := orch.LoadProviders(ctx, providerFactories(cfg, logger, tracer)); err != nil {
		return fmt.Errorf("loading providers: %w", err)
	}

	if cfg.CacheBackend != config.CacheRedis {
		go runCacheJanitor(ctx, cache, cfg.CacheJanitorInterval, logger)
	}

	logger.Info("Starting CourierBridge",
		zap.Int("port", cfg.Port),
		zap.String("version", cfg.Version),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.Strings("providers", orch.Providers()),
	)

	// Start HTTP server
	srv := server.New(server.Config{Port: cfg.Port}, server.Deps{
		Orchestrator: orch,
		Cache:        cache,
		Events:       st,
		Metrics:      metrics,
		Logger:       logger,
	})
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("migrate: DATABASE_URL is not set")
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if _, _, err := openStore(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("Database schema is up to date")
	return nil
}

func runCacheMaintenance(all bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := initLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		_, gormStore, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		cache, closeCache, err := openRateCache(ctx, cfg, gormStore, logger)
		if err != nil {
			return err
		}
		defer closeCache()

		var removed int
		if all {
			removed, err = cache.Clear(ctx)
		} else {
			removed, err = cache.PurgeExpired(ctx)
		}
		if err != nil {
			return fmt.Errorf("rate cache maintenance: %w", err)
		}

		logger.Info("Rate cache maintained",
			zap.String("backend", cfg.CacheBackend),
			zap.Bool("all", all),
			zap.Int("removed", removed),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", removed)
		return nil
	}
}
