package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	_ "github.com/wcrm/importd/internal/catalog" // Register import catalogs
	"github.com/wcrm/importd/internal/config"
	"github.com/wcrm/importd/internal/importer"
	"github.com/wcrm/importd/internal/logging"
	"github.com/wcrm/importd/internal/repository"
	"github.com/wcrm/importd/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	// Connect to database
	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		dbName := strings.TrimPrefix(u.Path, "/")
		slog.Info("connected to database", "name", dbName)
	} else {
		slog.Info("connected to database")
	}

	importer.CommitTimeout = cfg.Import.CommitTimeout

	service := importer.NewService(repository.New(pool), importer.ServiceConfig{
		Committer: importer.CommitterConfig{
			ChunkSize:     cfg.Import.ChunkSize,
			ChunkDelay:    cfg.Import.ChunkDelay,
			RowDelay:      cfg.Import.RowDelay,
			RowDelayEvery: cfg.Import.RowDelayEvery,
			RecentWindow:  cfg.Import.RecentWindow,
			ErrorWindow:   cfg.Import.ErrorWindow,
			ETAMinSamples: cfg.Import.ETAMinSamples,
		},
		KeyPageSize:          cfg.Import.KeyPageSize,
		MaxConcurrentCommits: cfg.Import.MaxConcurrent,
		MaxCommitWait:        cfg.Import.MaxWaitTime,
		SessionTTL:           cfg.Import.SessionTTL,
	})

	slog.Info("catalogs registered", "count", len(service.ListCatalogs()))

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active commits to complete (with timeout)
		if err := service.WaitForDrain(shutdownCtx); err != nil {
			slog.Warn("commits did not complete in time", "error", err)
		} else {
			slog.Info("all commits completed")
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(cfg.Server.Addr()); err != nil && err != http.ErrServerClosed {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
