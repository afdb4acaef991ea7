// Package main provides the maigret-api HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/maigret-api/internal/catalog"
	"github.com/raphaelgruber/maigret-api/internal/config"
	"github.com/raphaelgruber/maigret-api/internal/db"
	"github.com/raphaelgruber/maigret-api/internal/metrics"
	"github.com/raphaelgruber/maigret-api/internal/notifier"
	"github.com/raphaelgruber/maigret-api/internal/runner"
	"github.com/raphaelgruber/maigret-api/internal/server"
	"github.com/raphaelgruber/maigret-api/internal/service"
	"github.com/raphaelgruber/maigret-api/internal/store"
	"go.uber.org/automaxprocs/maxprocs"
)

const version = "0.1.0"

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe stored sessions on startup (surrealdb backend, testing only)")
	flag.Parse()

	_, _ = maxprocs.Set()

	cfg := config.Load()

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = cleanup() }()
	slog.SetDefault(logger)

	logger.Info("maigret-api starting",
		"version", version,
		"addr", cfg.Addr,
		"store", cfg.Store,
		"tool", cfg.ToolPath,
	)

	if err := run(cfg, logger, *wipeDB); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg config.Config, logger *slog.Logger, wipe bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		return err
	}

	startupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	persister, err := openPersister(startupCtx, cfg, logger, wipe)
	cancel()
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	st := store.New(persister, logger, store.WithMetrics(collector))
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close session store", "error", err)
		}
	}()

	if err := st.Load(ctx); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	n := notifier.New(notifier.DefaultBuffer, logger)
	r := runner.New(runner.Config{
		ToolPath:       cfg.ToolPath,
		ToolArgs:       cfg.ToolArgs,
		WorkDir:        cfg.WorkDir,
		ReportsDir:     cfg.ReportsDir,
		Env:            cfg.ToolEnv,
		TimeoutFloor:   cfg.TimeoutFloor,
		UpdateInterval: cfg.UpdateInterval,
	}, st, n, logger, runner.WithMetrics(collector))

	sup := service.NewSupervisor(st, r, logger)
	sup.RecoverInterrupted(ctx)

	srv := server.New(server.Config{
		Addr:        cfg.Addr,
		CORSOrigins: cfg.CORSOrigins,
		ToolPath:    cfg.ToolPath,
	}, server.Deps{
		Supervisor: sup,
		Notifier:   n,
		Catalog:    cat,
		Metrics:    collector,
	}, logger)

	if err := srv.Start(ctx); err != nil {
		return err
	}

	// Running searches keep going until the process exits; give them a
	// moment to reach a terminal state first.
	waitCtx, cancelWait := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelWait()
	if err := sup.Wait(waitCtx); err != nil {
		logger.Warn("searches still running at shutdown", "error", err)
	}
	return nil
}

// openPersister builds the durable backend selected by MAIGRET_STORE.
func openPersister(ctx context.Context, cfg config.Config, logger *slog.Logger, wipe bool) (store.Persister, error) {
	switch cfg.Store {
	case config.StoreFile:
		logger.Info("using file session store", "path", cfg.SessionsFile)
		return store.NewFilePersister(cfg.SessionsFile), nil

	case config.StoreSQLite:
		logger.Info("using sqlite session store", "path", cfg.SQLitePath)
		p, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return p, nil

	case config.StoreSurrealDB:
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		p, err := db.NewSnapshotPersister(ctx, client)
		if err != nil {
			_ = client.Close(context.Background())
			return nil, err
		}
		if wipe || os.Getenv("MAIGRET_WIPE_DB") == "true" {
			if err := client.WipeData(ctx); err != nil {
				_ = p.Close()
				return nil, fmt.Errorf("wipe database: %w", err)
			}
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown session store %q (want file, sqlite or surrealdb)", cfg.Store)
	}
}
