package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/catalogimport/internal/application"
	"github.com/JonMunkholm/catalogimport/internal/config"
	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"media_enabled", cfg.Media.Enabled,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)
	logger.Debug("configuration", "config", cfg.String())

	ctx := context.Background()
	app, err := application.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	logger.Info("schema loaded", "table", app.Schema.Table, "fields", len(app.Schema.Fields))

	service := app.Service
	server := web.NewServer(service, cfg)

	// Background jobs stop when the process begins shutting down.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartSessionSweeper(jobCtx, cfg.Import.SweepInterval)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let running imports finish their batches before the store closes.
		if status := service.LimiterStatus(); status.Active > 0 {
			logger.Info("waiting for runs to complete", "active", status.Active)
			if err := service.WaitForRuns(shutdownCtx); err != nil {
				logger.Warn("runs did not complete in time", "error", err)
			} else {
				logger.Info("all runs completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		cancelJobs()
		return
	}
	<-done
	logger.Info("server stopped")
}
