package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/catalogimport/internal/application"
	"github.com/JonMunkholm/catalogimport/internal/config"
	"github.com/JonMunkholm/catalogimport/internal/logging"
)

type globalOptions struct {
	envFile string
	driver  string
	dbURL   string
}

// loadConfig reads the environment, applies flag overrides and validates.
// Logs go to stderr so stdout carries only the report.
func loadConfig(g *globalOptions) (*config.Config, *slog.Logger, error) {
	if g.envFile != "" {
		if err := godotenv.Load(g.envFile); err != nil {
			return nil, nil, withCode(exitUsage, fmt.Errorf("load %s: %w", g.envFile, err))
		}
	} else {
		_ = godotenv.Load()
	}
	if g.driver != "" {
		os.Setenv("DB_DRIVER", g.driver)
	}
	if g.dbURL != "" {
		os.Setenv("DATABASE_URL", g.dbURL)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, withCode(exitUsage, err)
	}
	logger := logging.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	return cfg, logger, nil
}

func openApp(ctx context.Context, g *globalOptions) (*application.App, *slog.Logger, error) {
	cfg, logger, err := loadConfig(g)
	if err != nil {
		return nil, nil, err
	}
	app, err := application.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, withCode(exitStore, err)
	}
	return app, logger, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
