// Package application assembles the importer from configuration: the
// relational store, the object store, the media pipeline and the service
// that drives import sessions. The HTTP server and the command line tool
// share it.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/catalogimport/internal/config"
	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/media"
	"github.com/JonMunkholm/catalogimport/internal/objectstore"
	"github.com/JonMunkholm/catalogimport/internal/schema"
	"github.com/JonMunkholm/catalogimport/internal/store"
)

// App holds the wired components. Close releases them.
type App struct {
	Config  *config.Config
	Schema  *schema.Schema
	Store   store.Store
	Objects objectstore.Store
	Service *core.Service

	closeStore func()
}

// New connects the store, creates the catalog tables when the backend
// supports it and builds the service.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	sc, err := loadSchema(cfg.Schema.File)
	if err != nil {
		return nil, err
	}

	st, closeStore, err := store.Open(ctx, store.Options{
		Driver:          cfg.Database.Driver,
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if m, ok := st.(store.Migrator); ok {
		tables := store.CatalogTables(sc)
		if err := m.Migrate(ctx, tables); err != nil {
			closeStore()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
		log.Info("store ready", "driver", cfg.Database.Driver, "tables", len(tables))
	}

	objects, err := openObjects(cfg.Storage)
	if err != nil {
		closeStore()
		return nil, err
	}

	var pipeline *media.Pipeline
	if cfg.Media.Enabled {
		pipeline = media.NewPipeline(mediaConfig(cfg.Media), objects, &http.Client{}, log.With("component", "media"))
		log.Info("media resolution enabled",
			"relays", len(cfg.Media.Relays),
			"placeholder", cfg.Media.PlaceholderEnabled,
			"content_api_domains", len(cfg.Media.ContentAPIDomains),
		)
	}

	svc := core.NewService(st, sc, pipeline, serviceConfig(cfg.Import), log)

	return &App{
		Config:     cfg,
		Schema:     sc,
		Store:      st,
		Objects:    objects,
		Service:    svc,
		closeStore: closeStore,
	}, nil
}

// Close releases the store connection.
func (a *App) Close() {
	if a.closeStore != nil {
		a.closeStore()
	}
}

func loadSchema(path string) (*schema.Schema, error) {
	if path == "" {
		return schema.Default(), nil
	}
	sc, err := schema.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", path, err)
	}
	return sc, nil
}

// openObjects uses the filesystem when a directory is configured and keeps
// objects in memory otherwise.
func openObjects(cfg config.StorageConfig) (objectstore.Store, error) {
	if cfg.Dir == "" {
		return objectstore.NewMemory(cfg.PublicBaseURL), nil
	}
	fs, err := objectstore.NewFilesystem(cfg.Dir, cfg.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	return fs, nil
}

func mediaConfig(cfg config.MediaConfig) media.Config {
	return media.Config{
		Concurrency:        cfg.Concurrency,
		FetchTimeout:       cfg.FetchTimeout,
		MaxImageBytes:      cfg.MaxImageBytes,
		Relays:             cfg.Relays,
		PlaceholderEnabled: cfg.PlaceholderEnabled,
		PlaceholderURL:     cfg.PlaceholderURL,
		ContentAPIDomains:  cfg.ContentAPIDomains,
		ContentAPIPath:     cfg.ContentAPIPath,
		ContentAPIRPS:      cfg.ContentAPIRPS,
		PathPrefix:         cfg.PathPrefix,
	}
}

func serviceConfig(cfg config.ImportConfig) core.ServiceConfig {
	return core.ServiceConfig{
		Executor: core.ExecutorConfig{
			BatchSize:         cfg.BatchSize,
			DisallowedColumns: cfg.DisallowedColumns,
		},
		Validation: core.ValidateOptions{
			SynthesizeMissingNames: cfg.SynthesizeMissingNames,
		},
		MaxConcurrentRuns: cfg.MaxConcurrent,
		MaxWaitTime:       cfg.MaxWaitTime,
		RunTimeout:        cfg.Timeout,
		ResultRetention:   cfg.ResultRetention,
		SessionTTL:        cfg.SessionTTL,
	}
}
