package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Options configures Open.
type Options struct {
	Driver          string // "postgres", "sqlite" or "memory"
	URL             string // Connection string or SQLite file path
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Open connects to the configured backend. The returned close function
// releases the connection and is never nil.
func Open(ctx context.Context, opts Options) (Store, func(), error) {
	switch strings.ToLower(opts.Driver) {
	case "postgres", "postgresql", "pgx":
		poolConfig, err := pgxpool.ParseConfig(opts.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse database URL: %w", err)
		}
		if opts.MaxConns > 0 {
			poolConfig.MaxConns = int32(opts.MaxConns)
		}
		if opts.MinConns > 0 {
			poolConfig.MinConns = int32(opts.MinConns)
		}
		if opts.MaxConnLifetime > 0 {
			poolConfig.MaxConnLifetime = opts.MaxConnLifetime
		}
		if opts.MaxConnIdleTime > 0 {
			poolConfig.MaxConnIdleTime = opts.MaxConnIdleTime
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		return NewPostgres(pool), pool.Close, nil

	case "sqlite":
		db, err := OpenSQLite(opts.URL)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil

	case "memory":
		return NewMemory(nil), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}
