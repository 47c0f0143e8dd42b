package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	d    postgresDialect
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Query implements Store.
func (p *Postgres) Query(ctx context.Context, table string, filter Filter) ([]Row, error) {
	query, args, err := buildSelect(p.d, table, filter)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}

	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}

	result := make([]Row, len(maps))
	for i, m := range maps {
		for col, v := range m {
			m[col] = fromPgValue(v)
		}
		result[i] = Row(m)
	}
	return result, nil
}

// fromPgValue converts pgx's native UUID and NUMERIC values to the string and
// float64 forms the other backends return.
func fromPgValue(v any) any {
	switch t := v.(type) {
	case [16]byte:
		return uuid.UUID(t).String()
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	}
	return v
}

// InsertOne implements Store.
func (p *Postgres) InsertOne(ctx context.Context, table string, row Row) (string, error) {
	query, args, err := buildInsert(p.d, table, row)
	if err != nil {
		return "", err
	}

	var id string
	if err := p.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return "", mapPgError(table, err)
	}
	return id, nil
}

// InsertMany implements Store. All rows are queued on one pgx.Batch inside a
// single transaction; any failure rolls the whole batch back.
func (p *Postgres) InsertMany(ctx context.Context, table string, rows []Row) ([]string, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, row := range rows {
		query, args, err := buildInsert(p.d, table, row)
		if err != nil {
			return nil, err
		}
		batch.Queue(query, args...)
	}

	br := tx.SendBatch(ctx, batch)
	ids := make([]string, 0, len(rows))
	for range rows {
		var id string
		if err := br.QueryRow().Scan(&id); err != nil {
			br.Close()
			return nil, mapPgError(table, err)
		}
		ids = append(ids, id)
	}
	if err := br.Close(); err != nil {
		return nil, mapPgError(table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

// Migrate implements Migrator.
func (p *Postgres) Migrate(ctx context.Context, tables []TableDef) error {
	for _, def := range tables {
		if _, err := p.pool.Exec(ctx, createTableSQL(p.d, def)); err != nil {
			return fmt.Errorf("create table %s: %w", def.Name, err)
		}
	}
	return nil
}

// Ping verifies connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// mapPgError converts a unique violation to ErrAlreadyExists, keeping the
// server's detail message.
func mapPgError(table string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		msg := pgErr.Detail
		if msg == "" {
			msg = pgErr.Message
		}
		return fmt.Errorf("insert %s: %w: %s", table, ErrAlreadyExists, msg)
	}
	return fmt.Errorf("insert %s: %w", table, err)
}
