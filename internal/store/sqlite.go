package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a modernc.org/sqlite database.
type SQLite struct {
	db *sql.DB
	d  sqliteDialect
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Query implements Store.
func (s *SQLite) Query(ctx context.Context, table string, filter Filter) ([]Row, error) {
	query, args, err := buildSelect(s.d, table, filter)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns %s: %w", table, err)
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}

		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = values[i]
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return result, nil
}

// InsertOne implements Store.
func (s *SQLite) InsertOne(ctx context.Context, table string, row Row) (string, error) {
	query, args, err := buildInsert(s.d, table, row)
	if err != nil {
		return "", err
	}

	var id string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return "", mapSQLiteError(table, err)
	}
	return id, nil
}

// InsertMany implements Store within a single transaction.
func (s *SQLite) InsertMany(ctx context.Context, table string, rows []Row) ([]string, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		query, args, err := buildInsert(s.d, table, row)
		if err != nil {
			return nil, err
		}
		var id string
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return nil, mapSQLiteError(table, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

// Migrate implements Migrator.
func (s *SQLite) Migrate(ctx context.Context, tables []TableDef) error {
	for _, def := range tables {
		if _, err := s.db.ExecContext(ctx, createTableSQL(s.d, def)); err != nil {
			return fmt.Errorf("create table %s: %w", def.Name, err)
		}
	}
	return nil
}

func mapSQLiteError(table string, err error) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("insert %s: %w: %s", table, ErrAlreadyExists, err.Error())
	}
	return fmt.Errorf("insert %s: %w", table, err)
}
