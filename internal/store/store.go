// Package store provides the relational store the import pipeline writes to.
//
// The pipeline only needs three operations: filtered reads, a single-row insert
// and an atomic multi-row insert. Backends:
//
//   - Postgres: pgxpool, one transaction per InsertMany using pgx.Batch
//   - SQLite: modernc.org/sqlite through database/sql, for local runs and the CLI
//   - Memory: in-process maps with failure injection, for tests and dry runs
//
// All backends report unique violations as ErrAlreadyExists so callers can
// treat "already created" as non-fatal.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrAlreadyExists is returned (wrapped) when an insert violates a unique constraint.
var ErrAlreadyExists = errors.New("already exists")

// ErrUnknownDriver is returned by Open for unsupported driver names.
var ErrUnknownDriver = errors.New("unknown database driver")

// Row is a single database row keyed by column name.
type Row map[string]any

// String returns the column value formatted as a string, or "" when absent.
func (r Row) String(col string) string {
	v, ok := r[col]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Columns returns the row's column names in sorted order.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Operator is a comparison operator used in a Condition.
type Operator string

const (
	OpEquals Operator = "eq"
	OpIn     Operator = "in"
)

// Condition restricts a query to rows whose Column satisfies Op against Value.
// For OpIn, Value must be a []string.
type Condition struct {
	Column string
	Op     Operator
	Value  any
}

// Filter selects rows from a table. Conditions are combined with AND.
// An empty Columns list selects every column.
type Filter struct {
	Columns    []string
	Conditions []Condition
	OrderBy    string
	Limit      int
}

// Where returns a Filter with a single equality condition.
func Where(col string, value any) Filter {
	return Filter{Conditions: []Condition{{Column: col, Op: OpEquals, Value: value}}}
}

// Store is the relational store consumed by the pipeline.
type Store interface {
	// Query returns rows from table matching filter.
	Query(ctx context.Context, table string, filter Filter) ([]Row, error)

	// InsertMany inserts rows atomically: either every row is written or none.
	// Returns the ids of the inserted rows in input order.
	InsertMany(ctx context.Context, table string, rows []Row) ([]string, error)

	// InsertOne inserts a single row and returns its id.
	InsertOne(ctx context.Context, table string, row Row) (string, error)
}

// Migrator is implemented by backends that can create the tables they serve.
type Migrator interface {
	Migrate(ctx context.Context, tables []TableDef) error
}
