package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store. Every table has a unique "id" column;
// additional unique columns can be declared per table.
//
// FailInsert, when set, is consulted before each write and its error is
// returned as if the backend had rejected the statement.
type Memory struct {
	mu      sync.RWMutex
	tables  map[string][]Row
	unique  map[string][]string
	batches map[string][]int

	FailInsert func(table string, rows []Row) error
}

// NewMemory creates an empty in-memory store. unique maps table name to the
// columns (besides id) that must be unique.
func NewMemory(unique map[string][]string) *Memory {
	if unique == nil {
		unique = make(map[string][]string)
	}
	return &Memory{
		tables:  make(map[string][]Row),
		unique:  unique,
		batches: make(map[string][]int),
	}
}

// Seed inserts rows without constraint checks. Rows missing an id get one.
func (m *Memory) Seed(table string, rows ...Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		c := copyRow(r)
		if c.String("id") == "" {
			c["id"] = uuid.NewString()
		}
		m.tables[table] = append(m.tables[table], c)
	}
}

// Rows returns a copy of every row in table.
func (m *Memory) Rows(table string) []Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Row, len(m.tables[table]))
	for i, r := range m.tables[table] {
		out[i] = copyRow(r)
	}
	return out
}

// Batches returns the size of every InsertMany call made against table.
func (m *Memory) Batches(table string) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.batches[table]...)
}

// Query implements Store.
func (m *Memory) Query(ctx context.Context, table string, filter Filter) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Row
	for _, r := range m.tables[table] {
		ok, err := matches(r, filter.Conditions)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", table, err)
		}
		if !ok {
			continue
		}
		if len(filter.Columns) == 0 {
			out = append(out, copyRow(r))
			continue
		}
		proj := make(Row, len(filter.Columns))
		for _, c := range filter.Columns {
			proj[c] = r[c]
		}
		out = append(out, proj)
	}

	if filter.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].String(filter.OrderBy) < out[j].String(filter.OrderBy)
		})
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// InsertOne implements Store.
func (m *Memory) InsertOne(ctx context.Context, table string, row Row) (string, error) {
	ids, err := m.insert(ctx, table, []Row{row}, false)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// InsertMany implements Store. Constraint checks run against existing rows and
// earlier rows of the same call; any violation rejects the whole call.
func (m *Memory) InsertMany(ctx context.Context, table string, rows []Row) ([]string, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	return m.insert(ctx, table, rows, true)
}

func (m *Memory) insert(ctx context.Context, table string, rows []Row, batch bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if batch {
		m.batches[table] = append(m.batches[table], len(rows))
	}

	if m.FailInsert != nil {
		if err := m.FailInsert(table, rows); err != nil {
			return nil, fmt.Errorf("insert %s: %w", table, err)
		}
	}

	uniqueCols := append([]string{"id"}, m.unique[table]...)
	staged := make([]Row, 0, len(rows))
	ids := make([]string, 0, len(rows))

	for _, r := range rows {
		c := copyRow(r)
		if c.String("id") == "" {
			c["id"] = uuid.NewString()
		}
		for _, col := range uniqueCols {
			v := c.String(col)
			if v == "" {
				continue
			}
			if conflict(m.tables[table], col, v) || conflict(staged, col, v) {
				return nil, fmt.Errorf("insert %s: %w: %s=%q", table, ErrAlreadyExists, col, v)
			}
		}
		staged = append(staged, c)
		ids = append(ids, c.String("id"))
	}

	m.tables[table] = append(m.tables[table], staged...)
	return ids, nil
}

func conflict(rows []Row, col, value string) bool {
	for _, r := range rows {
		if r.String(col) == value {
			return true
		}
	}
	return false
}

func matches(r Row, conds []Condition) (bool, error) {
	for _, c := range conds {
		got := r.String(c.Column)
		switch c.Op {
		case OpEquals, "":
			if got != fmt.Sprint(c.Value) {
				return false, nil
			}
		case OpIn:
			values, ok := c.Value.([]string)
			if !ok {
				return false, fmt.Errorf("operator %q on %s requires []string, got %T", c.Op, c.Column, c.Value)
			}
			found := false
			for _, v := range values {
				if got == v {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported operator %q", c.Op)
		}
	}
	return true, nil
}

func copyRow(r Row) Row {
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// Migrate implements Migrator by registering each table's unique columns.
func (m *Memory) Migrate(ctx context.Context, tables []TableDef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, def := range tables {
		var cols []string
		for _, c := range def.Columns {
			if c.Unique && c.Name != "id" {
				cols = append(cols, c.Name)
			}
		}
		m.unique[def.Name] = cols
	}
	return nil
}
