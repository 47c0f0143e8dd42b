package store

// sqlbuild.go generates parameterised SQL shared by the Postgres and SQLite
// backends. Identifiers are always quoted; values are always bound.

import (
	"fmt"
	"strings"
)

// dialect abstracts the differences between SQL backends.
type dialect interface {
	// placeholder returns the bind marker for the n-th argument (1-based).
	placeholder(n int) string
	// columnType returns the native column type.
	columnType(t ColumnType) string
	// returningID returns the RETURNING expression that yields the id as text.
	returningID() string
}

type postgresDialect struct{}

func (postgresDialect) placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) columnType(t ColumnType) string {
	switch t {
	case ColUUID:
		return "UUID"
	case ColNumeric:
		return "NUMERIC"
	case ColTimestamp:
		return "TIMESTAMPTZ"
	case ColJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (postgresDialect) returningID() string { return quoteIdentifier("id") + "::text" }

type sqliteDialect struct{}

func (sqliteDialect) returningID() string { return quoteIdentifier("id") }

func (sqliteDialect) placeholder(int) string { return "?" }

func (sqliteDialect) columnType(t ColumnType) string {
	switch t {
	case ColNumeric:
		return "REAL"
	default:
		return "TEXT"
	}
}

// quoteIdentifier quotes a SQL identifier to prevent injection.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteColumns(cols []string) []string {
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = quoteIdentifier(col)
	}
	return quoted
}

// whereBuilder accumulates AND-ed conditions and their bound arguments.
type whereBuilder struct {
	d          dialect
	conditions []string
	args       []any
}

func newWhereBuilder(d dialect) *whereBuilder {
	return &whereBuilder{d: d}
}

// NextArgIndex returns the 1-based index of the next bound argument.
func (wb *whereBuilder) NextArgIndex() int {
	return len(wb.args) + 1
}

// Add appends a condition.
func (wb *whereBuilder) Add(c Condition) error {
	col := quoteIdentifier(c.Column)

	switch c.Op {
	case OpEquals, "":
		wb.conditions = append(wb.conditions, fmt.Sprintf("%s = %s", col, wb.d.placeholder(wb.NextArgIndex())))
		wb.args = append(wb.args, c.Value)

	case OpIn:
		values, ok := c.Value.([]string)
		if !ok {
			return fmt.Errorf("operator %q on %s requires []string, got %T", c.Op, c.Column, c.Value)
		}
		if len(values) == 0 {
			// IN () matches nothing
			wb.conditions = append(wb.conditions, "1 = 0")
			return nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = wb.d.placeholder(wb.NextArgIndex())
			wb.args = append(wb.args, v)
		}
		wb.conditions = append(wb.conditions, fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")))

	default:
		return fmt.Errorf("unsupported operator %q", c.Op)
	}
	return nil
}

// Build returns the WHERE clause (with leading space) and its arguments.
func (wb *whereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

// buildSelect renders a SELECT for table and filter.
func buildSelect(d dialect, table string, f Filter) (string, []any, error) {
	cols := "*"
	if len(f.Columns) > 0 {
		cols = strings.Join(quoteColumns(f.Columns), ", ")
	}

	wb := newWhereBuilder(d)
	for _, c := range f.Conditions {
		if err := wb.Add(c); err != nil {
			return "", nil, err
		}
	}
	where, args := wb.Build()

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s%s", cols, quoteIdentifier(table), where)
	if f.OrderBy != "" {
		fmt.Fprintf(&b, " ORDER BY %s", quoteIdentifier(f.OrderBy))
	}
	if f.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", f.Limit)
	}
	return b.String(), args, nil
}

// buildInsert renders an INSERT of row into table returning its id.
// Columns are emitted in sorted order so generated SQL is stable.
func buildInsert(d dialect, table string, row Row) (string, []any, error) {
	if len(row) == 0 {
		return "", nil, fmt.Errorf("insert into %s: empty row", table)
	}

	cols := row.Columns()
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = d.placeholder(i + 1)
		args[i] = row[c]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		quoteIdentifier(table),
		strings.Join(quoteColumns(cols), ", "),
		strings.Join(placeholders, ", "),
		d.returningID(),
	)
	return query, args, nil
}
