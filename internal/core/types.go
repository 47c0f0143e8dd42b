package core

import (
	"iter"
	"maps"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/schema"
)

// SourceKind is the declared kind of an uploaded source.
type SourceKind string

const (
	SourceDelimited   SourceKind = "delimited"
	SourceSpreadsheet SourceKind = "spreadsheet"
)

// SourceRow is one data row of a source, keyed by header. Immutable once parsed.
type SourceRow struct {
	line    int
	headers []string
	cells   []string
}

// Line returns the 1-based line (or sheet row) the row was read from.
func (r SourceRow) Line() int { return r.line }

// Get returns the sanitized cell under header.
func (r SourceRow) Get(header string) (string, bool) {
	for i, h := range r.headers {
		if h == header {
			return r.cells[i], true
		}
	}
	return "", false
}

// Cells returns a copy of the row's cells in header order.
func (r SourceRow) Cells() []string {
	return append([]string(nil), r.cells...)
}

// Diagnostics summarises what the reader saw.
type Diagnostics struct {
	TotalLines     int      `json:"totalLines"`
	BlankLines     int      `json:"blankLines"`
	MalformedLines int      `json:"malformedLines"`
	Columns        int      `json:"columns"`
	Delimiter      string   `json:"delimiter,omitempty"`
	Format         string   `json:"format"`
	Log            []string `json:"log"`
}

// SourceTable is the parsed form of a source.
type SourceTable struct {
	Kind        SourceKind
	Headers     []string
	Diagnostics Diagnostics
	rows        []SourceRow
}

// Len returns the number of data rows.
func (t *SourceTable) Len() int { return len(t.rows) }

// Row returns the i-th data row.
func (t *SourceTable) Row(i int) SourceRow { return t.rows[i] }

// Rows iterates data rows with their 0-based index.
func (t *SourceTable) Rows() iter.Seq2[int, SourceRow] {
	return func(yield func(int, SourceRow) bool) {
		for i, r := range t.rows {
			if !yield(i, r) {
				return
			}
		}
	}
}

// FieldMapping maps target fields to source headers.
type FieldMapping map[schema.Field]string

// Clone returns a copy of m.
func (m FieldMapping) Clone() FieldMapping {
	return maps.Clone(m)
}

// Record is a source row projected onto the target schema. Values are keyed
// by the closed schema.Field enumeration; records are copied, never mutated.
type Record struct {
	ID     string // Stable record identifier (UUID), assigned when the record is built
	Row    int    // 0-based index into the source rows
	Line   int    // Source line for reporting
	values map[schema.Field]string
}

// Get returns the value of f, or "" when unmapped.
func (r Record) Get(f schema.Field) string {
	return r.values[f]
}

// With returns a copy of r with f set to v.
func (r Record) With(f schema.Field, v string) Record {
	c := r
	c.values = maps.Clone(r.values)
	if c.values == nil {
		c.values = make(map[schema.Field]string)
	}
	c.values[f] = v
	return c
}

// Values returns a copy of the record's values.
func (r Record) Values() map[schema.Field]string {
	return maps.Clone(r.values)
}

// NewRecord builds a record directly from values. Used by callers that do not
// start from a SourceTable, such as tests and the CLI's JSON input.
func NewRecord(id string, row int, values map[schema.Field]string) Record {
	return Record{ID: id, Row: row, Line: row + 2, values: maps.Clone(values)}
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityFixable  Severity = "fixable"
	SeverityTerminal Severity = "terminal"
)

// ValidationIssue is one problem found in one field of one row.
type ValidationIssue struct {
	Row        int          `json:"row"`
	RecordID   string       `json:"recordId"`
	Field      schema.Field `json:"field"`
	Severity   Severity     `json:"severity"`
	Message    string       `json:"message"`
	Value      string       `json:"value"`
	Suggestion string       `json:"suggestion,omitempty"` // Set when Severity is Fixable
}

// IssueSet maps row index to the issues found in that row.
type IssueSet map[int][]ValidationIssue

// Blocked reports whether row carries a Terminal issue.
func (s IssueSet) Blocked(row int) bool {
	for _, is := range s[row] {
		if is.Severity == SeverityTerminal {
			return true
		}
	}
	return false
}

// Count returns the number of fixable and terminal issues.
func (s IssueSet) Count() (fixable, terminal int) {
	for _, issues := range s {
		for _, is := range issues {
			if is.Severity == SeverityTerminal {
				terminal++
			} else {
				fixable++
			}
		}
	}
	return fixable, terminal
}

// ImportFailure describes one record that was not written.
type ImportFailure struct {
	RecordID string `json:"recordId"`
	Row      int    `json:"row"`
	Message  string `json:"message"`
}

// ReferenceFailure describes a reference entity that could not be created.
type ReferenceFailure struct {
	Field   schema.Field `json:"field"`
	Name    string       `json:"name"`
	Message string       `json:"message"`
}

// ImportOutcome is the running aggregate of an import. Counters only grow.
type ImportOutcome struct {
	Total             int                `json:"total"`
	Processed         int                `json:"processed"`
	Succeeded         int                `json:"succeeded"`
	Failed            int                `json:"failed"`
	Batches           int                `json:"batches"`
	Failures          []ImportFailure    `json:"failures"`
	ReferenceFailures []ReferenceFailure `json:"referenceFailures,omitempty"`
	InsertedIDs       []string           `json:"insertedIds,omitempty"`
	Aborted           bool               `json:"aborted"`
	Duration          time.Duration      `json:"duration"`
}

// Percent returns the progress as a percentage (0-100).
func (o ImportOutcome) Percent() int {
	if o.Total <= 0 {
		return 0
	}
	return (o.Processed * 100) / o.Total
}

// clone returns a deep copy safe to hand to observers.
func (o ImportOutcome) clone() ImportOutcome {
	c := o
	c.Failures = append([]ImportFailure(nil), o.Failures...)
	c.ReferenceFailures = append([]ReferenceFailure(nil), o.ReferenceFailures...)
	c.InsertedIDs = append([]string(nil), o.InsertedIDs...)
	return c
}

// ProgressCallback receives a snapshot of the outcome after every batch.
type ProgressCallback func(ImportOutcome)
