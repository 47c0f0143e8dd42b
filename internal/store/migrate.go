package store

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/catalogimport/internal/schema"
)

// TemplatesTable stores saved column-mapping templates.
const TemplatesTable = "import_templates"

// AuditTable stores the import audit trail.
const AuditTable = "import_audit"

// ColumnType is a backend-neutral column type.
type ColumnType int

const (
	ColText ColumnType = iota
	ColUUID
	ColNumeric
	ColTimestamp
	ColJSON
)

// ColumnDef describes one column of a TableDef.
type ColumnDef struct {
	Name       string
	Type       ColumnType
	PrimaryKey bool
	Unique     bool
	NotNull    bool
}

// TableDef describes a table created by Migrate.
type TableDef struct {
	Name    string
	Columns []ColumnDef
}

// CatalogTables returns the tables needed by an import into s: one lookup
// table per reference field, the destination table, the template table and
// the audit table.
func CatalogTables(s *schema.Schema) []TableDef {
	var defs []TableDef
	seen := make(map[string]bool)

	for _, spec := range s.References() {
		ref := spec.Reference
		if seen[ref.Table] {
			continue
		}
		seen[ref.Table] = true
		nameCol := ref.NameColumn
		if nameCol == "" {
			nameCol = "name"
		}
		defs = append(defs, TableDef{
			Name: ref.Table,
			Columns: []ColumnDef{
				{Name: "id", Type: ColUUID, PrimaryKey: true},
				{Name: nameCol, Type: ColText, Unique: true, NotNull: true},
			},
		})
	}

	target := TableDef{
		Name:    s.Table,
		Columns: []ColumnDef{{Name: "id", Type: ColUUID, PrimaryKey: true}},
	}
	for _, spec := range s.Fields {
		if spec.Field == schema.FieldID {
			continue
		}
		col := ColumnDef{Name: spec.Column(), Type: ColText, NotNull: spec.Required}
		switch spec.Kind {
		case schema.KindNumeric:
			col.Type = ColNumeric
		case schema.KindReference:
			col.Type = ColUUID
		}
		target.Columns = append(target.Columns, col)
	}
	defs = append(defs, target)

	defs = append(defs, TableDef{
		Name: TemplatesTable,
		Columns: []ColumnDef{
			{Name: "id", Type: ColUUID, PrimaryKey: true},
			{Name: "name", Type: ColText, Unique: true, NotNull: true},
			{Name: "column_mapping", Type: ColJSON, NotNull: true},
			{Name: "source_headers", Type: ColJSON, NotNull: true},
			{Name: "created_at", Type: ColTimestamp},
			{Name: "updated_at", Type: ColTimestamp},
		},
	})

	defs = append(defs, TableDef{
		Name: AuditTable,
		Columns: []ColumnDef{
			{Name: "id", Type: ColUUID, PrimaryKey: true},
			{Name: "action", Type: ColText, NotNull: true},
			{Name: "severity", Type: ColText, NotNull: true},
			{Name: "session_id", Type: ColText},
			{Name: "run_id", Type: ColText},
			{Name: "ip_address", Type: ColText},
			{Name: "user_agent", Type: ColText},
			{Name: "rows_affected", Type: ColNumeric},
			{Name: "details", Type: ColJSON},
			{Name: "reason", Type: ColText},
			{Name: "created_at", Type: ColTimestamp},
		},
	})

	return defs
}

// createTableSQL renders CREATE TABLE IF NOT EXISTS for def.
func createTableSQL(d dialect, def TableDef) string {
	parts := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		var b strings.Builder
		b.WriteString(quoteIdentifier(c.Name))
		b.WriteString(" ")
		b.WriteString(d.columnType(c.Type))
		if c.PrimaryKey {
			b.WriteString(" PRIMARY KEY")
		}
		if c.NotNull && !c.PrimaryKey {
			b.WriteString(" NOT NULL")
		}
		if c.Unique {
			b.WriteString(" UNIQUE")
		}
		parts[i] = b.String()
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdentifier(def.Name), strings.Join(parts, ", "))
}
