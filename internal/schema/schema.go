// Package schema defines the target catalog schema that imported rows are
// mapped onto. The set of target fields is closed: records carry values keyed
// by Field, never by free-form header names.
package schema

import (
	"fmt"
	"strings"
)

// Field is a target schema field. The enumeration is closed; see AllFields.
type Field string

const (
	FieldID             Field = "id"
	FieldName           Field = "name"
	FieldDescription    Field = "description"
	FieldCategory       Field = "category"
	FieldLifecyclePhase Field = "lifecycle_phase"
	FieldBrand          Field = "brand"
	FieldModel          Field = "model"
	FieldDailyRate      Field = "daily_rate"
	FieldWeeklyRate     Field = "weekly_rate"
	FieldMonthlyRate    Field = "monthly_rate"
	FieldImageURL       Field = "image_url"
	FieldSpecSheetURL   Field = "spec_sheet_url"
)

// AllFields lists every known field in canonical order.
var AllFields = []Field{
	FieldID,
	FieldName,
	FieldDescription,
	FieldCategory,
	FieldLifecyclePhase,
	FieldBrand,
	FieldModel,
	FieldDailyRate,
	FieldWeeklyRate,
	FieldMonthlyRate,
	FieldImageURL,
	FieldSpecSheetURL,
}

// Valid reports whether f is a member of the closed field enumeration.
func (f Field) Valid() bool {
	for _, known := range AllFields {
		if f == known {
			return true
		}
	}
	return false
}

// Kind classifies how a field's raw value is validated and stored.
type Kind int

const (
	KindText Kind = iota
	KindNumeric
	KindURL
	KindReference
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindURL:
		return "url"
	case KindReference:
		return "reference"
	case KindImage:
		return "image"
	default:
		return "text"
	}
}

// Reference describes the lookup table a reference field points into.
type Reference struct {
	Table      string // Lookup table holding the named entities, e.g. "categories"
	NameColumn string // Column matched against cell values
	Column     string // Foreign-key column on the target table, e.g. "category_id"
}

// FieldSpec defines one target field.
type FieldSpec struct {
	Field     Field
	Label     string // Display label used by auto-mapping and reports
	Kind      Kind
	Required  bool
	Reference *Reference // Set only when Kind == KindReference
}

// Column returns the target table column that receives this field's value.
func (s FieldSpec) Column() string {
	if s.Reference != nil && s.Reference.Column != "" {
		return s.Reference.Column
	}
	return string(s.Field)
}

// Schema is the full target description: the destination table and its fields
// in the order auto-mapping visits them.
type Schema struct {
	Table  string
	Fields []FieldSpec
}

// Lookup returns the spec for f.
func (s *Schema) Lookup(f Field) (FieldSpec, bool) {
	for _, spec := range s.Fields {
		if spec.Field == f {
			return spec, true
		}
	}
	return FieldSpec{}, false
}

// Has reports whether the schema declares f.
func (s *Schema) Has(f Field) bool {
	_, ok := s.Lookup(f)
	return ok
}

// Required returns the required fields in schema order.
func (s *Schema) Required() []Field {
	var out []Field
	for _, spec := range s.Fields {
		if spec.Required {
			out = append(out, spec.Field)
		}
	}
	return out
}

// References returns the specs of reference fields in schema order.
func (s *Schema) References() []FieldSpec {
	var out []FieldSpec
	for _, spec := range s.Fields {
		if spec.Kind == KindReference && spec.Reference != nil {
			out = append(out, spec)
		}
	}
	return out
}

// ByKind returns the fields of the given kind in schema order.
func (s *Schema) ByKind(k Kind) []Field {
	var out []Field
	for _, spec := range s.Fields {
		if spec.Kind == k {
			out = append(out, spec.Field)
		}
	}
	return out
}

// ReferenceByColumn finds the reference field whose foreign-key column is col.
// Used to recognise "<relation>_id" spellings of a bare relationship field.
func (s *Schema) ReferenceByColumn(col string) (FieldSpec, bool) {
	col = strings.ToLower(strings.TrimSpace(col))
	for _, spec := range s.References() {
		if strings.ToLower(spec.Reference.Column) == col {
			return spec, true
		}
	}
	return FieldSpec{}, false
}

// Validate checks internal consistency: known fields only, no duplicates,
// reference fields carry a lookup table, and a destination table is named.
func (s *Schema) Validate() error {
	if strings.TrimSpace(s.Table) == "" {
		return fmt.Errorf("schema: table name is required")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema: at least one field is required")
	}

	seen := make(map[Field]bool, len(s.Fields))
	for _, spec := range s.Fields {
		if !spec.Field.Valid() {
			return fmt.Errorf("schema: unknown field %q", spec.Field)
		}
		if seen[spec.Field] {
			return fmt.Errorf("schema: duplicate field %q", spec.Field)
		}
		seen[spec.Field] = true

		if spec.Kind == KindReference {
			if spec.Reference == nil || spec.Reference.Table == "" {
				return fmt.Errorf("schema: reference field %q has no lookup table", spec.Field)
			}
		}
	}

	if !seen[FieldName] {
		return fmt.Errorf("schema: field %q is required", FieldName)
	}
	return nil
}
