package core

import (
	"testing"

	"github.com/JonMunkholm/catalogimport/internal/schema"
)

var fullMapping = FieldMapping{
	schema.FieldName:         "Name",
	schema.FieldBrand:        "Brand",
	schema.FieldModel:        "Model",
	schema.FieldDailyRate:    "Daily",
	schema.FieldImageURL:     "Image",
	schema.FieldSpecSheetURL: "Spec",
}

func TestValidateRecord(t *testing.T) {
	tests := []struct {
		name       string
		values     map[schema.Field]string
		field      schema.Field
		severity   Severity
		suggestion string
	}{
		{
			name:   "valid record",
			values: map[schema.Field]string{schema.FieldName: "Mixer", schema.FieldDailyRate: "12.5"},
		},
		{
			name:     "missing name",
			values:   map[schema.Field]string{schema.FieldDailyRate: "12"},
			field:    schema.FieldName,
			severity: SeverityTerminal,
		},
		{
			name:     "whitespace name",
			values:   map[schema.Field]string{schema.FieldName: "   "},
			field:    schema.FieldName,
			severity: SeverityTerminal,
		},
		{
			name:       "currency price",
			values:     map[schema.Field]string{schema.FieldName: "Mixer", schema.FieldDailyRate: "R$ 1.234,56"},
			field:      schema.FieldDailyRate,
			severity:   SeverityFixable,
			suggestion: "1234.56",
		},
		{
			name:     "text price",
			values:   map[schema.Field]string{schema.FieldName: "Mixer", schema.FieldDailyRate: "on request"},
			field:    schema.FieldDailyRate,
			severity: SeverityTerminal,
		},
		{
			name:       "url in text",
			values:     map[schema.Field]string{schema.FieldName: "Mixer", schema.FieldSpecSheetURL: "see https://docs.example/m.pdf"},
			field:      schema.FieldSpecSheetURL,
			severity:   SeverityFixable,
			suggestion: "https://docs.example/m.pdf",
		},
		{
			name:     "relative image",
			values:   map[schema.Field]string{schema.FieldName: "Mixer", schema.FieldImageURL: "images/m.jpg"},
			field:    schema.FieldImageURL,
			severity: SeverityTerminal,
		},
		{
			name:   "empty optional fields",
			values: map[schema.Field]string{schema.FieldName: "Mixer", schema.FieldDailyRate: "", schema.FieldImageURL: ""},
		},
	}

	v := NewValidator(schema.Default(), ValidateOptions{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := v.ValidateRecord(NewRecord("r", 0, tt.values), fullMapping)

			if tt.field == "" {
				if len(issues) != 0 {
					t.Errorf("issues = %v, want none", issues)
				}
				return
			}
			if len(issues) != 1 {
				t.Fatalf("issues = %v, want exactly one", issues)
			}
			is := issues[0]
			if is.Field != tt.field {
				t.Errorf("Field = %q, want %q", is.Field, tt.field)
			}
			if is.Severity != tt.severity {
				t.Errorf("Severity = %q, want %q", is.Severity, tt.severity)
			}
			if is.Suggestion != tt.suggestion {
				t.Errorf("Suggestion = %q, want %q", is.Suggestion, tt.suggestion)
			}
		})
	}
}

func TestValidateRecord_OneIssuePerField(t *testing.T) {
	v := NewValidator(schema.Default(), ValidateOptions{})
	rec := NewRecord("r", 3, map[schema.Field]string{
		schema.FieldDailyRate:   "abc",
		schema.FieldWeeklyRate:  "$5",
		schema.FieldMonthlyRate: "x",
	})

	issues := v.ValidateRecord(rec, fullMapping)

	seen := map[schema.Field]int{}
	for _, is := range issues {
		seen[is.Field]++
		if is.Row != 3 || is.RecordID != "r" {
			t.Errorf("issue %+v not attributed to row 3 / record r", is)
		}
	}
	for f, n := range seen {
		if n != 1 {
			t.Errorf("%s has %d issues, want 1", f, n)
		}
	}
	if len(issues) != 4 {
		t.Errorf("len(issues) = %d, want 4", len(issues))
	}
}

func TestValidateRecord_UnmappedRequiredField(t *testing.T) {
	v := NewValidator(schema.Default(), ValidateOptions{})
	issues := v.ValidateRecord(NewRecord("r", 0, nil), FieldMapping{})

	if len(issues) != 1 || issues[0].Message != "required field missing (no column mapped)" {
		t.Errorf("issues = %v, want a single unmapped-name issue", issues)
	}
}

func TestValidateRecord_SynthesizeMissingNames(t *testing.T) {
	v := NewValidator(schema.Default(), ValidateOptions{SynthesizeMissingNames: true})

	tests := []struct {
		values map[schema.Field]string
		row    int
		want   string
	}{
		{map[schema.Field]string{schema.FieldBrand: "Makita", schema.FieldModel: "HR2470"}, 0, "Makita HR2470"},
		{map[schema.Field]string{schema.FieldModel: " X1 "}, 0, "X1"},
		{nil, 6, "Imported item 7"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			issues := v.ValidateRecord(NewRecord("r", tt.row, tt.values), fullMapping)
			if len(issues) != 1 {
				t.Fatalf("issues = %v, want one", issues)
			}
			if issues[0].Severity != SeverityFixable {
				t.Errorf("Severity = %q, want fixable", issues[0].Severity)
			}
			if issues[0].Suggestion != tt.want {
				t.Errorf("Suggestion = %q, want %q", issues[0].Suggestion, tt.want)
			}
		})
	}
}

func TestAutoFix(t *testing.T) {
	v := NewValidator(schema.Default(), ValidateOptions{})
	records := []Record{
		NewRecord("a", 0, map[schema.Field]string{schema.FieldName: "A", schema.FieldDailyRate: "$10,5"}),
		NewRecord("b", 1, map[schema.Field]string{schema.FieldName: "B", schema.FieldDailyRate: "$7"}),
		NewRecord("c", 2, map[schema.Field]string{schema.FieldDailyRate: "1"}),
	}
	issues := v.ValidateAll(records, fullMapping)
	if f, term := issues.Count(); f != 2 || term != 1 {
		t.Fatalf("Count() = %d/%d, want 2/1", f, term)
	}

	t.Run("all rows", func(t *testing.T) {
		fixed, after := v.AutoFix(records, issues, fullMapping, nil)

		if got := fixed[0].Get(schema.FieldDailyRate); got != "10.5" {
			t.Errorf("row 0 daily_rate = %q, want 10.5", got)
		}
		if got := fixed[1].Get(schema.FieldDailyRate); got != "7" {
			t.Errorf("row 1 daily_rate = %q, want 7", got)
		}
		if f, term := after.Count(); f != 0 || term != 1 {
			t.Errorf("Count() after = %d/%d, want 0/1", f, term)
		}
		// Inputs are never modified.
		if got := records[0].Get(schema.FieldDailyRate); got != "$10,5" {
			t.Errorf("original record changed to %q", got)
		}
	})

	t.Run("selected rows", func(t *testing.T) {
		fixed, after := v.AutoFix(records, issues, fullMapping, map[int]bool{1: true})

		if got := fixed[0].Get(schema.FieldDailyRate); got != "$10,5" {
			t.Errorf("unselected row changed to %q", got)
		}
		if got := fixed[1].Get(schema.FieldDailyRate); got != "7" {
			t.Errorf("row 1 daily_rate = %q, want 7", got)
		}
		if f, _ := after.Count(); f != 1 {
			t.Errorf("fixable after = %d, want 1", f)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		once, issuesOnce := v.AutoFix(records, issues, fullMapping, nil)
		twice, _ := v.AutoFix(once, issuesOnce, fullMapping, nil)
		for i := range once {
			if once[i].Get(schema.FieldDailyRate) != twice[i].Get(schema.FieldDailyRate) {
				t.Errorf("row %d changed on second AutoFix", i)
			}
		}
	})
}

func TestImportable(t *testing.T) {
	records := []Record{NewRecord("a", 0, nil), NewRecord("b", 1, nil), NewRecord("c", 2, nil)}
	issues := IssueSet{
		0: {{Row: 0, Severity: SeverityFixable}},
		2: {{Row: 2, Severity: SeverityFixable}, {Row: 2, Severity: SeverityTerminal}},
	}

	ok, blocked := Importable(records, issues)

	if len(ok) != 2 || ok[0].ID != "a" || ok[1].ID != "b" {
		t.Errorf("importable = %v, want [a b]", ok)
	}
	if len(blocked) != 1 || blocked[0].ID != "c" {
		t.Errorf("blocked = %v, want [c]", blocked)
	}
}
