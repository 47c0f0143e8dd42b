package core

// validation.go checks mapped records against the target schema and proposes
// fixes.
//
// Each field is checked in order of precedence and yields at most one issue:
//  1. Presence: required fields must have a value
//  2. Numeric: numeric fields must parse as a finite number
//  3. URL: URL and image fields must be absolute http(s) URLs
//
// Issues are Fixable when a concrete suggestion exists and Terminal otherwise.
// A record with any Terminal issue is blocked from import.

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/catalogimport/internal/schema"
)

// ValidateOptions tunes validation policy.
type ValidateOptions struct {
	// SynthesizeMissingNames turns a missing name into a Fixable issue whose
	// suggestion is built from brand and model, or a positional fallback.
	SynthesizeMissingNames bool
}

// Validator validates records against a schema.
type Validator struct {
	schema *schema.Schema
	opts   ValidateOptions
}

// NewValidator creates a Validator.
func NewValidator(s *schema.Schema, opts ValidateOptions) *Validator {
	return &Validator{schema: s, opts: opts}
}

// ValidateAll validates every record. Rows without issues have no entry.
func (v *Validator) ValidateAll(records []Record, m FieldMapping) IssueSet {
	issues := make(IssueSet)
	for _, rec := range records {
		if found := v.ValidateRecord(rec, m); len(found) > 0 {
			issues[rec.Row] = found
		}
	}
	return issues
}

// ValidateRecord returns the issues of one record in schema order.
func (v *Validator) ValidateRecord(rec Record, m FieldMapping) []ValidationIssue {
	var out []ValidationIssue
	for _, spec := range v.schema.Fields {
		if spec.Field == schema.FieldID {
			continue
		}
		if issue, ok := v.checkField(rec, spec, m); ok {
			out = append(out, issue)
		}
	}
	return out
}

func (v *Validator) checkField(rec Record, spec schema.FieldSpec, m FieldMapping) (ValidationIssue, bool) {
	value := strings.TrimSpace(rec.Get(spec.Field))
	issue := ValidationIssue{Row: rec.Row, RecordID: rec.ID, Field: spec.Field, Value: value}

	if value == "" {
		if !spec.Required {
			return issue, false
		}
		if spec.Field == schema.FieldName && v.opts.SynthesizeMissingNames {
			issue.Severity = SeverityFixable
			issue.Message = "required field missing, a name will be generated"
			issue.Suggestion = SynthesizeName(rec)
			return issue, true
		}
		issue.Severity = SeverityTerminal
		issue.Message = "required field missing"
		if m[spec.Field] == "" {
			issue.Message = "required field missing (no column mapped)"
		}
		return issue, true
	}

	switch spec.Kind {
	case schema.KindNumeric:
		if _, ok := ParseNumber(value); ok {
			return issue, false
		}
		if fixed, ok := FixNumber(value); ok {
			issue.Severity = SeverityFixable
			issue.Message = fmt.Sprintf("%q is not a plain number", value)
			issue.Suggestion = fixed
			return issue, true
		}
		issue.Severity = SeverityTerminal
		issue.Message = fmt.Sprintf("%q is not a number", value)
		return issue, true

	case schema.KindURL, schema.KindImage:
		if IsAbsoluteURL(value) {
			return issue, false
		}
		if u, ok := ExtractURL(value); ok {
			issue.Severity = SeverityFixable
			issue.Message = "value contains a URL surrounded by other text"
			issue.Suggestion = u
			return issue, true
		}
		issue.Severity = SeverityTerminal
		issue.Message = fmt.Sprintf("%q is not a valid URL", value)
		return issue, true
	}

	return issue, false
}

// SynthesizeName builds a fallback display name for a record with no name.
func SynthesizeName(rec Record) string {
	parts := make([]string, 0, 2)
	for _, f := range []schema.Field{schema.FieldBrand, schema.FieldModel} {
		if v := strings.TrimSpace(rec.Get(f)); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	return fmt.Sprintf("Imported item %d", rec.Row+1)
}

// AutoFix applies the Fixable suggestions of the selected rows (all rows when
// selection is nil) and revalidates. Records are copied, never modified.
func (v *Validator) AutoFix(records []Record, issues IssueSet, m FieldMapping, selection map[int]bool) ([]Record, IssueSet) {
	fixed := make([]Record, len(records))
	for i, rec := range records {
		if selection != nil && !selection[rec.Row] {
			fixed[i] = rec
			continue
		}
		for _, is := range issues[rec.Row] {
			if is.Severity == SeverityFixable && is.Suggestion != "" {
				rec = rec.With(is.Field, is.Suggestion)
			}
		}
		fixed[i] = rec
	}
	return fixed, v.ValidateAll(fixed, m)
}

// Importable splits records into those without Terminal issues and the rest.
func Importable(records []Record, issues IssueSet) (ok, blocked []Record) {
	for _, rec := range records {
		if issues.Blocked(rec.Row) {
			blocked = append(blocked, rec)
			continue
		}
		ok = append(ok, rec)
	}
	return ok, blocked
}
