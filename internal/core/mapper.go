package core

// mapper.go maps source headers onto target fields.
//
// Suggestions are deterministic: the same headers and schema always produce the
// same mapping, so re-running SuggestMapping is idempotent. A header feeds at
// most one field and a field reads at most one header.

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogimport/internal/schema"
)

// minSubstringMatch is the shortest name, label or header considered for
// substring matching. Shorter tokens ("id") match too much.
const minSubstringMatch = 3

// SuggestMapping proposes a header for each field, in schema order. A field
// takes the first unused header equal (case-insensitively) to its name or
// label; failing that, the first unused header that contains, or is contained
// in, its name or label. Headers that exactly match some field are never taken
// by a substring match.
func SuggestMapping(headers []string, s *schema.Schema) FieldMapping {
	m := make(FieldMapping)
	used := make(map[string]bool, len(headers))

	exact := make(map[string]bool, 2*len(s.Fields))
	for _, spec := range s.Fields {
		for _, k := range matchKeys(spec) {
			exact[k] = true
		}
	}

	for _, spec := range s.Fields {
		keys := matchKeys(spec)
		if h, ok := firstHeader(headers, used, func(n string) bool { return slices.Contains(keys, n) }); ok {
			m[spec.Field] = h
			used[h] = true
			continue
		}
		if h, ok := firstHeader(headers, used, func(n string) bool { return !exact[n] && substringMatch(n, keys) }); ok {
			m[spec.Field] = h
			used[h] = true
		}
	}

	return m
}

// firstHeader returns the first unused header whose normalized form satisfies match.
func firstHeader(headers []string, used map[string]bool, match func(string) bool) (string, bool) {
	for _, h := range headers {
		if !used[h] && match(normalizeHeader(h)) {
			return h, true
		}
	}
	return "", false
}

// matchKeys returns the normalized name and label of a field.
func matchKeys(spec schema.FieldSpec) []string {
	keys := []string{normalizeHeader(string(spec.Field))}
	if spec.Label != "" {
		if l := normalizeHeader(spec.Label); l != keys[0] {
			keys = append(keys, l)
		}
	}
	return keys
}

func substringMatch(header string, keys []string) bool {
	if len(header) < minSubstringMatch {
		return false
	}
	for _, k := range keys {
		if len(k) < minSubstringMatch {
			continue
		}
		if strings.Contains(header, k) || strings.Contains(k, header) {
			return true
		}
	}
	return false
}

// normalizeHeader lowercases and treats underscores and hyphens as spaces.
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer("_", " ", "-", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

// MissingRequired returns required fields without a mapped header, in schema order.
func MissingRequired(m FieldMapping, s *schema.Schema) []schema.Field {
	var missing []schema.Field
	for _, f := range s.Required() {
		if strings.TrimSpace(m[f]) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// ValidateMapping reports whether every required field is mapped.
func ValidateMapping(m FieldMapping, s *schema.Schema) bool {
	return len(MissingRequired(m, s)) == 0
}

// CheckMapping verifies m against the source headers. It returns a
// *MappingConflictError for headers that are absent or shared by several
// fields, and a *MappingIncompleteError when required fields are unmapped.
func CheckMapping(m FieldMapping, headers []string, s *schema.Schema) error {
	byHeader := make(map[string][]schema.Field)
	for _, spec := range s.Fields {
		h := m[spec.Field]
		if h == "" {
			continue
		}
		byHeader[h] = append(byHeader[h], spec.Field)
	}
	for f, h := range m {
		if h != "" && !s.Has(f) {
			return fmt.Errorf("mapping: unknown field %q", f)
		}
	}

	hs := make([]string, 0, len(byHeader))
	for h := range byHeader {
		hs = append(hs, h)
	}
	sort.Strings(hs)
	for _, h := range hs {
		if !slices.Contains(headers, h) {
			return &MappingConflictError{Header: h, Fields: byHeader[h][:1]}
		}
		if len(byHeader[h]) > 1 {
			return &MappingConflictError{Header: h, Fields: byHeader[h]}
		}
	}

	if missing := MissingRequired(m, s); len(missing) > 0 {
		return &MappingIncompleteError{Missing: missing}
	}
	return nil
}

// NormalizeMapping converts an externally supplied mapping (field key to
// header) into a FieldMapping. Keys spelled as a foreign-key column
// ("category_id") are rewritten to the bare relationship field. When both the
// alias and the canonical key are present the canonical key wins. Keys with no
// counterpart in the schema are returned as problems rather than dropped.
// Applying NormalizeMapping to its own output yields the same mapping.
func NormalizeMapping(raw map[string]string, s *schema.Schema) (FieldMapping, []string) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m := make(FieldMapping)
	var problems []string

	// Canonical keys first so aliases can defer to them.
	var aliases []string
	for _, k := range keys {
		header := strings.TrimSpace(raw[k])
		f := schema.Field(strings.ToLower(strings.TrimSpace(k)))
		if !s.Has(f) {
			aliases = append(aliases, k)
			continue
		}
		if header != "" {
			m[f] = header
		}
	}

	for _, k := range aliases {
		header := strings.TrimSpace(raw[k])
		f, ok := aliasField(k, s)
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown field %q", k))
			continue
		}
		if _, canonical := raw[string(f)]; canonical {
			problems = append(problems, fmt.Sprintf("%q ignored: %q is also mapped", k, f))
			continue
		}
		if _, taken := m[f]; taken {
			problems = append(problems, fmt.Sprintf("%q ignored: %q is already mapped", k, f))
			continue
		}
		if header != "" {
			m[f] = header
		}
	}

	return m, problems
}

// aliasField resolves "<relation>_id" style keys to a reference field.
func aliasField(key string, s *schema.Schema) (schema.Field, bool) {
	if spec, ok := s.ReferenceByColumn(key); ok {
		return spec.Field, true
	}
	k := strings.ToLower(strings.TrimSpace(key))
	if bare, ok := strings.CutSuffix(k, "_id"); ok {
		spec, found := s.Lookup(schema.Field(bare))
		if found && spec.Kind == schema.KindReference {
			return spec.Field, true
		}
	}
	return "", false
}

// BuildRecords projects every source row onto the mapped fields. A row whose
// id cell holds a valid UUID keeps it unless an earlier row already claimed
// it; every other row gets a fresh v4 UUID. Each reassigned id is reported
// in notes.
func BuildRecords(table *SourceTable, m FieldMapping, s *schema.Schema) (records []Record, notes []string) {
	records = make([]Record, 0, table.Len())
	seen := make(map[string]int, table.Len())
	for i, row := range table.Rows() {
		values := make(map[schema.Field]string, len(m))
		for _, spec := range s.Fields {
			h, ok := m[spec.Field]
			if !ok || h == "" {
				continue
			}
			if v, ok := row.Get(h); ok {
				values[spec.Field] = v
			}
		}

		var id string
		if parsed, err := uuid.Parse(values[schema.FieldID]); err == nil {
			id = parsed.String()
			if first, dup := seen[id]; dup {
				id = uuid.NewString()
				notes = append(notes, fmt.Sprintf("line %d: id %s already used on line %d, assigned %s",
					row.Line(), parsed, first, id))
			}
		} else {
			id = uuid.NewString()
		}
		seen[id] = row.Line()
		delete(values, schema.FieldID)

		records = append(records, Record{ID: id, Row: i, Line: row.Line(), values: values})
	}
	return records, notes
}
