package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogimport/internal/schema"
	"github.com/JonMunkholm/catalogimport/internal/store"
	"github.com/JonMunkholm/catalogimport/internal/validation"
)

// Template lookup errors.
var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrTemplateExists   = errors.New("template already exists")
)

// TemplateMatchThreshold is the minimum score for a template to be considered a match.
const TemplateMatchThreshold = 0.7

// ImportTemplate is a saved column mapping.
type ImportTemplate struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	ColumnMapping FieldMapping `json:"columnMapping"`
	SourceHeaders []string     `json:"sourceHeaders"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// TemplateMatch is a template whose headers match a source.
type TemplateMatch struct {
	Template   ImportTemplate `json:"template"`
	MatchScore float64        `json:"matchScore"`
}

// CreateTemplate saves a mapping under a unique name.
func (s *Service) CreateTemplate(ctx context.Context, name string, mapping FieldMapping, headers []string) (*ImportTemplate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validation.FieldErrors{"name": "is required"}
	}
	for f := range mapping {
		if !s.schema.Has(f) {
			return nil, validation.FieldErrors{"mapping": fmt.Sprintf("names unknown field %q", f)}
		}
	}

	mappingJSON, err := json.Marshal(mapping)
	if err != nil {
		return nil, fmt.Errorf("marshal mapping: %w", err)
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("marshal headers: %w", err)
	}

	now := time.Now().UTC()
	tpl := &ImportTemplate{
		ID:            uuid.NewString(),
		Name:          name,
		ColumnMapping: mapping.Clone(),
		SourceHeaders: headers,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = s.store.InsertOne(ctx, store.TemplatesTable, store.Row{
		"id":             tpl.ID,
		"name":           tpl.Name,
		"column_mapping": string(mappingJSON),
		"source_headers": string(headersJSON),
		"created_at":     now,
		"updated_at":     now,
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %q", ErrTemplateExists, name)
		}
		return nil, fmt.Errorf("create template: %w", err)
	}

	s.audit(ctx, AuditLogParams{
		Action:  ActionTemplateCreate,
		Details: map[string]any{"templateId": tpl.ID, "name": tpl.Name},
	})
	return tpl, nil
}

// GetTemplate retrieves a template by ID.
func (s *Service) GetTemplate(ctx context.Context, id string) (*ImportTemplate, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: invalid ID %q", ErrTemplateNotFound, id)
	}

	rows, err := s.store.Query(ctx, store.TemplatesTable, store.Where("id", id))
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return rowToTemplate(rows[0])
}

// ListTemplates returns every saved template ordered by name.
func (s *Service) ListTemplates(ctx context.Context) ([]ImportTemplate, error) {
	rows, err := s.store.Query(ctx, store.TemplatesTable, store.Filter{OrderBy: "name"})
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	templates := make([]ImportTemplate, 0, len(rows))
	for _, r := range rows {
		t, err := rowToTemplate(r)
		if err != nil {
			s.log.Warn("skipping unreadable template", "id", r.String("id"), "error", err)
			continue
		}
		templates = append(templates, *t)
	}
	return templates, nil
}

// MatchTemplates finds templates whose headers match the given source headers.
func (s *Service) MatchTemplates(ctx context.Context, headers []string) ([]TemplateMatch, error) {
	templates, err := s.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}

	var matches []TemplateMatch
	for _, t := range templates {
		score := matchTemplateHeaders(headers, t.SourceHeaders)
		if score >= TemplateMatchThreshold {
			matches = append(matches, TemplateMatch{Template: t, MatchScore: score})
		}
	}

	// Sort by score descending
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchScore > matches[j].MatchScore
	})
	return matches, nil
}

// ApplyTemplate applies a saved mapping to a session. Template entries whose
// header is absent from the source are dropped before the mapping is checked.
func (s *Service) ApplyTemplate(ctx context.Context, sessionID, templateID string) (*MappingReport, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return nil, err
	}
	tpl, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool)
	for _, h := range sess.Headers() {
		present[h] = true
	}
	m := make(FieldMapping, len(tpl.ColumnMapping))
	var dropped []string
	for f, h := range tpl.ColumnMapping {
		if present[h] {
			m[f] = h
		} else {
			dropped = append(dropped, fmt.Sprintf("column %q for %s not in source", h, f))
		}
	}
	sort.Strings(dropped)

	report, err := sess.ApplyMapping(m)
	if err != nil {
		return nil, err
	}
	report.Problems = append(report.Problems, dropped...)
	return report, nil
}

// matchTemplateHeaders calculates how well source headers match template headers.
func matchTemplateHeaders(headers, templateHeaders []string) float64 {
	if len(templateHeaders) == 0 {
		return 0
	}

	set := make(map[string]bool)
	for _, h := range headers {
		set[strings.ToLower(strings.TrimSpace(h))] = true
	}

	matched := 0
	for _, h := range templateHeaders {
		if set[strings.ToLower(strings.TrimSpace(h))] {
			matched++
		}
	}
	return float64(matched) / float64(len(templateHeaders))
}

// rowToTemplate converts a stored row to a template.
func rowToTemplate(r store.Row) (*ImportTemplate, error) {
	var raw map[string]string
	if err := decodeJSONColumn(r["column_mapping"], &raw); err != nil {
		return nil, fmt.Errorf("unmarshal mapping: %w", err)
	}
	var headers []string
	if err := decodeJSONColumn(r["source_headers"], &headers); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}

	mapping := make(FieldMapping, len(raw))
	for f, h := range raw {
		mapping[schema.Field(f)] = h
	}

	return &ImportTemplate{
		ID:            r.String("id"),
		Name:          r.String("name"),
		ColumnMapping: mapping,
		SourceHeaders: headers,
		CreatedAt:     timeColumn(r["created_at"]),
		UpdatedAt:     timeColumn(r["updated_at"]),
	}, nil
}

// decodeJSONColumn handles both raw JSON text and values a driver has
// already decoded.
func decodeJSONColumn(v any, out any) error {
	switch t := v.(type) {
	case nil:
		return errors.New("column is empty")
	case string:
		return json.Unmarshal([]byte(t), out)
	case []byte:
		return json.Unmarshal(t, out)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, out)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

func timeColumn(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts
			}
		}
	}
	return time.Time{}
}
