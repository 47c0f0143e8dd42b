package core

// reference.go resolves free-text reference values (category names, lifecycle
// phases) against the lookup tables. Resolution is read-only: names that do
// not exist yet are marked for creation and created by the Executor.

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/catalogimport/internal/schema"
	"github.com/JonMunkholm/catalogimport/internal/store"
)

// CandidateState is the resolution state of a reference name.
type CandidateState string

const (
	CandidateUnresolved    CandidateState = "unresolved"
	CandidateExisting      CandidateState = "existing"
	CandidatePendingCreate CandidateState = "pending_create"
)

// ReferenceEntity is a row of a lookup table.
type ReferenceEntity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ReferenceCandidate is one distinct name found in a reference column.
type ReferenceCandidate struct {
	Field schema.Field   `json:"field"`
	Name  string         `json:"name"`
	State CandidateState `json:"state"`
	ID    string         `json:"id,omitempty"`
	Rows  []int          `json:"rows"`
	Err   string         `json:"error,omitempty"` // Set when creation failed
}

// MarkExisting records the id of the entity behind the name. Calling it on a
// candidate that is already Existing is a no-op.
func (c *ReferenceCandidate) MarkExisting(id string) {
	if c.State == CandidateExisting {
		return
	}
	c.State = CandidateExisting
	c.ID = id
	c.Err = ""
}

// ResolveReferences collects the distinct trimmed values of field across
// records and matches them against known entities by exact, case-sensitive
// name. Unmatched names become PendingCreate.
func ResolveReferences(records []Record, field schema.Field, known []ReferenceEntity) map[string]*ReferenceCandidate {
	byName := make(map[string]string, len(known))
	for _, e := range known {
		if _, dup := byName[e.Name]; !dup {
			byName[e.Name] = e.ID
		}
	}

	out := make(map[string]*ReferenceCandidate)
	for _, rec := range records {
		name := strings.TrimSpace(rec.Get(field))
		if name == "" {
			continue
		}
		c, ok := out[name]
		if !ok {
			c = &ReferenceCandidate{Field: field, Name: name, State: CandidateUnresolved}
			if id, found := byName[name]; found {
				c.MarkExisting(id)
			} else {
				c.State = CandidatePendingCreate
			}
			out[name] = c
		}
		c.Rows = append(c.Rows, rec.Row)
	}
	return out
}

// ReferenceNamespace holds the candidates of one reference field in order of
// first appearance.
type ReferenceNamespace struct {
	Spec       schema.FieldSpec
	candidates map[string]*ReferenceCandidate
	order      []string
}

func newNamespace(spec schema.FieldSpec, records []Record, cands map[string]*ReferenceCandidate) *ReferenceNamespace {
	ns := &ReferenceNamespace{Spec: spec, candidates: cands}
	seen := make(map[string]bool, len(cands))
	for _, rec := range records {
		name := strings.TrimSpace(rec.Get(spec.Field))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		ns.order = append(ns.order, name)
	}
	return ns
}

// Lookup returns the candidate for a raw cell value.
func (n *ReferenceNamespace) Lookup(value string) (*ReferenceCandidate, bool) {
	c, ok := n.candidates[strings.TrimSpace(value)]
	return c, ok
}

// Candidates returns every candidate in order of first appearance.
func (n *ReferenceNamespace) Candidates() []*ReferenceCandidate {
	out := make([]*ReferenceCandidate, 0, len(n.order))
	for _, name := range n.order {
		out = append(out, n.candidates[name])
	}
	return out
}

// ReferenceContext is the per-session set of namespaces, one per mapped
// reference field.
type ReferenceContext struct {
	fields     []schema.Field
	namespaces map[schema.Field]*ReferenceNamespace
}

// NewReferenceContext returns an empty context.
func NewReferenceContext() *ReferenceContext {
	return &ReferenceContext{namespaces: make(map[schema.Field]*ReferenceNamespace)}
}

// Add registers a namespace, replacing any previous one for the same field.
func (c *ReferenceContext) Add(ns *ReferenceNamespace) {
	f := ns.Spec.Field
	if _, ok := c.namespaces[f]; !ok {
		c.fields = append(c.fields, f)
	}
	c.namespaces[f] = ns
}

// Namespace returns the namespace for f.
func (c *ReferenceContext) Namespace(f schema.Field) (*ReferenceNamespace, bool) {
	if c == nil {
		return nil, false
	}
	ns, ok := c.namespaces[f]
	return ns, ok
}

// Fields returns the resolved fields in schema order.
func (c *ReferenceContext) Fields() []schema.Field {
	if c == nil {
		return nil
	}
	return append([]schema.Field(nil), c.fields...)
}

// Pending returns every PendingCreate candidate across namespaces.
func (c *ReferenceContext) Pending() []*ReferenceCandidate {
	var out []*ReferenceCandidate
	for _, f := range c.Fields() {
		for _, cand := range c.namespaces[f].Candidates() {
			if cand.State == CandidatePendingCreate {
				out = append(out, cand)
			}
		}
	}
	return out
}

// ReferenceSummary is the per-field report shown before import.
type ReferenceSummary struct {
	Field    schema.Field `json:"field"`
	Existing []string     `json:"existing"`
	Pending  []string     `json:"pending"`
}

// Report summarises every namespace.
func (c *ReferenceContext) Report() []ReferenceSummary {
	var out []ReferenceSummary
	for _, f := range c.Fields() {
		sum := ReferenceSummary{Field: f, Existing: []string{}, Pending: []string{}}
		for _, cand := range c.namespaces[f].Candidates() {
			if cand.State == CandidateExisting {
				sum.Existing = append(sum.Existing, cand.Name)
			} else {
				sum.Pending = append(sum.Pending, cand.Name)
			}
		}
		out = append(out, sum)
	}
	return out
}

// Resolver looks reference names up in the store.
type Resolver struct {
	store  store.Store
	schema *schema.Schema
	log    *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(st store.Store, s *schema.Schema, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{store: st, schema: s, log: log}
}

// Resolve builds a ReferenceContext for every mapped reference field. Lookup
// tables are queried concurrently; nothing is written.
func (r *Resolver) Resolve(ctx context.Context, records []Record, m FieldMapping) (*ReferenceContext, error) {
	var specs []schema.FieldSpec
	for _, spec := range r.schema.References() {
		if m[spec.Field] != "" {
			specs = append(specs, spec)
		}
	}

	known := make([][]ReferenceEntity, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		g.Go(func() error {
			entities, err := r.lookup(gctx, spec, distinctValues(records, spec.Field))
			if err != nil {
				return fmt.Errorf("resolve %s: %w", spec.Field, err)
			}
			known[i] = entities
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	refs := NewReferenceContext()
	for i, spec := range specs {
		cands := ResolveReferences(records, spec.Field, known[i])
		refs.Add(newNamespace(spec, records, cands))
		r.log.Debug("references resolved",
			"field", spec.Field,
			"names", len(cands),
			"known", len(known[i]),
		)
	}
	return refs, nil
}

// lookup fetches the entities whose name is one of names.
func (r *Resolver) lookup(ctx context.Context, spec schema.FieldSpec, names []string) ([]ReferenceEntity, error) {
	if len(names) == 0 {
		return nil, nil
	}
	ref := spec.Reference
	rows, err := r.store.Query(ctx, ref.Table, store.Filter{
		Columns:    []string{"id", ref.NameColumn},
		Conditions: []store.Condition{{Column: ref.NameColumn, Op: store.OpIn, Value: names}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]ReferenceEntity, 0, len(rows))
	for _, row := range rows {
		out = append(out, ReferenceEntity{ID: row.String("id"), Name: row.String(ref.NameColumn)})
	}
	return out, nil
}

// findByName looks a single entity up, used after an "already exists" conflict.
func (r *Resolver) findByName(ctx context.Context, spec schema.FieldSpec, name string) (string, error) {
	entities, err := r.lookup(ctx, spec, []string{name})
	if err != nil {
		return "", err
	}
	for _, e := range entities {
		if e.Name == name {
			return e.ID, nil
		}
	}
	return "", fmt.Errorf("%s %q reported as existing but not found", spec.Field, name)
}

func distinctValues(records []Record, f schema.Field) []string {
	seen := make(map[string]bool)
	var out []string
	for _, rec := range records {
		v := strings.TrimSpace(rec.Get(f))
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
