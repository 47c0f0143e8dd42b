package core

// session.go holds one import run as an explicit state machine. Each public
// method performs one transition (see state.go) and returns plain report
// values; the session never hands out its internal slices.
//
// Short, CPU-bound steps run under the session lock. Steps that wait on the
// store or the network mark the session busy, release the lock while they
// work, and commit their result afterwards.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/media"
	"github.com/JonMunkholm/catalogimport/internal/schema"
	"github.com/JonMunkholm/catalogimport/internal/store"
)

// ErrMediaDisabled is returned by media operations when no pipeline is configured.
var ErrMediaDisabled = errors.New("media resolution is not configured")

// SessionConfig carries a session's collaborators and policy.
type SessionConfig struct {
	Schema     *schema.Schema
	Store      store.Store
	Media      *media.Pipeline // Nil disables media resolution
	Executor   ExecutorConfig
	Validation ValidateOptions
	Logger     *slog.Logger
}

// Session is one import run.
type Session struct {
	ID string

	cfg       SessionConfig
	validator *Validator
	resolver  *Resolver
	executor  *Executor
	log       *slog.Logger

	mu        sync.Mutex
	state     State
	busy      bool
	fileName  string
	table     *SourceTable
	mapping   FieldMapping
	records   []Record
	refs      *ReferenceContext
	issues    IssueSet
	tasks     []media.ImageTask
	images    *media.Results
	outcome   *ImportOutcome
	createdAt time.Time
	updatedAt time.Time
}

// NewSession creates a session in StateNew.
func NewSession(id string, cfg SessionConfig) *Session {
	if cfg.Schema == nil {
		cfg.Schema = schema.Default()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("session_id", id)

	now := time.Now()
	return &Session{
		ID:        id,
		cfg:       cfg,
		validator: NewValidator(cfg.Schema, cfg.Validation),
		resolver:  NewResolver(cfg.Store, cfg.Schema, log),
		executor:  NewExecutor(cfg.Store, cfg.Schema, cfg.Executor, log),
		log:       log,
		state:     StateNew,
		images:    media.NewResults(),
		createdAt: now,
		updatedAt: now,
	}
}

// ============================================================================
// Reports
// ============================================================================

// SourceReport is returned after a source is loaded.
type SourceReport struct {
	SessionID   string         `json:"sessionId"`
	FileName    string         `json:"fileName"`
	Kind        SourceKind     `json:"kind"`
	Headers     []string       `json:"headers"`
	Rows        int            `json:"rows"`
	Diagnostics Diagnostics    `json:"diagnostics"`
	Suggested   FieldMapping   `json:"suggestedMapping"`
	Missing     []schema.Field `json:"missingRequired"`
}

// MappingReport is returned after a mapping is applied.
type MappingReport struct {
	Mapping         FieldMapping `json:"mapping"`
	Problems        []string     `json:"problems,omitempty"`
	Records         int          `json:"records"`
	UnmappedHeaders []string     `json:"unmappedHeaders"`
	ImageCandidates int          `json:"imageCandidates"`
}

// ValidationReport lists every issue and the resulting row counts.
type ValidationReport struct {
	Issues     []ValidationIssue `json:"issues"`
	Fixable    int               `json:"fixable"`
	Terminal   int               `json:"terminal"`
	Importable int               `json:"importable"`
	Blocked    int               `json:"blocked"`
}

// MediaReport is the task list after a media run.
type MediaReport struct {
	Tasks   []media.ImageTask `json:"tasks"`
	Summary media.Summary     `json:"summary"`
	Stored  map[string]string `json:"stored"`
}

// SessionInfo is a snapshot of session metadata.
type SessionInfo struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Busy      bool      `json:"busy"`
	FileName  string    `json:"fileName"`
	Rows      int       `json:"rows"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ============================================================================
// Transitions
// ============================================================================

// LoadSource reads the source and suggests a mapping. An empty kind is
// detected from the file name and content.
func (s *Session) LoadSource(fileName string, data []byte, kind SourceKind) (*SourceReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(StateSourceLoaded); err != nil {
		return nil, err
	}

	if kind == "" {
		kind = DetectSourceKind(fileName, data)
	}
	table, err := ReadSource(data, kind)
	if err != nil {
		return nil, err
	}

	s.fileName = fileName
	s.table = table
	s.moveLocked(StateSourceLoaded)

	suggested := SuggestMapping(table.Headers, s.cfg.Schema)
	s.log.Info("source loaded",
		"file", fileName,
		"kind", kind,
		"rows", table.Len(),
		"columns", len(table.Headers),
		"malformed", table.Diagnostics.MalformedLines,
	)
	return &SourceReport{
		SessionID:   s.ID,
		FileName:    fileName,
		Kind:        table.Kind,
		Headers:     slices.Clone(table.Headers),
		Rows:        table.Len(),
		Diagnostics: table.Diagnostics,
		Suggested:   suggested,
		Missing:     MissingRequired(suggested, s.cfg.Schema),
	}, nil
}

// SuggestMapping returns the automatic mapping for the loaded source.
func (s *Session) SuggestMapping() (FieldMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table == nil {
		return nil, transitionError(s.state, StateMapped)
	}
	return SuggestMapping(s.table.Headers, s.cfg.Schema), nil
}

// ApplyMapping checks m against the source and builds records. Everything
// derived from an earlier mapping is discarded.
func (s *Session) ApplyMapping(m FieldMapping) (*MappingReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(StateMapped); err != nil {
		return nil, err
	}
	if err := CheckMapping(m, s.table.Headers, s.cfg.Schema); err != nil {
		return nil, err
	}

	s.mapping = m.Clone()
	var notes []string
	s.records, notes = BuildRecords(s.table, s.mapping, s.cfg.Schema)
	for _, n := range notes {
		s.log.Warn("duplicate record id", "detail", n)
	}
	s.refs = nil
	s.issues = nil
	s.outcome = nil
	s.images = media.NewResults()
	s.tasks = media.ExtractImageTasks(s.imageValuesLocked())
	s.moveLocked(StateMapped)

	used := make(map[string]bool, len(s.mapping))
	for _, h := range s.mapping {
		used[h] = true
	}
	unmapped := []string{}
	for _, h := range s.table.Headers {
		if !used[h] {
			unmapped = append(unmapped, h)
		}
	}

	return &MappingReport{
		Mapping:         s.mapping.Clone(),
		Problems:        notes,
		Records:         len(s.records),
		UnmappedHeaders: unmapped,
		ImageCandidates: len(s.tasks),
	}, nil
}

// ApplyRawMapping normalizes an externally keyed mapping, then applies it.
// Keys that could not be normalized are listed in the report's Problems.
func (s *Session) ApplyRawMapping(raw map[string]string) (*MappingReport, error) {
	m, problems := NormalizeMapping(raw, s.cfg.Schema)
	report, err := s.ApplyMapping(m)
	if err != nil {
		return nil, err
	}
	report.Problems = append(problems, report.Problems...)
	return report, nil
}

// ResolveReferences looks up every mapped reference column.
func (s *Session) ResolveReferences(ctx context.Context) ([]ReferenceSummary, error) {
	if err := s.begin(StateReferencesResolved); err != nil {
		return nil, err
	}
	defer s.end()

	s.mu.Lock()
	records, mapping := s.records, s.mapping
	s.mu.Unlock()

	refs, err := s.resolver.Resolve(ctx, records, mapping)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = refs
	s.issues = nil
	s.moveLocked(StateReferencesResolved)
	return refs.Report(), nil
}

// Validate checks every record and returns the issue report.
func (s *Session) Validate() (*ValidationReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(StateValidated); err != nil {
		return nil, err
	}

	s.issues = s.validator.ValidateAll(s.records, s.mapping)
	s.moveLocked(StateValidated)
	return buildValidationReport(s.records, s.issues), nil
}

// AutoFix applies suggestions for the given rows (all rows when none are
// given) and revalidates.
func (s *Session) AutoFix(rows []int) (*ValidationReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateValidated && s.state != StatePreviewed {
		return nil, transitionError(s.state, StateValidated)
	}
	if err := s.checkLocked(StateValidated); err != nil {
		return nil, err
	}

	var selection map[int]bool
	if len(rows) > 0 {
		selection = make(map[int]bool, len(rows))
		for _, r := range rows {
			selection[r] = true
		}
	}

	before, _ := s.issues.Count()
	s.records, s.issues = s.validator.AutoFix(s.records, s.issues, s.mapping, selection)
	after, _ := s.issues.Count()
	s.tasks = mergeTasks(s.tasks, media.ExtractImageTasks(s.imageValuesLocked()))
	s.moveLocked(StateValidated)

	s.log.Info("auto-fix applied", "fixable_before", before, "fixable_after", after)
	return buildValidationReport(s.records, s.issues), nil
}

// Preview summarises what the import would do.
func (s *Session) Preview() (*PreviewResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(StatePreviewed); err != nil {
		return nil, err
	}
	resp := BuildPreview(s.records, s.issues, s.refs, len(s.tasks))
	s.moveLocked(StatePreviewed)
	return resp, nil
}

// ResolveMedia resolves the image tasks of importable records. onUpdate,
// when non-nil, receives every task status change as it happens.
func (s *Session) ResolveMedia(ctx context.Context, onUpdate func(media.ImageTask)) (*MediaReport, error) {
	if s.cfg.Media == nil {
		return nil, ErrMediaDisabled
	}
	if err := s.begin(StateMediaResolved); err != nil {
		return nil, err
	}
	defer s.end()

	s.mu.Lock()
	index := make(map[string]int, len(s.tasks))
	var work []media.ImageTask
	for i, t := range s.tasks {
		index[t.RecordID] = i
	}
	blocked := s.blockedIDsLocked()
	for _, t := range s.tasks {
		if !blocked[t.RecordID] {
			work = append(work, t)
		}
	}
	results := s.images
	s.mu.Unlock()

	resolved := s.cfg.Media.Resolve(ctx, work, results, func(t media.ImageTask) {
		s.mu.Lock()
		if i, ok := index[t.RecordID]; ok {
			s.tasks[i] = t
		}
		s.mu.Unlock()
		if onUpdate != nil {
			onUpdate(t)
		}
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range resolved {
		if i, ok := index[t.RecordID]; ok {
			s.tasks[i] = t
		}
	}
	s.moveLocked(StateMediaResolved)

	report := s.mediaReportLocked()
	s.log.Info("media resolved",
		"tasks", report.Summary.Total,
		"resolved", report.Summary.Resolved,
		"failed", report.Summary.Failed,
	)
	return report, nil
}

// UploadManualImage stores an operator-supplied image for a record whose
// image could not be resolved.
func (s *Session) UploadManualImage(ctx context.Context, recordID, fileName string, data []byte) (media.ImageTask, error) {
	if s.cfg.Media == nil {
		return media.ImageTask{}, ErrMediaDisabled
	}
	if err := s.begin(StateMediaResolved); err != nil {
		return media.ImageTask{}, err
	}
	defer s.end()

	s.mu.Lock()
	idx := slices.IndexFunc(s.tasks, func(t media.ImageTask) bool { return t.RecordID == recordID })
	var task media.ImageTask
	if idx >= 0 {
		task = s.tasks[idx]
	} else if slices.ContainsFunc(s.records, func(r Record) bool { return r.ID == recordID }) {
		task = media.ImageTask{RecordID: recordID, Status: media.StatusPending}
	} else {
		s.mu.Unlock()
		return media.ImageTask{}, fmt.Errorf("record %s not found in session", recordID)
	}
	results := s.images
	s.mu.Unlock()

	if task.Status == media.StatusResolved {
		return task, fmt.Errorf("record %s already has an image", recordID)
	}

	updated, err := s.cfg.Media.ManualUpload(ctx, task, fileName, data, results)

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx >= 0 {
		s.tasks[idx] = updated
	} else {
		s.tasks = append(s.tasks, updated)
	}
	if err != nil {
		return updated, err
	}
	s.moveLocked(StateMediaResolved)
	return updated, nil
}

// Import writes every importable record. onProgress, when non-nil, receives
// a snapshot after each batch. Cancelling ctx stops the import at the next
// batch boundary.
func (s *Session) Import(ctx context.Context, onProgress ProgressCallback) (ImportOutcome, error) {
	if err := s.begin(StateImported); err != nil {
		return ImportOutcome{}, err
	}
	defer s.end()

	s.mu.Lock()
	importable, blocked := Importable(s.records, s.issues)
	refs, images := s.refs, s.images
	s.mu.Unlock()

	s.log.Info("import started", "importable", len(importable), "blocked", len(blocked))

	outcome := s.executor.Execute(ctx, importable, refs, images, func(o ImportOutcome) {
		s.mu.Lock()
		s.outcome = &o
		s.mu.Unlock()
		if onProgress != nil {
			onProgress(o)
		}
	})

	s.mu.Lock()
	s.outcome = &outcome
	s.moveLocked(StateImported)
	s.mu.Unlock()

	s.log.Info("import finished",
		"succeeded", outcome.Succeeded,
		"failed", outcome.Failed,
		"aborted", outcome.Aborted,
		"duration", outcome.Duration,
	)
	return outcome.clone(), nil
}

// ============================================================================
// Accessors
// ============================================================================

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns session metadata.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := 0
	if s.table != nil {
		rows = s.table.Len()
	}
	return SessionInfo{
		ID:        s.ID,
		State:     s.state,
		Busy:      s.busy,
		FileName:  s.fileName,
		Rows:      rows,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
}

// Headers returns the source headers.
func (s *Session) Headers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table == nil {
		return nil
	}
	return slices.Clone(s.table.Headers)
}

// Mapping returns the applied mapping.
func (s *Session) Mapping() FieldMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapping.Clone()
}

// Records returns a copy of the current records.
func (s *Session) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

// Media returns the live task list and stored URLs.
func (s *Session) Media() *MediaReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mediaReportLocked()
}

// Outcome returns the latest import outcome, if an import has started.
func (s *Session) Outcome() (ImportOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == nil {
		return ImportOutcome{}, false
	}
	return s.outcome.clone(), true
}

// idleSince returns the last modification time, or zero while busy.
func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt, !s.busy
}

// ============================================================================
// Internals
// ============================================================================

// checkLocked verifies the session is idle and next is reachable.
func (s *Session) checkLocked(next State) error {
	if s.busy {
		return ErrSessionBusy
	}
	if !s.state.CanTransition(next) {
		return transitionError(s.state, next)
	}
	return nil
}

func (s *Session) moveLocked(next State) {
	s.state = next
	s.updatedAt = time.Now()
}

// begin marks the session busy for a long-running transition to next.
func (s *Session) begin(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(next); err != nil {
		return err
	}
	s.busy = true
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.busy = false
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// imageValuesLocked collects the image cell of every record.
func (s *Session) imageValuesLocked() []media.SourceValue {
	fields := s.cfg.Schema.ByKind(schema.KindImage)
	if len(fields) == 0 {
		return nil
	}
	values := make([]media.SourceValue, 0, len(s.records))
	for _, rec := range s.records {
		values = append(values, media.SourceValue{RecordID: rec.ID, Value: rec.Get(fields[0])})
	}
	return values
}

func (s *Session) blockedIDsLocked() map[string]bool {
	blocked := make(map[string]bool)
	for _, rec := range s.records {
		if s.issues.Blocked(rec.Row) {
			blocked[rec.ID] = true
		}
	}
	return blocked
}

func (s *Session) mediaReportLocked() *MediaReport {
	tasks := slices.Clone(s.tasks)
	if tasks == nil {
		tasks = []media.ImageTask{}
	}
	return &MediaReport{Tasks: tasks, Summary: media.Summarize(tasks), Stored: s.images.Snapshot()}
}

// mergeTasks keeps existing task state for records whose source URL is
// unchanged and takes fresh tasks for the rest.
func mergeTasks(old, fresh []media.ImageTask) []media.ImageTask {
	prev := make(map[string]media.ImageTask, len(old))
	for _, t := range old {
		prev[t.RecordID] = t
	}
	out := make([]media.ImageTask, 0, len(fresh))
	for _, t := range fresh {
		if p, ok := prev[t.RecordID]; ok && p.SourceURL == t.SourceURL {
			out = append(out, p)
			continue
		}
		out = append(out, t)
	}
	return out
}

func buildValidationReport(records []Record, issues IssueSet) *ValidationReport {
	report := &ValidationReport{Issues: []ValidationIssue{}}
	rows := make([]int, 0, len(issues))
	for row := range issues {
		rows = append(rows, row)
	}
	sort.Ints(rows)
	for _, row := range rows {
		report.Issues = append(report.Issues, issues[row]...)
	}
	report.Fixable, report.Terminal = issues.Count()
	ok, blocked := Importable(records, issues)
	report.Importable, report.Blocked = len(ok), len(blocked)
	return report
}
