package core

// executor.go writes validated records to the store.
//
// Pending reference entities are created first, each with a client-side UUID.
// Records are then written in fixed-size batches, strictly one after another,
// with one InsertMany per batch. A failed batch marks its records failed and
// the import moves on to the next batch. Cancellation is observed between
// batches.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogimport/internal/schema"
	"github.com/JonMunkholm/catalogimport/internal/store"
)

// DefaultBatchSize is the number of records per InsertMany call.
const DefaultBatchSize = 5

// ExecutorConfig controls batch size and column filtering.
type ExecutorConfig struct {
	BatchSize int

	// DisallowedColumns are stripped from every row before insert.
	DisallowedColumns []string
}

// ImageLookup returns the stored image URL resolved for a record.
type ImageLookup interface {
	StoredURL(recordID string) (string, bool)
}

// Executor runs imports against a store.
type Executor struct {
	store    store.Store
	schema   *schema.Schema
	resolver *Resolver
	cfg      ExecutorConfig
	log      *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(st store.Store, s *schema.Schema, cfg ExecutorConfig, log *slog.Logger) *Executor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		store:    st,
		schema:   s,
		resolver: NewResolver(st, s, log),
		cfg:      cfg,
		log:      log,
	}
}

// Execute creates pending references, then writes records batch by batch.
// onProgress, when non-nil, receives a snapshot after every batch.
func (e *Executor) Execute(ctx context.Context, records []Record, refs *ReferenceContext, images ImageLookup, onProgress ProgressCallback) ImportOutcome {
	started := time.Now()
	out := ImportOutcome{Total: len(records), Failures: []ImportFailure{}}

	out.ReferenceFailures = e.createPendingReferences(ctx, refs)

	for start := 0; start < len(records); start += e.cfg.BatchSize {
		if ctx.Err() != nil {
			out.Aborted = true
			e.log.Info("import aborted", "processed", out.Processed, "total", out.Total)
			break
		}

		end := min(start+e.cfg.BatchSize, len(records))
		e.writeBatch(ctx, out.Batches+1, records[start:end], refs, images, &out)
		out.Batches++
		out.Duration = time.Since(started)

		if onProgress != nil {
			onProgress(out.clone())
		}
	}

	out.Duration = time.Since(started)
	return out
}

// writeBatch normalizes one batch and submits it with a single InsertMany.
func (e *Executor) writeBatch(ctx context.Context, n int, batch []Record, refs *ReferenceContext, images ImageLookup, out *ImportOutcome) {
	rows := make([]store.Row, 0, len(batch))
	submitted := make([]Record, 0, len(batch))

	for _, rec := range batch {
		row, err := e.normalize(rec, refs, images)
		if err != nil {
			out.Failures = append(out.Failures, ImportFailure{RecordID: rec.ID, Row: rec.Row, Message: err.Error()})
			out.Failed++
			continue
		}
		rows = append(rows, row)
		submitted = append(submitted, rec)
	}

	if len(rows) > 0 {
		ids, err := e.store.InsertMany(ctx, e.schema.Table, rows)
		if err != nil {
			bwErr := &BatchWriteError{Batch: n, Size: len(rows), Err: err}
			e.log.Warn("batch write failed", "error", bwErr)
			for _, rec := range submitted {
				out.Failures = append(out.Failures, ImportFailure{RecordID: rec.ID, Row: rec.Row, Message: bwErr.Error()})
			}
			out.Failed += len(submitted)
		} else {
			out.Succeeded += len(submitted)
			out.InsertedIDs = append(out.InsertedIDs, ids...)
		}
	}

	out.Processed += len(batch)
}

// createPendingReferences creates every PendingCreate candidate. Failures are
// logged and returned; they never stop other candidates.
func (e *Executor) createPendingReferences(ctx context.Context, refs *ReferenceContext) []ReferenceFailure {
	var failures []ReferenceFailure
	for _, cand := range refs.Pending() {
		ns, _ := refs.Namespace(cand.Field)
		if err := e.createReference(ctx, ns.Spec, cand); err != nil {
			refErr := &ReferenceCreationError{Field: cand.Field, Name: cand.Name, Err: err}
			cand.Err = refErr.Error()
			e.log.Warn("reference creation failed", "field", cand.Field, "name", cand.Name, "error", err)
			failures = append(failures, ReferenceFailure{Field: cand.Field, Name: cand.Name, Message: refErr.Error()})
		}
	}
	return failures
}

func (e *Executor) createReference(ctx context.Context, spec schema.FieldSpec, cand *ReferenceCandidate) error {
	ref := spec.Reference
	id := uuid.NewString()
	_, err := e.store.InsertOne(ctx, ref.Table, store.Row{"id": id, ref.NameColumn: cand.Name})
	switch {
	case err == nil:
		cand.MarkExisting(id)
		return nil
	case errors.Is(err, store.ErrAlreadyExists):
		// Created concurrently by someone else; adopt the existing row.
		existing, findErr := e.resolver.findByName(ctx, spec, cand.Name)
		if findErr != nil {
			return findErr
		}
		cand.MarkExisting(existing)
		return nil
	default:
		return err
	}
}

// normalize turns a record into a store row: numeric values are parsed,
// reference names are replaced by ids, the stored image URL is merged and
// disallowed columns are dropped.
func (e *Executor) normalize(rec Record, refs *ReferenceContext, images ImageLookup) (store.Row, error) {
	id := rec.ID
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	row := store.Row{"id": id}

	for _, spec := range e.schema.Fields {
		if spec.Field == schema.FieldID {
			continue
		}
		v := strings.TrimSpace(rec.Get(spec.Field))

		switch spec.Kind {
		case schema.KindImage:
			if images != nil {
				if stored, ok := images.StoredURL(rec.ID); ok {
					row[spec.Column()] = stored
					continue
				}
			}
			if first := firstURL(v); first != "" {
				row[spec.Column()] = first
			}
			continue
		}

		if v == "" {
			continue
		}

		switch spec.Kind {
		case schema.KindNumeric:
			n, ok := ParseNumber(v)
			if !ok {
				fixed, fixable := FixNumber(v)
				if !fixable {
					return nil, fmt.Errorf("%s: %q is not a number", spec.Field, v)
				}
				n, _ = ParseNumber(fixed)
			}
			row[spec.Column()] = n

		case schema.KindReference:
			refID, err := referenceID(refs, spec.Field, v)
			if err != nil {
				return nil, err
			}
			row[spec.Column()] = refID

		default:
			row[spec.Column()] = v
		}
	}

	for col := range row {
		if slices.Contains(e.cfg.DisallowedColumns, col) {
			delete(row, col)
		}
	}
	return row, nil
}

func referenceID(refs *ReferenceContext, f schema.Field, value string) (string, error) {
	ns, ok := refs.Namespace(f)
	if !ok {
		return "", fmt.Errorf("%s %q: references were not resolved", f, value)
	}
	cand, ok := ns.Lookup(value)
	if !ok {
		return "", fmt.Errorf("%s %q: unknown reference", f, value)
	}
	if cand.State != CandidateExisting {
		if cand.Err != "" {
			return "", errors.New(cand.Err)
		}
		return "", fmt.Errorf("%s %q was not created", f, value)
	}
	return cand.ID, nil
}

// firstURL returns the first entry of a pipe-delimited URL list.
func firstURL(v string) string {
	first, _, _ := strings.Cut(v, "|")
	return strings.TrimSpace(first)
}
