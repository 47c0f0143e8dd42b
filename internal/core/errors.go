package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/catalogimport/internal/schema"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("import session not found")

// StructuralError means a source could not be read at all: it was empty,
// had no header columns, or its bytes could not be decoded.
type StructuralError struct {
	Reason string
	Err    error
}

func (e *StructuralError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unreadable source: %s: %v", e.Reason, e.Err)
	}
	return "unreadable source: " + e.Reason
}

func (e *StructuralError) Unwrap() error { return e.Err }

// MappingIncompleteError lists required fields with no source header.
type MappingIncompleteError struct {
	Missing []schema.Field
}

func (e *MappingIncompleteError) Error() string {
	names := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		names[i] = string(f)
	}
	return "mapping incomplete: missing required field(s) " + strings.Join(names, ", ")
}

// MappingConflictError reports a header assigned to several fields or a
// header that does not exist in the source.
type MappingConflictError struct {
	Header string
	Fields []schema.Field
}

func (e *MappingConflictError) Error() string {
	if len(e.Fields) <= 1 {
		return fmt.Sprintf("mapping conflict: column %q not found in source", e.Header)
	}
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = string(f)
	}
	return fmt.Sprintf("mapping conflict: column %q mapped to several fields (%s)", e.Header, strings.Join(names, ", "))
}

// ReferenceCreationError is recorded when a pending reference entity could
// not be created. Rows pointing at it fail with this message.
type ReferenceCreationError struct {
	Field schema.Field
	Name  string
	Err   error
}

func (e *ReferenceCreationError) Error() string {
	return fmt.Sprintf("reference %s %q could not be created: %v", e.Field, e.Name, e.Err)
}

func (e *ReferenceCreationError) Unwrap() error { return e.Err }

// BatchWriteError is returned when the store rejects a batch.
type BatchWriteError struct {
	Batch int
	Size  int
	Err   error
}

func (e *BatchWriteError) Error() string {
	return fmt.Sprintf("batch %d (%d records) write failed: %v", e.Batch, e.Size, e.Err)
}

func (e *BatchWriteError) Unwrap() error { return e.Err }
