// Package media resolves catalog image references to stored images.
//
// Each record contributes at most one ImageTask. A task is resolved by running
// an ordered chain of fetch strategies (content API substitution, direct
// fetch, relays, placeholder) until one returns bytes that are really an
// image. The bytes are then uploaded to object storage and the stored URL is
// recorded in Results, which the importer reads when writing records.
package media

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the resolution state of an ImageTask.
type Status string

const (
	StatusPending   Status = "pending"
	StatusResolving Status = "resolving"
	StatusResolved  Status = "resolved"
	StatusFailed    Status = "failed"
)

// FailureKind separates network failures from storage failures.
type FailureKind string

const (
	FailureNone   FailureKind = ""
	FailureFetch  FailureKind = "fetch"
	FailureUpload FailureKind = "upload"
)

// Attempt records one strategy tried for a task.
type Attempt struct {
	Strategy string `json:"strategy"`
	URL      string `json:"url"`
	Error    string `json:"error,omitempty"`
}

// ImageTask is one image reference being resolved for one record.
type ImageTask struct {
	RecordID  string      `json:"recordId"`
	SourceURL string      `json:"sourceUrl"`
	Status    Status      `json:"status"`
	Failure   FailureKind `json:"failure,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Attempts  []Attempt   `json:"attempts,omitempty"`

	// Set once resolved
	Strategy    string `json:"strategy,omitempty"`
	StoredURL   string `json:"storedUrl,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int    `json:"size,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	BlurHash    string `json:"blurHash,omitempty"`
}

// ManualEligible reports whether an operator may supply the image by hand.
func (t ImageTask) ManualEligible() bool {
	return t.Status == StatusFailed || t.Status == StatusPending
}

// ErrNotImage is returned when fetched or uploaded bytes are not an image.
var ErrNotImage = errors.New("content is not an image")

// FetchError is returned when every strategy failed for a task.
type FetchError struct {
	URL      string
	Attempts []Attempt
}

func (e *FetchError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("fetch %s: no strategy available", e.URL)
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Strategy + ": " + a.Error
	}
	return fmt.Sprintf("fetch %s: all strategies failed (%s)", e.URL, strings.Join(parts, "; "))
}

// UploadError is returned when a fetched image could not be stored.
type UploadError struct {
	Path string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Path, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Summary counts tasks by status.
type Summary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Resolving int `json:"resolving"`
	Resolved  int `json:"resolved"`
	Failed    int `json:"failed"`
}

// Summarize counts tasks by status.
func Summarize(tasks []ImageTask) Summary {
	s := Summary{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case StatusPending:
			s.Pending++
		case StatusResolving:
			s.Resolving++
		case StatusResolved:
			s.Resolved++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}
