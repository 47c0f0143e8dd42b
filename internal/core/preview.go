package core

import (
	"sort"
	"strings"

	"github.com/JonMunkholm/catalogimport/internal/schema"
)

// PreviewSummary contains the summary counts shown before import.
type PreviewSummary struct {
	TotalRows         int `json:"totalRows"`
	ImportableRows    int `json:"importableRows"`
	BlockedRows       int `json:"blockedRows"`
	FixableIssues     int `json:"fixableIssues"`
	TerminalIssues    int `json:"terminalIssues"`
	DuplicateInFile   int `json:"duplicateInFile"`
	PendingReferences int `json:"pendingReferences"`
	ImageCandidates   int `json:"imageCandidates"`
}

// RowPreview represents a single record for preview display.
type RowPreview struct {
	LineNumber int                     `json:"lineNumber"`
	RecordID   string                  `json:"recordId"`
	Values     map[schema.Field]string `json:"values"`
}

// ErrorPreview represents a blocked record and why.
type ErrorPreview struct {
	LineNumber int                     `json:"lineNumber"`
	RecordID   string                  `json:"recordId"`
	Values     map[schema.Field]string `json:"values"`
	Errors     []string                `json:"errors"`
}

// DuplicatePreview lists records sharing the same name.
type DuplicatePreview struct {
	Name        string `json:"name"`
	LineNumbers []int  `json:"lineNumbers"`
}

// PreviewResponse is the complete preview of an import.
type PreviewResponse struct {
	Summary          PreviewSummary     `json:"summary"`
	Samples          []RowPreview       `json:"samples"`
	ErrorSamples     []ErrorPreview     `json:"errorSamples"`
	DuplicateSamples []DuplicatePreview `json:"duplicateSamples"`
	References       []ReferenceSummary `json:"references"`
}

// Sample limits
const (
	maxRowSamples       = 10
	maxErrorSamples     = 20
	maxDuplicateSamples = 10
)

// BuildPreview summarises what an import of records would do. It performs no
// I/O.
func BuildPreview(records []Record, issues IssueSet, refs *ReferenceContext, imageCandidates int) *PreviewResponse {
	resp := &PreviewResponse{
		Samples:          []RowPreview{},
		ErrorSamples:     []ErrorPreview{},
		DuplicateSamples: []DuplicatePreview{},
		References:       refs.Report(),
	}
	resp.Summary.TotalRows = len(records)
	resp.Summary.FixableIssues, resp.Summary.TerminalIssues = issues.Count()
	resp.Summary.PendingReferences = len(refs.Pending())
	resp.Summary.ImageCandidates = imageCandidates

	byName := make(map[string][]int)
	for _, rec := range records {
		if name := strings.TrimSpace(rec.Get(schema.FieldName)); name != "" {
			key := strings.ToLower(name)
			byName[key] = append(byName[key], rec.Line)
		}

		if issues.Blocked(rec.Row) {
			resp.Summary.BlockedRows++
			if len(resp.ErrorSamples) < maxErrorSamples {
				var msgs []string
				for _, is := range issues[rec.Row] {
					if is.Severity == SeverityTerminal {
						msgs = append(msgs, string(is.Field)+": "+is.Message)
					}
				}
				resp.ErrorSamples = append(resp.ErrorSamples, ErrorPreview{
					LineNumber: rec.Line,
					RecordID:   rec.ID,
					Values:     rec.Values(),
					Errors:     msgs,
				})
			}
			continue
		}

		resp.Summary.ImportableRows++
		if len(resp.Samples) < maxRowSamples {
			resp.Samples = append(resp.Samples, RowPreview{LineNumber: rec.Line, RecordID: rec.ID, Values: rec.Values()})
		}
	}

	names := make([]string, 0, len(byName))
	for name, lines := range byName {
		if len(lines) > 1 {
			names = append(names, name)
			resp.Summary.DuplicateInFile += len(lines) - 1
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if len(resp.DuplicateSamples) >= maxDuplicateSamples {
			break
		}
		resp.DuplicateSamples = append(resp.DuplicateSamples, DuplicatePreview{Name: name, LineNumbers: byName[name]})
	}

	return resp
}
