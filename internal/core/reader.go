package core

// reader.go turns raw upload bytes into a SourceTable.
//
// Delimited sources are split into logical lines first (a quoted field may
// span physical lines), then each logical line is parsed on its own. A line
// that fails to parse is counted as malformed and skipped; it never aborts
// the read. Spreadsheets (XLSX, legacy XLS) are read from the first sheet.
//
// Every cell is sanitized (see SanitizeCell) and the first non-blank line is
// taken as the header row.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// MaxSourceSize is the maximum accepted source size (50MB).
var MaxSourceSize int64 = 50 * 1024 * 1024

// maxQuotedSpan bounds how many physical lines an open quote may swallow
// before the line is treated as malformed.
const maxQuotedSpan = 64

// maxLogEntries caps per-line entries in Diagnostics.Log.
const maxLogEntries = 100

// delimiterCandidates in tie-break order.
var delimiterCandidates = []rune{',', ';', '\t', '|'}

// rawLine is one parsed line before header detection.
type rawLine struct {
	line      int
	cells     []string
	malformed string // Non-empty when the line could not be parsed
	warning   string // Soft warning for a line that was still accepted
}

// DetectSourceKind guesses the kind of an upload from its name and content.
func DetectSourceKind(fileName string, data []byte) SourceKind {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm", ".xls":
		return SourceSpreadsheet
	case ".csv", ".tsv", ".txt":
		return SourceDelimited
	}
	if spreadsheetFormat(data) != "" {
		return SourceSpreadsheet
	}
	return SourceDelimited
}

// ReadSource parses data of the declared kind.
// Returns *StructuralError when nothing usable can be read.
func ReadSource(data []byte, kind SourceKind) (*SourceTable, error) {
	if len(data) == 0 {
		return nil, &StructuralError{Reason: "empty file"}
	}
	if int64(len(data)) > MaxSourceSize {
		return nil, &StructuralError{Reason: fmt.Sprintf("file too large (%d bytes, limit %d)", len(data), MaxSourceSize)}
	}

	var (
		lines []rawLine
		diag  Diagnostics
		err   error
	)

	switch kind {
	case SourceSpreadsheet:
		lines, diag.Format, err = readSpreadsheet(data)
	case SourceDelimited, "":
		kind = SourceDelimited
		diag.Format = "csv"
		var delim rune
		lines, delim = readDelimited(data)
		diag.Delimiter = string(delim)
	default:
		return nil, &StructuralError{Reason: fmt.Sprintf("unknown source kind %q", kind)}
	}
	if err != nil {
		return nil, err
	}

	return buildTable(kind, lines, diag)
}

// readDelimited splits sanitized text into logical lines and parses each.
func readDelimited(data []byte) ([]rawLine, rune) {
	text := string(sanitizeText(data))
	delim := sniffDelimiter(text)

	var out []rawLine
	for _, ll := range splitLogicalLines(text, delim) {
		if ll.unterminated {
			out = append(out, rawLine{line: ll.line, malformed: "unterminated quoted field"})
			continue
		}
		cells, warning, err := parseLine(ll.text, delim)
		if err != nil {
			out = append(out, rawLine{line: ll.line, malformed: err.Error()})
			continue
		}
		out = append(out, rawLine{line: ll.line, cells: cells, warning: warning})
	}
	return out, delim
}

// parseLine parses one logical line. A stray quote inside an unquoted field
// (e.g. 12" monitor) is tolerated with a warning; a broken quoted field is an
// error.
func parseLine(s string, delim rune) ([]string, string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, "", nil
	}

	rec, err := readRecord(s, delim, false)
	if err == nil || err == io.EOF {
		return rec, "", nil
	}
	if errors.Is(err, csv.ErrBareQuote) {
		rec, lazyErr := readRecord(s, delim, true)
		if lazyErr == nil || lazyErr == io.EOF {
			return rec, "stray quote character tolerated", nil
		}
	}

	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return nil, "", pe.Err
	}
	return nil, "", err
}

func readRecord(s string, delim rune, lazy bool) ([]string, error) {
	r := csv.NewReader(strings.NewReader(s))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = lazy
	return r.Read()
}

// sniffDelimiter picks the candidate occurring most often (outside quotes)
// on the first non-blank line. Defaults to comma.
func sniffDelimiter(text string) rune {
	var first string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			first = l
			break
		}
	}

	best, bestCount := ',', 0
	for _, cand := range delimiterCandidates {
		n := 0
		inQuotes := false
		for _, c := range first {
			switch {
			case c == '"':
				inQuotes = !inQuotes
			case c == cand && !inQuotes:
				n++
			}
		}
		if n > bestCount {
			best, bestCount = cand, n
		}
	}
	return best
}

type logicalLine struct {
	text         string
	line         int
	unterminated bool
}

// splitLogicalLines splits text on newlines that are not inside a quoted
// field. A quote only opens a quoted field at the start of a field. When a
// quoted field never closes (or spans more than maxQuotedSpan lines), only its
// first physical line is reported, flagged unterminated, and scanning resumes
// on the next physical line.
func splitLogicalLines(text string, delim rune) []logicalLine {
	var out []logicalLine
	line := 1
	i := 0

	for i < len(text) {
		start, startLine := i, line
		inQuotes, fieldStart := false, true
		span := 0
		end := -1
		broken := false

		j := i
		for j < len(text) {
			c := text[j]
			if inQuotes {
				if c == '"' {
					if j+1 < len(text) && text[j+1] == '"' {
						j += 2
						continue
					}
					inQuotes = false
				} else if c == '\n' {
					span++
					if span > maxQuotedSpan {
						broken = true
						break
					}
				}
				j++
				continue
			}

			if c == '\n' {
				end = j
				break
			}
			switch {
			case c == '"' && fieldStart:
				inQuotes = true
				fieldStart = false
			case rune(c) == delim:
				fieldStart = true
			default:
				fieldStart = false
			}
			j++
		}

		if inQuotes || broken {
			// Report the first physical line only and resume after it.
			nl := strings.IndexByte(text[start:], '\n')
			if nl < 0 {
				out = append(out, logicalLine{text: text[start:], line: startLine, unterminated: true})
				break
			}
			out = append(out, logicalLine{text: text[start : start+nl], line: startLine, unterminated: true})
			i = start + nl + 1
			line = startLine + 1
			continue
		}

		if end < 0 {
			end = len(text)
		}
		out = append(out, logicalLine{text: strings.TrimSuffix(text[start:end], "\r"), line: startLine})
		line = startLine + span + 1
		i = end + 1
	}
	return out
}

// buildTable sanitizes cells, picks the header row and assembles SourceRows.
func buildTable(kind SourceKind, lines []rawLine, diag Diagnostics) (*SourceTable, error) {
	table := &SourceTable{Kind: kind}
	logf := func(format string, args ...any) {
		if len(diag.Log) < maxLogEntries {
			diag.Log = append(diag.Log, fmt.Sprintf(format, args...))
		}
	}

	headerFound := false
	for _, rl := range lines {
		diag.TotalLines++

		if rl.malformed != "" {
			diag.MalformedLines++
			logf("line %d: malformed, skipped: %s", rl.line, rl.malformed)
			continue
		}

		cells := make([]string, len(rl.cells))
		blank := true
		for i, c := range rl.cells {
			cells[i] = SanitizeCell(c)
			if cells[i] != "" {
				blank = false
			}
		}
		if blank {
			diag.BlankLines++
			continue
		}
		if rl.warning != "" {
			logf("line %d: %s", rl.line, rl.warning)
		}

		if !headerFound {
			headerFound = true
			table.Headers = normalizeHeaders(cells)
			diag.Columns = len(table.Headers)
			continue
		}

		if len(cells) > len(table.Headers) {
			extra := cells[len(table.Headers):]
			for _, c := range extra {
				if c != "" {
					logf("line %d: %d cell(s) beyond the last header ignored", rl.line, len(extra))
					break
				}
			}
			cells = cells[:len(table.Headers)]
		}
		for len(cells) < len(table.Headers) {
			cells = append(cells, "")
		}

		table.rows = append(table.rows, SourceRow{line: rl.line, headers: table.Headers, cells: cells})
	}

	if !headerFound || len(table.Headers) == 0 {
		return nil, &StructuralError{Reason: "no header columns found"}
	}

	summary := fmt.Sprintf("read %d line(s): %d data row(s), %d blank, %d malformed, %d column(s)",
		diag.TotalLines, len(table.rows), diag.BlankLines, diag.MalformedLines, diag.Columns)
	diag.Log = append(diag.Log, summary)

	table.Diagnostics = diag
	return table, nil
}

// normalizeHeaders names empty headers "Column N" and suffixes duplicates so
// every header is unique and addressable.
func normalizeHeaders(cells []string) []string {
	headers := make([]string, len(cells))
	seen := make(map[string]int, len(cells))
	for i, h := range cells {
		if h == "" {
			h = fmt.Sprintf("Column %d", i+1)
		}
		key := strings.ToLower(h)
		seen[key]++
		if n := seen[key]; n > 1 {
			h = fmt.Sprintf("%s (%d)", h, n)
			seen[strings.ToLower(h)]++
		}
		headers[i] = h
	}
	return headers
}
