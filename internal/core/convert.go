package core

// convert.go provides the cell-level conversions shared by the reader, the
// validator and the executor.
//
// These functions handle the messy reality of catalog exports:
//   - Control characters, line separators and non-NFC text in cells
//   - Excel formula prefixes (="value")
//   - Currency symbols and locale-specific decimal separators in prices
//   - URLs buried in surrounding text or lists

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// numericRegex validates that a string is a plain decimal number.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// urlPrefixRegex matches a value that is already an absolute http(s) URL.
var urlPrefixRegex = regexp.MustCompile(`(?i)^https?://`)

// embeddedURLRegex finds the first http(s) URL inside arbitrary text. It stops
// at whitespace and common list separators.
var embeddedURLRegex = regexp.MustCompile(`(?i)https?://[^\s|,;"'<>]+`)

// SanitizeCell cleans a raw cell value. Control characters, line breaks, tabs
// and the Unicode line/paragraph separators are removed, Excel formula wrappers
// are unwrapped, and the result is NFC-normalized and trimmed.
func SanitizeCell(s string) string {
	if s == "" {
		return ""
	}

	s = strings.Map(func(r rune) rune {
		switch r {
		case '\u2028', '\u2029', '\ufeff', '\u200b':
			return -1
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	s = CleanCell(s)
	if !norm.NFC.IsNormalString(s) {
		s = norm.NFC.String(s)
	}
	return strings.TrimSpace(s)
}

// CleanCell removes spreadsheet artifacts from a cell value:
// - Trims whitespace
// - Removes Excel text formula wrapper (="...")
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}
	return s
}

// ParseNumber parses a strictly formatted finite number.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if !numericRegex.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// FixNumber recovers a number from a loosely formatted price such as
// "R$ 1.234,56" or "$10,5". Everything except digits and separators is
// dropped, commas become dots and only the last dot is kept as the decimal
// point. Accounting negatives "(12.50)" keep their sign.
//
// Returns the canonical decimal string and true on success.
func FixNumber(s string) (string, bool) {
	s = strings.TrimSpace(s)
	negative := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == ',':
			b.WriteByte('.')
		}
	}
	cleaned := b.String()

	if i := strings.LastIndexByte(cleaned, '.'); i >= 0 {
		cleaned = strings.ReplaceAll(cleaned[:i], ".", "") + cleaned[i:]
	}
	cleaned = strings.TrimSuffix(cleaned, ".")
	if negative {
		cleaned = "-" + cleaned
	}

	f, ok := ParseNumber(cleaned)
	if !ok {
		return "", false
	}
	return FormatNumber(f), true
}

// FormatNumber renders f in the shortest exact decimal form.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// IsAbsoluteURL reports whether s starts with http:// or https://.
func IsAbsoluteURL(s string) bool {
	return urlPrefixRegex.MatchString(strings.TrimSpace(s))
}

// ExtractURL returns the first http(s) URL embedded in s.
func ExtractURL(s string) (string, bool) {
	u := embeddedURLRegex.FindString(s)
	return u, u != ""
}
