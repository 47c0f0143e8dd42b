package core

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/JonMunkholm/catalogimport/internal/schema"
	"github.com/JonMunkholm/catalogimport/internal/store"
)

// ============================================================================
// Conversion Function Benchmarks
// ============================================================================

// BenchmarkFixNumber benchmarks loose price recovery.
// Runs for every numeric cell that fails strict parsing.
func BenchmarkFixNumber(b *testing.B) {
	testCases := []string{
		"R$ 1.234,56",
		"$10,5",
		"(12.50)",      // Accounting negative
		"1,234,567.89", // Thousands separators
		"\u20ac 99",    // Euro
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			FixNumber(tc)
		}
	}
}

// BenchmarkParseNumber_Simple benchmarks the most common case: plain decimals.
func BenchmarkParseNumber_Simple(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseNumber("125.50")
	}
}

// ============================================================================
// Cell Cleaning Benchmarks
// ============================================================================

// BenchmarkSanitizeCell benchmarks cell sanitization.
// Called for every cell during import, so performance is critical.
func BenchmarkSanitizeCell(b *testing.B) {
	testCases := []string{
		"Concrete Mixer 400L",
		"  padded value  ",
		"Cafe\u0301 line\u2028break",
		"zero\u200bwidth",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			SanitizeCell(tc)
		}
	}
}

// BenchmarkExtractURL benchmarks URL recovery from free text.
func BenchmarkExtractURL(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ExtractURL("see https://docs.example/spec.pdf for details")
	}
}

// ============================================================================
// Reader Benchmarks
// ============================================================================

func generateCatalogCSV(rows int) []byte {
	var sb strings.Builder
	sb.WriteString("Name;Category;Brand;Daily Rate;Image\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "Item %d;Category %d;Brand;\"R$ %d,50\";https://img.example/%d.jpg\n", i, i%20, i, i)
	}
	return []byte(sb.String())
}

// BenchmarkReadSource benchmarks delimiter sniffing and parsing.
func BenchmarkReadSource(b *testing.B) {
	data := generateCatalogCSV(1000)

	b.ReportAllocs()
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ReadSource(data, SourceDelimited); err != nil {
			b.Fatal(err)
		}
	}
}

// ============================================================================
// Mapping and Validation Benchmarks
// ============================================================================

// BenchmarkSuggestMapping benchmarks automatic header mapping.
// Called once per uploaded file.
func BenchmarkSuggestMapping(b *testing.B) {
	s := schema.Default()
	headers := append([]string{}, catalogHeaders...)
	for i := 0; i < 40; i++ {
		headers = append(headers, fmt.Sprintf("Extra Column %d", i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		SuggestMapping(headers, s)
	}
}

// BenchmarkValidateAll benchmarks validation of a full file.
func BenchmarkValidateAll(b *testing.B) {
	s := schema.Default()
	table, err := ReadSource(generateCatalogCSV(1000), SourceDelimited)
	if err != nil {
		b.Fatal(err)
	}
	m := SuggestMapping(table.Headers, s)
	records, _ := BuildRecords(table, m, s)
	v := NewValidator(s, ValidateOptions{})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v.ValidateAll(records, m)
	}
}

// ============================================================================
// Import Benchmarks
// ============================================================================

// BenchmarkExecute benchmarks batch import into the memory store.
func BenchmarkExecute(b *testing.B) {
	s := schema.Default()
	records := itemRecords(500)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ex := NewExecutor(store.NewMemory(nil), s, ExecutorConfig{}, nil)
		ex.Execute(context.Background(), records, nil, nil, nil)
	}
}
