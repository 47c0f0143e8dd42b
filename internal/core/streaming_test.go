package core

import (
	"bytes"
	"io"
	"testing"
)

func TestBOMSkippingReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello,world")...),
			expected: "hello,world",
		},
		{
			name:     "file without BOM",
			input:    []byte("hello,world"),
			expected: "hello,world",
		},
		{
			name:     "empty file",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "only BOM",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "partial BOM at start",
			input:    []byte{0xEF, 0xBB, 'a', 'b', 'c'},
			expected: string([]byte{0xEF, 0xBB, 'a', 'b', 'c'}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := NewBOMSkippingReader(bytes.NewReader(tt.input))
			result, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

func TestUTF8Sanitizer(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "valid ASCII",
			input:    []byte("hello,world"),
			expected: "hello,world",
		},
		{
			name:     "valid UTF-8 with multibyte",
			input:    []byte("Betoneira 400L, Caf\u00e9"),
			expected: "Betoneira 400L, Caf\u00e9",
		},
		{
			name:     "invalid single byte replaced",
			input:    []byte{'h', 'e', 0x80, 'l', 'o'},
			expected: "he\uFFFDlo",
		},
		{
			name:     "latin-1 byte replaced",
			input:    []byte{'S', 0xE3, 'o'},
			expected: "S\uFFFDo",
		},
		{
			name:     "empty input",
			input:    []byte{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := NewUTF8Sanitizer(bytes.NewReader(tt.input))
			result, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

// oneByteReader forces multi-byte runes to straddle reads.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestUTF8Sanitizer_SmallBuffers(t *testing.T) {
	input := "S\u00e3o Paulo \u20ac10"
	reader := NewUTF8Sanitizer(bytes.NewReader([]byte(input)))

	var out []byte
	buf := make([]byte, 1)
	for {
		n, err := reader.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if string(out) != input {
		t.Errorf("got %q, want %q", out, input)
	}

	split, err := io.ReadAll(NewUTF8Sanitizer(oneByteReader{bytes.NewReader([]byte(input))}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(split) != input {
		t.Errorf("split source: got %q, want %q", split, input)
	}
}

func TestNewTextReader(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte("name\nCaf\xe9\n")...)
	result, err := io.ReadAll(NewTextReader(bytes.NewReader(input)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "name\nCaf\uFFFD\n"; string(result) != want {
		t.Errorf("got %q, want %q", result, want)
	}
}

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"valid passthrough", []byte("a,b\n1,2"), "a,b\n1,2"},
		{"bom stripped", []byte("\xEF\xBB\xBFa,b"), "a,b"},
		{"invalid replaced", []byte("a,\xff"), "a,\uFFFD"},
		{"bom stripped before invalid bytes", []byte("\xEF\xBB\xBFa,\xff"), "a,\uFFFD"},
		{"bom alone", []byte("\xEF\xBB\xBF"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(sanitizeText(tt.input)); got != tt.want {
				t.Errorf("sanitizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
