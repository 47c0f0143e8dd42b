package core

// streaming.go provides the byte-level cleanup applied to delimited sources
// before they reach the CSV parser:
//
//   - BOMSkippingReader: removes a UTF-8 BOM (0xEF 0xBB 0xBF) from Windows files
//   - UTF8Sanitizer: replaces invalid UTF-8 sequences with U+FFFD
//
// Use NewTextReader to apply both in the correct order.

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// BOMSkippingReader wraps an io.Reader and skips a leading UTF-8 BOM.
type BOMSkippingReader struct {
	reader  *bufio.Reader
	checked bool
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{reader: bufio.NewReader(r)}
}

// Read implements io.Reader. On the first read, it checks for and skips the BOM.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true
		head, err := r.reader.Peek(len(utf8BOM))
		if err == nil && bytes.Equal(head, utf8BOM) {
			_, _ = r.reader.Discard(len(utf8BOM))
		}
	}
	return r.reader.Read(p)
}

// UTF8Sanitizer wraps an io.Reader and replaces each invalid byte with the
// Unicode replacement character. Multi-byte sequences split across reads are
// handled by decoding rune by rune from a buffered reader.
type UTF8Sanitizer struct {
	reader *bufio.Reader

	// Encoded rune that did not fit in the caller's buffer
	pending []byte
}

// NewUTF8Sanitizer creates a new sanitizer.
func NewUTF8Sanitizer(r io.Reader) *UTF8Sanitizer {
	return &UTF8Sanitizer{reader: bufio.NewReader(r)}
}

// Read implements io.Reader.
func (s *UTF8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]

	var buf [utf8.UTFMax]byte
	for n < len(p) {
		r, _, err := s.reader.ReadRune()
		if err != nil {
			if n > 0 && err == io.EOF {
				return n, nil
			}
			return n, err
		}

		// ReadRune reports each invalid byte as utf8.RuneError (U+FFFD),
		// so re-encoding r performs the replacement.
		w := utf8.EncodeRune(buf[:], r)
		if n+w > len(p) {
			c := copy(p[n:], buf[:w])
			s.pending = append(s.pending[:0], buf[c:w]...)
			return n + c, nil
		}
		n += copy(p[n:], buf[:w])
	}
	return n, nil
}

// NewTextReader strips a BOM and sanitizes UTF-8.
//
// The order matters: the BOM must be removed before sanitization so a
// truncated BOM is not turned into replacement characters.
func NewTextReader(r io.Reader) io.Reader {
	return NewUTF8Sanitizer(NewBOMSkippingReader(r))
}

// sanitizeText applies NewTextReader to an in-memory buffer. Valid UTF-8
// without a BOM is returned as is.
func sanitizeText(data []byte) []byte {
	if !bytes.HasPrefix(data, utf8BOM) && utf8.Valid(data) {
		return data
	}

	out, err := io.ReadAll(NewTextReader(bytes.NewReader(data)))
	if err != nil {
		// Reads from a bytes.Reader cannot fail
		return data
	}
	return out
}
