package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/validation"
)

// maxJSONBody bounds request bodies that are not file uploads.
const maxJSONBody = 1 << 20

var requestValidator = validation.New()

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// decodeJSON reads a JSON body into v and validates its struct tags. An
// empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return validation.FieldErrors{"body": fmt.Sprintf("is not valid JSON (%v)", err)}
	}
	return requestValidator.Validate(v)
}

// readUpload reads the "file" part of a multipart form, bounded by the
// configured import size limit.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, *multipart.FileHeader, error) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		return nil, nil, errFileTooBig
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, errNoFile
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, nil, fmt.Errorf("read upload: %w", err)
	}
	return data, header, nil
}

// session resolves the {sessionID} route parameter.
func (s *Server) session(r *http.Request) (*core.Session, error) {
	return s.service.Session(chi.URLParam(r, "sessionID"))
}
