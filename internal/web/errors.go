package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is:
//   - Logged with full technical details and the request ID (server-side)
//   - Returned to the client as a user-friendly JSON message with a code
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err, status), or fail(w, r, err) to derive the status
//  3. Error is mapped via core.MapError to get the user-friendly message
//  4. Technical error + context is logged with request ID for correlation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/media"
	"github.com/JonMunkholm/catalogimport/internal/validation"
)

var (
	errRateLimited = errors.New("rate limit exceeded")
	errNoFile      = errors.New("no file provided")
	errFileTooBig  = errors.New("file too large or invalid form")
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

// respondError logs the technical error server-side and writes the mapped
// user message as JSON.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := core.MapError(err)
	requestID := middleware.GetReqID(r.Context())

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if statusCode >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:     userMsg.Message,
		Message:   userMsg.Message,
		Action:    userMsg.Action,
		Code:      userMsg.Code,
		RequestID: requestID,
	})
}

// fail responds with the status that matches err.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.respondError(w, r, err, statusFor(err))
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		structural *core.StructuralError
		incomplete *core.MappingIncompleteError
		conflict   *core.MappingConflictError
		fieldErrs  validation.FieldErrors
		fetchErr   *media.FetchError
		uploadErr  *media.UploadError
	)

	switch {
	case errors.Is(err, core.ErrSessionNotFound),
		errors.Is(err, core.ErrRunNotFound),
		errors.Is(err, core.ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrSessionBusy),
		errors.Is(err, core.ErrTemplateExists):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyRuns):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrMediaDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errFileTooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errNoFile),
		errors.As(err, &fieldErrs):
		return http.StatusBadRequest
	case errors.Is(err, media.ErrNotImage),
		errors.As(err, &structural),
		errors.As(err, &incomplete),
		errors.As(err, &conflict):
		return http.StatusUnprocessableEntity
	case errors.As(err, &fetchErr), errors.As(err, &uploadErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
