// Package middleware provides HTTP middleware for the import API.
package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/catalogimport/internal/logging"
)

// Logger is an HTTP middleware that logs request details using structured logging.
//
// Log fields:
//   - method, path and the matched chi route pattern
//   - status and bytes written
//   - duration_ms: request processing time in milliseconds
//   - ip: client IP after TrustedRealIP
//   - session_id / run_id when the route carries them
//
// Entries include request_id through logging.FromContext.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"bytes", ww.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", r.RemoteAddr,
		}
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				attrs = append(attrs, "route", pattern)
			}
			for _, key := range []string{"sessionID", "runID"} {
				if v := rctx.URLParam(key); v != "" {
					attrs = append(attrs, logKeys[key], v)
				}
			}
		}

		logger := logging.FromContext(r.Context())
		if ww.status >= http.StatusInternalServerError {
			logger.Error("request", attrs...)
			return
		}
		logger.Info("request", attrs...)
	})
}

var logKeys = map[string]string{
	"sessionID": "session_id",
	"runID":     "run_id",
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Flush forwards to the underlying writer so progress streams are not buffered.
func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap provides access to the underlying ResponseWriter for
// http.ResponseController.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
