// Package web provides the JSON HTTP API for catalog import sessions.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/catalogimport/internal/config"
	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/ratelimit"
	mw "github.com/JonMunkholm/catalogimport/internal/web/middleware"
)

// Server is the HTTP server for the import API.
type Server struct {
	service *core.Service
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server

	limiters []*ratelimit.KeyedRateLimiter
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(mw.RequestMeta)

	// Security hardening
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		s.router.Use(s.rateLimit(s.cfg.Rate.RequestsPerMinute))
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	// Stored images, when objects live on the local filesystem.
	if dir := s.cfg.Storage.Dir; dir != "" {
		s.router.Handle("/objects/*", http.StripPrefix("/objects/", http.FileServer(http.Dir(dir))))
	}

	s.router.Route("/api", func(r chi.Router) {
		// Progress streams stay open for the whole run.
		r.Get("/runs/{runID}/progress", s.handleRunProgressStream)

		r.Group(func(r chi.Router) {
			if s.cfg.Server.RequestTimeout > 0 {
				r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
			}

			r.Get("/schema", s.handleSchema)

			// Sessions
			r.Get("/sessions", s.handleListSessions)
			r.With(s.uploadLimit()).Post("/sessions", s.handleCreateSession)
			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDeleteSession)

				r.Get("/mapping/suggest", s.handleSuggestMapping)
				r.Put("/mapping", s.handleApplyMapping)
				r.Get("/templates", s.handleSessionTemplates)
				r.Post("/templates/{templateID}", s.handleApplyTemplate)

				r.Post("/references", s.handleResolveReferences)
				r.Post("/validate", s.handleValidate)
				r.Post("/autofix", s.handleAutoFix)
				r.Post("/preview", s.handlePreview)

				r.Post("/media", s.handleStartMedia)
				r.Get("/media", s.handleMediaReport)
				r.With(s.uploadLimit()).Post("/media/{recordID}", s.handleManualImage)

				r.Post("/import", s.handleStartImport)
				r.Get("/outcome", s.handleOutcome)
				r.Get("/failures.csv", s.handleExportFailures)
			})

			// Background runs
			r.Get("/runs/{runID}", s.handleRunStatus)
			r.Get("/runs/{runID}/result", s.handleRunResult)
			r.Post("/runs/{runID}/cancel", s.handleCancelRun)

			// Mapping templates
			r.Get("/templates", s.handleListTemplates)
			r.Post("/templates", s.handleCreateTemplate)
			r.Get("/templates/{templateID}", s.handleGetTemplate)

			// Audit trail
			r.Get("/audit-log", s.handleAuditLog)
			r.Get("/audit-log/export", s.handleAuditLogExport)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // Zero keeps SSE streams open
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, l := range s.limiters {
		l.Stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// The API serves no documents
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// rateLimit returns middleware that limits each client IP to perMinute
// requests per minute.
func (s *Server) rateLimit(perMinute int) func(http.Handler) http.Handler {
	limiter := ratelimit.PerMinute(perMinute)
	s.limiters = append(s.limiters, limiter)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r)) {
				w.Header().Set("Retry-After", "60")
				s.respondError(w, r, errRateLimited, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// uploadLimit applies the stricter per-IP budget for file uploads.
func (s *Server) uploadLimit() func(http.Handler) http.Handler {
	if !s.cfg.Rate.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.rateLimit(s.cfg.Rate.UploadLimit)
}

// clientIP returns the host part of RemoteAddr, which TrustedRealIP has
// already rewritten for requests from trusted proxies.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// handleHealth reports liveness and run capacity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"time":     time.Now().UTC(),
		"runs":     s.service.LimiterStatus(),
		"media":    s.service.MediaEnabled(),
		"sessions": len(s.service.ListSessions()),
	})
}
