package web

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/validation"
)

// handleListTemplates returns all mapping templates ordered by name.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.service.ListTemplates(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

// handleSessionTemplates finds templates matching the session's headers.
func (s *Server) handleSessionTemplates(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	matches, err := s.service.MatchTemplates(r.Context(), sess.Headers())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if matches == nil {
		matches = []core.TemplateMatch{}
	}
	writeJSON(w, http.StatusOK, matches)
}

// handleGetTemplate returns a single template by ID.
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	template, err := s.service.GetTemplate(r.Context(), chi.URLParam(r, "templateID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, template)
}

type createTemplateRequest struct {
	Name string `json:"name" validate:"required,max=200"`

	// Either SessionID, to save the session's current mapping, or an explicit
	// Mapping with the headers it was built for.
	SessionID string            `json:"sessionId"`
	Mapping   map[string]string `json:"mapping" validate:"required_without=SessionID"`
	Headers   []string          `json:"headers"`
}

// handleCreateTemplate saves a mapping template.
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	var (
		mapping core.FieldMapping
		headers = req.Headers
	)
	if req.SessionID != "" {
		sess, err := s.service.Session(req.SessionID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		mapping = sess.Mapping()
		headers = sess.Headers()
		if len(mapping) == 0 {
			s.fail(w, r, core.ErrInvalidTransition)
			return
		}
	} else {
		var problems []string
		mapping, problems = core.NormalizeMapping(req.Mapping, s.service.Schema())
		if len(problems) > 0 {
			s.fail(w, r, validation.FieldErrors{"mapping": strings.Join(problems, "; ")})
			return
		}
	}

	template, err := s.service.CreateTemplate(r.Context(), req.Name, mapping, headers)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, template)
}

// handleApplyTemplate applies a saved template to a session.
func (s *Server) handleApplyTemplate(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.ApplyTemplate(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "templateID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
