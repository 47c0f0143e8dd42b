package web

import (
	"net/http"

	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/schema"
)

// ============================================================================
// Schema
// ============================================================================

type fieldResponse struct {
	Field     schema.Field `json:"field"`
	Label     string       `json:"label"`
	Kind      string       `json:"kind"`
	Required  bool         `json:"required"`
	Column    string       `json:"column"`
	Reference string       `json:"reference,omitempty"`
}

// handleSchema lists the target fields a mapping can assign.
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	sc := s.service.Schema()
	fields := make([]fieldResponse, 0, len(sc.Fields))
	for _, spec := range sc.Fields {
		f := fieldResponse{
			Field:    spec.Field,
			Label:    spec.Label,
			Kind:     spec.Kind.String(),
			Required: spec.Required,
			Column:   spec.Column(),
		}
		if spec.Reference != nil {
			f.Reference = spec.Reference.Table
		}
		fields = append(fields, f)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table":  sc.Table,
		"fields": fields,
	})
}

// ============================================================================
// Session lifecycle
// ============================================================================

// handleListSessions returns every live session, newest first.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListSessions())
}

// handleGetSession returns a session snapshot.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

// handleDeleteSession discards a session.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.service.DeleteSession(r.Context(), sess.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// Mapping
// ============================================================================

type mappingRequest struct {
	Mapping map[string]string `json:"mapping" validate:"required,min=1"`
}

// handleSuggestMapping returns the automatic mapping for the loaded headers.
func (s *Server) handleSuggestMapping(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	suggestion, err := sess.SuggestMapping()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mapping": suggestion,
		"missing": core.MissingRequired(suggestion, s.service.Schema()),
	})
}

// handleApplyMapping applies a field -> header mapping. Field keys are field
// names or foreign-key columns such as "category_id".
func (s *Server) handleApplyMapping(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req mappingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	report, err := sess.ApplyRawMapping(req.Mapping)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	logging.WithFields(r.Context(), "session_id", sess.ID).Info("mapping applied",
		"fields", len(report.Mapping),
		"records", report.Records,
	)
	writeJSON(w, http.StatusOK, report)
}

// ============================================================================
// References, validation and preview
// ============================================================================

// handleResolveReferences matches reference columns against the store.
func (s *Server) handleResolveReferences(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	summaries, err := sess.ResolveReferences(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"references": summaries})
}

// handleValidate validates every record.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := sess.Validate()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type autoFixRequest struct {
	Rows []int `json:"rows" validate:"omitempty,dive,gte=0"`
}

// handleAutoFix applies suggested fixes to the given rows, or all rows when
// the body is empty.
func (s *Server) handleAutoFix(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req autoFixRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := sess.AutoFix(req.Rows)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handlePreview summarizes what an import would do.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	preview, err := sess.Preview()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// ============================================================================
// Background runs
// ============================================================================

// handleStartImport starts the import of a previewed session.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	runID, err := s.service.StartImport(r.Context(), sess.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

// handleStartMedia starts image resolution for a previewed session.
func (s *Server) handleStartMedia(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	runID, err := s.service.StartMediaResolution(r.Context(), sess.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

// handleMediaReport returns the image tasks of the last media run.
func (s *Server) handleMediaReport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	report := sess.Media()
	if report == nil {
		s.fail(w, r, core.ErrInvalidTransition)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleOutcome returns the import outcome of a session.
func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	outcome, ok := sess.Outcome()
	if !ok {
		s.fail(w, r, core.ErrInvalidTransition)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}
