package web

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/schema"
)

// handleCreateSession starts a session from an uploaded spreadsheet. The
// optional "kind" form value forces delimited or spreadsheet parsing.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	data, header, err := s.readUpload(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	kind := core.SourceKind(r.FormValue("kind"))

	sess, err := s.service.CreateSession(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	report, err := sess.LoadSource(header.Filename, data, kind)
	if err != nil {
		// A session that never loaded its source has nothing to resume.
		_ = s.service.DeleteSession(r.Context(), sess.ID)
		s.fail(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "session_id", sess.ID).Info("source loaded",
		"file", header.Filename,
		"kind", report.Kind,
		"rows", report.Rows,
		"headers", len(report.Headers),
	)
	w.Header().Set("Location", "/api/sessions/"+sess.ID)
	writeJSON(w, http.StatusCreated, report)
}

// handleManualImage stores an operator-supplied image for a record whose
// automatic resolution failed.
func (s *Server) handleManualImage(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data, header, err := s.readUpload(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	task, err := sess.UploadManualImage(r.Context(), chi.URLParam(r, "recordID"), header.Filename, data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleRunProgressStream streams run progress via Server-Sent Events.
// The first event is the current state, so late subscribers see where the
// run stands. A "complete" event follows the terminal progress event.
func (s *Server) handleRunProgressStream(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	progressCh, err := s.service.SubscribeProgress(runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, fmt.Errorf("streaming not supported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var eventID int
	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			eventID++
			data, err := json.Marshal(progress)
			if err != nil {
				logging.FromContext(r.Context()).Error("encode progress", "run_id", runID, "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", eventID, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleRunStatus returns the current progress of a run without blocking.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	progress, err := s.service.RunProgress(chi.URLParam(r, "runID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// handleRunResult waits for a run to finish and returns its result. The wait
// is bounded by the request timeout.
func (s *Server) handleRunResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.RunResult(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCancelRun cancels an in-progress run.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelRun(chi.URLParam(r, "runID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleExportFailures exports the records an import rejected as CSV.
func (s *Server) handleExportFailures(w http.ResponseWriter, r *http.Request) {
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

	byID := make(map[string]core.Record)
	for _, rec := range sess.Records() {
		byID[rec.ID] = rec
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("failed_rows_%s_%s.csv", sess.ID, timestamp)
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	csvWriter := csv.NewWriter(w)
	_ = csvWriter.Write([]string{"_line", "_error", "record_id", "name"})

	for _, f := range outcome.Failures {
		rec, found := byID[f.RecordID]
		line := strconv.Itoa(f.Row + 2)
		if found {
			line = strconv.Itoa(rec.Line)
		}
		_ = csvWriter.Write([]string{line, f.Message, f.RecordID, rec.Get(schema.FieldName)})
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		logging.FromContext(r.Context()).Error("failed rows export", "session_id", sess.ID, "error", err)
	}
}
