package web

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

// maxAuditExport caps the rows of a CSV export.
const maxAuditExport = 10000

func auditFilter(r *http.Request, defaultLimit int) core.AuditLogFilter {
	q := r.URL.Query()
	return core.AuditLogFilter{
		SessionID: q.Get("session"),
		Action:    core.AuditAction(q.Get("action")),
		Limit:     parseIntParam(r, "limit", defaultLimit),
	}
}

// handleAuditLog returns audit entries newest first, filtered by session and
// action.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.AuditLog(r.Context(), auditFilter(r, core.DefaultAuditLimit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleAuditLogExport exports the filtered audit log as CSV.
func (s *Server) handleAuditLogExport(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.AuditLog(r.Context(), auditFilter(r, maxAuditExport))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	filename := fmt.Sprintf("import_audit_%s.csv", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	csvWriter := csv.NewWriter(w)
	_ = csvWriter.Write([]string{
		"created_at", "action", "severity", "session_id", "run_id",
		"ip_address", "user_agent", "rows_affected", "reason", "details",
	})
	for _, e := range entries {
		var details string
		if e.Details != nil {
			if b, err := json.Marshal(e.Details); err == nil {
				details = string(b)
			}
		}
		_ = csvWriter.Write([]string{
			e.CreatedAt.Format(time.RFC3339),
			string(e.Action),
			string(e.Severity),
			e.SessionID,
			e.RunID,
			e.IPAddress,
			e.UserAgent,
			strconv.Itoa(e.RowsAffected),
			e.Reason,
			details,
		})
	}
	csvWriter.Flush()
}
