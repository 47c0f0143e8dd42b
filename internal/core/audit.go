package core

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogimport/internal/store"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionSessionCreated  AuditAction = "session_created"
	ActionSessionDeleted  AuditAction = "session_deleted"
	ActionSessionsExpired AuditAction = "sessions_expired"
	ActionImportStarted   AuditAction = "import_started"
	ActionImportFinished  AuditAction = "import_finished"
	ActionMediaFinished   AuditAction = "media_finished"
	ActionTemplateCreate  AuditAction = "template_create"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	AuditLow      AuditSeverity = "low"
	AuditMedium   AuditSeverity = "medium"
	AuditHigh     AuditSeverity = "high"
	AuditCritical AuditSeverity = "critical"
)

// DefaultAuditLimit is the page size of AuditLog when no limit is given.
const DefaultAuditLimit = 100

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID           string         `json:"id"`
	Action       AuditAction    `json:"action"`
	Severity     AuditSeverity  `json:"severity"`
	SessionID    string         `json:"sessionId,omitempty"`
	RunID        string         `json:"runId,omitempty"`
	IPAddress    string         `json:"ipAddress,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	RowsAffected int            `json:"rowsAffected,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// AuditLogParams contains parameters for creating an audit log entry.
// IPAddress and UserAgent default to the values carried by ctx.
type AuditLogParams struct {
	Action       AuditAction
	SessionID    string
	RunID        string
	IPAddress    string
	UserAgent    string
	RowsAffected int
	Details      map[string]any
	Reason       string
	Failed       bool // Raises severity to critical
}

// determineSeverity returns the appropriate severity for an action.
func determineSeverity(p AuditLogParams) AuditSeverity {
	if p.Failed {
		return AuditCritical
	}
	switch p.Action {
	case ActionImportStarted, ActionImportFinished:
		return AuditHigh
	case ActionSessionDeleted, ActionMediaFinished:
		return AuditMedium
	default:
		return AuditLow
	}
}

// LogAudit creates a new audit log entry.
func (s *Service) LogAudit(ctx context.Context, params AuditLogParams) (*AuditEntry, error) {
	meta := RequestMetaFrom(ctx)
	if params.IPAddress == "" {
		params.IPAddress = meta.IPAddress
	}
	if params.UserAgent == "" {
		params.UserAgent = meta.UserAgent
	}

	entry := &AuditEntry{
		ID:           uuid.NewString(),
		Action:       params.Action,
		Severity:     determineSeverity(params),
		SessionID:    params.SessionID,
		RunID:        params.RunID,
		IPAddress:    params.IPAddress,
		UserAgent:    params.UserAgent,
		RowsAffected: params.RowsAffected,
		Details:      params.Details,
		Reason:       params.Reason,
		CreatedAt:    time.Now().UTC(),
	}

	row := store.Row{
		"id":            entry.ID,
		"action":        string(entry.Action),
		"severity":      string(entry.Severity),
		"session_id":    entry.SessionID,
		"run_id":        entry.RunID,
		"ip_address":    entry.IPAddress,
		"user_agent":    entry.UserAgent,
		"rows_affected": entry.RowsAffected,
		"reason":        entry.Reason,
		"created_at":    entry.CreatedAt,
	}
	if entry.Details != nil {
		details, err := json.Marshal(entry.Details)
		if err != nil {
			return nil, fmt.Errorf("marshal audit details: %w", err)
		}
		row["details"] = string(details)
	}

	if _, err := s.store.InsertOne(ctx, store.AuditTable, row); err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}
	return entry, nil
}

// audit records an entry and logs failures. The audit trail never fails the
// operation being audited.
func (s *Service) audit(ctx context.Context, params AuditLogParams) {
	if _, err := s.LogAudit(ctx, params); err != nil {
		s.log.Warn("audit entry not recorded", "action", params.Action, "session_id", params.SessionID, "error", err)
	}
}

// AuditLogFilter contains filtering options for querying audit logs.
type AuditLogFilter struct {
	SessionID string
	Action    AuditAction
	Limit     int
}

// AuditLog returns audit entries newest first.
func (s *Service) AuditLog(ctx context.Context, filter AuditLogFilter) ([]AuditEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultAuditLimit
	}

	q := store.Filter{OrderBy: "created_at"}
	if filter.SessionID != "" {
		q.Conditions = append(q.Conditions, store.Condition{Column: "session_id", Op: store.OpEquals, Value: filter.SessionID})
	}
	if filter.Action != "" {
		q.Conditions = append(q.Conditions, store.Condition{Column: "action", Op: store.OpEquals, Value: string(filter.Action)})
	}

	rows, err := s.store.Query(ctx, store.AuditTable, q)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}

	entries := make([]AuditEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, rowToAuditEntry(r))
	}
	slices.SortStableFunc(entries, func(a, b AuditEntry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

// rowToAuditEntry converts a stored row to an AuditEntry.
func rowToAuditEntry(r store.Row) AuditEntry {
	entry := AuditEntry{
		ID:           r.String("id"),
		Action:       AuditAction(r.String("action")),
		Severity:     AuditSeverity(r.String("severity")),
		SessionID:    r.String("session_id"),
		RunID:        r.String("run_id"),
		IPAddress:    r.String("ip_address"),
		UserAgent:    r.String("user_agent"),
		RowsAffected: intColumn(r["rows_affected"]),
		Reason:       r.String("reason"),
		CreatedAt:    timeColumn(r["created_at"]),
	}
	if r["details"] != nil {
		var details map[string]any
		if err := decodeJSONColumn(r["details"], &details); err == nil {
			entry.Details = details
		}
	}
	return entry
}

func intColumn(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case nil:
		return 0
	default:
		var f float64
		if err := decodeJSONColumn(n, &f); err == nil {
			return int(f)
		}
	}
	return 0
}

type requestMetaKey struct{}

// RequestMeta identifies the client behind a request for the audit trail.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// WithRequestMeta attaches client details to ctx.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFrom returns the client details carried by ctx, if any.
func RequestMetaFrom(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}
