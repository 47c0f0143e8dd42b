package core

import (
	"context"
	"testing"

	"github.com/JonMunkholm/catalogimport/internal/store"
)

func TestDetermineSeverity(t *testing.T) {
	tests := []struct {
		params AuditLogParams
		want   AuditSeverity
	}{
		{AuditLogParams{Action: ActionImportFinished}, AuditHigh},
		{AuditLogParams{Action: ActionImportFinished, Failed: true}, AuditCritical},
		{AuditLogParams{Action: ActionSessionDeleted}, AuditMedium},
		{AuditLogParams{Action: ActionTemplateCreate}, AuditLow},
	}
	for _, tt := range tests {
		if got := determineSeverity(tt.params); got != tt.want {
			t.Errorf("determineSeverity(%+v) = %q, want %q", tt.params, got, tt.want)
		}
	}
}

func TestService_AuditTrail(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := WithRequestMeta(context.Background(), RequestMeta{IPAddress: "203.0.113.9", UserAgent: "curl/8"})

	sess, err := svc.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	prepare(t, sess)

	runID, err := svc.StartImport(ctx, sess.ID)
	if err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}
	if _, err := svc.RunResult(ctx, runID); err != nil {
		t.Fatalf("RunResult() error = %v", err)
	}

	entries, err := svc.AuditLog(ctx, AuditLogFilter{SessionID: sess.ID})
	if err != nil {
		t.Fatalf("AuditLog() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3: %+v", len(entries), entries)
	}

	// Newest first.
	finished := entries[0]
	if finished.Action != ActionImportFinished {
		t.Errorf("entries[0].Action = %q, want %q", finished.Action, ActionImportFinished)
	}
	if finished.RowsAffected != 2 || finished.RunID != runID {
		t.Errorf("finished entry = %+v, want 2 rows for run %s", finished, runID)
	}
	if finished.IPAddress != "203.0.113.9" || finished.UserAgent != "curl/8" {
		t.Errorf("client = %q / %q, want request meta", finished.IPAddress, finished.UserAgent)
	}
	if finished.Details["phase"] != string(PhaseCompleted) {
		t.Errorf("details = %v, want phase completed", finished.Details)
	}
	if entries[2].Action != ActionSessionCreated {
		t.Errorf("entries[2].Action = %q, want %q", entries[2].Action, ActionSessionCreated)
	}

	limited, err := svc.AuditLog(ctx, AuditLogFilter{Action: ActionImportStarted, Limit: 1})
	if err != nil {
		t.Fatalf("AuditLog() error = %v", err)
	}
	if len(limited) != 1 || limited[0].Severity != AuditHigh {
		t.Errorf("filtered entries = %+v, want one high-severity import_started", limited)
	}

	if rows := mem.Rows(store.AuditTable); len(rows) != 3 {
		t.Errorf("audit rows = %d, want 3", len(rows))
	}
}

func TestIntColumn(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{nil, 0},
		{7, 7},
		{int64(8), 8},
		{float64(9), 9},
		{"10", 10},
		{"n/a", 0},
	}
	for _, tt := range tests {
		if got := intColumn(tt.in); got != tt.want {
			t.Errorf("intColumn(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
