package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/id"
	"github.com/JonMunkholm/catalogimport/internal/media"
	"github.com/JonMunkholm/catalogimport/internal/schema"
	"github.com/JonMunkholm/catalogimport/internal/store"
)

// ServiceConfig holds service tuning. Zero values take defaults.
type ServiceConfig struct {
	Executor   ExecutorConfig
	Validation ValidateOptions

	// MaxConcurrentRuns bounds background imports and media runs.
	MaxConcurrentRuns int
	// MaxWaitTime is how long StartImport waits for a run slot.
	MaxWaitTime time.Duration
	// RunTimeout bounds a single background run.
	RunTimeout time.Duration
	// ResultRetention is how long a finished run stays queryable.
	ResultRetention time.Duration
	// SessionTTL is how long an idle session is kept.
	SessionTTL time.Duration
}

// Defaults for ServiceConfig.
const (
	DefaultRunTimeout      = 10 * time.Minute
	DefaultResultRetention = 5 * time.Minute
	DefaultSessionTTL      = 2 * time.Hour
)

// Service owns import sessions and their background runs. It is the entry
// point used by the HTTP layer and the CLI.
type Service struct {
	store  store.Store
	schema *schema.Schema
	media  *media.Pipeline
	cfg    ServiceConfig
	log    *slog.Logger

	limiter *RunLimiter

	mu       sync.RWMutex
	sessions map[string]*Session
	runs     map[string]*activeRun
}

// NewService creates a Service. pipeline may be nil to disable media
// resolution.
func NewService(st store.Store, s *schema.Schema, pipeline *media.Pipeline, cfg ServiceConfig, log *slog.Logger) *Service {
	if s == nil {
		s = schema.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = DefaultMaxConcurrentRuns
	}
	if cfg.MaxWaitTime <= 0 {
		cfg.MaxWaitTime = DefaultMaxWaitTime
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.ResultRetention <= 0 {
		cfg.ResultRetention = DefaultResultRetention
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}

	return &Service{
		store:    st,
		schema:   s,
		media:    pipeline,
		cfg:      cfg,
		log:      log,
		limiter:  NewRunLimiter(cfg.MaxConcurrentRuns, cfg.MaxWaitTime),
		sessions: make(map[string]*Session),
		runs:     make(map[string]*activeRun),
	}
}

// Schema returns the target schema.
func (s *Service) Schema() *schema.Schema { return s.schema }

// MediaEnabled reports whether a media pipeline is configured.
func (s *Service) MediaEnabled() bool { return s.media != nil }

// CreateSession starts a new import session.
func (s *Service) CreateSession(ctx context.Context) (*Session, error) {
	sessionID, err := id.Generate("imp")
	if err != nil {
		return nil, err
	}

	sess := NewSession(sessionID, SessionConfig{
		Schema:     s.schema,
		Store:      s.store,
		Media:      s.media,
		Executor:   s.cfg.Executor,
		Validation: s.cfg.Validation,
		Logger:     s.log,
	})

	s.mu.Lock()
	s.sessions[sessionID] = sess
	s.mu.Unlock()

	s.log.Info("session created", "session_id", sessionID)
	s.audit(ctx, AuditLogParams{Action: ActionSessionCreated, SessionID: sessionID})
	return sess, nil
}

// Session returns the session with the given ID.
func (s *Service) Session(sessionID string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

// DeleteSession discards a session. Busy sessions cannot be deleted.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if _, idle := sess.idleSince(); !idle {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	info := sess.Info()
	s.audit(ctx, AuditLogParams{
		Action:    ActionSessionDeleted,
		SessionID: sessionID,
		Details:   map[string]any{"state": string(info.State), "file": info.FileName},
	})
	return nil
}

// ListSessions returns metadata for every session, newest first.
func (s *Service) ListSessions() []SessionInfo {
	s.mu.RLock()
	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, sess.Info())
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	return infos
}

// SweepSessions removes sessions idle since before now minus the TTL and
// returns how many were removed.
func (s *Service) SweepSessions(now time.Time) int {
	cutoff := now.Add(-s.cfg.SessionTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for sid, sess := range s.sessions {
		last, idle := sess.idleSince()
		if idle && last.Before(cutoff) {
			delete(s.sessions, sid)
			removed++
		}
	}
	return removed
}

// StartSessionSweeper periodically removes expired sessions until ctx is
// cancelled.
func (s *Service) StartSessionSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.log.Info("session sweeper started", "interval", interval, "ttl", s.cfg.SessionTTL)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("session sweeper stopped")
			return
		case now := <-ticker.C:
			if n := s.SweepSessions(now); n > 0 {
				s.log.Info("expired sessions removed", "count", n)
				s.audit(ctx, AuditLogParams{Action: ActionSessionsExpired, RowsAffected: n})
			}
		}
	}
}

// LimiterStatus returns the background run limiter status.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForRuns blocks until every background run finishes or ctx is done.
func (s *Service) WaitForRuns(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
