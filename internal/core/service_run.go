package core

// service_run.go runs long session operations in the background so HTTP
// handlers can return immediately. Each run gets an ID; clients subscribe to
// progress, cancel, or block for the result.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/id"
	"github.com/JonMunkholm/catalogimport/internal/media"
)

// ErrRunNotFound is returned for unknown or expired run IDs.
var ErrRunNotFound = errors.New("run not found")

// RunKind identifies what a background run does.
type RunKind string

const (
	RunImport RunKind = "import"
	RunMedia  RunKind = "media"
)

// RunPhase is the lifecycle phase of a background run.
type RunPhase string

const (
	PhaseStarting  RunPhase = "starting"
	PhaseRunning   RunPhase = "running"
	PhaseCompleted RunPhase = "completed"
	PhaseCancelled RunPhase = "cancelled"
	PhaseFailed    RunPhase = "failed"
)

// Done reports whether the phase is terminal.
func (p RunPhase) Done() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseFailed
}

// RunProgress is broadcast to subscribers while a run executes.
type RunProgress struct {
	RunID     string           `json:"runId"`
	SessionID string           `json:"sessionId"`
	Kind      RunKind          `json:"kind"`
	Phase     RunPhase         `json:"phase"`
	Import    *ImportOutcome   `json:"import,omitempty"`
	Media     *media.Summary   `json:"media,omitempty"`
	Task      *media.ImageTask `json:"task,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// RunResult is the final state of a run.
type RunResult struct {
	RunID     string         `json:"runId"`
	SessionID string         `json:"sessionId"`
	Kind      RunKind        `json:"kind"`
	Phase     RunPhase       `json:"phase"`
	Import    *ImportOutcome `json:"import,omitempty"`
	Media     *MediaReport   `json:"media,omitempty"`
	Error     string         `json:"error,omitempty"`
	Err       error          `json:"-"`
}

type activeRun struct {
	ID        string
	SessionID string
	Kind      RunKind
	Cancel    context.CancelFunc
	Result    *RunResult
	Done      chan struct{}

	ListenerMu sync.Mutex
	Progress   RunProgress
	Listeners  []chan RunProgress
	mediaTasks map[string]media.ImageTask

	auditCtx context.Context // Request values of the starting call, never cancelled
}

// StartImport begins an asynchronous import of a previewed session.
// Returns the run ID immediately. Use SubscribeProgress to get updates.
//
// Returns ErrTooManyRuns if no run slot frees up within the wait time.
func (s *Service) StartImport(ctx context.Context, sessionID string) (string, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return "", err
	}
	if st := sess.State(); !st.CanTransition(StateImported) {
		return "", transitionError(st, StateImported)
	}

	return s.startRun(ctx, sess, RunImport, func(runCtx context.Context, run *activeRun) *RunResult {
		outcome, err := sess.Import(runCtx, func(o ImportOutcome) {
			run.update(func(p *RunProgress) {
				p.Phase = PhaseRunning
				p.Import = &o
			})
		})
		result := &RunResult{Import: &outcome, Err: err}
		switch {
		case err != nil:
			result.Phase = PhaseFailed
		case outcome.Aborted:
			result.Phase = PhaseCancelled
		default:
			result.Phase = PhaseCompleted
		}
		return result
	})
}

// StartMediaResolution begins asynchronous image resolution for a
// previewed session.
func (s *Service) StartMediaResolution(ctx context.Context, sessionID string) (string, error) {
	if s.media == nil {
		return "", ErrMediaDisabled
	}
	sess, err := s.Session(sessionID)
	if err != nil {
		return "", err
	}
	if st := sess.State(); !st.CanTransition(StateMediaResolved) {
		return "", transitionError(st, StateMediaResolved)
	}

	return s.startRun(ctx, sess, RunMedia, func(runCtx context.Context, run *activeRun) *RunResult {
		run.seedTasks(sess.Media().Tasks)
		report, err := sess.ResolveMedia(runCtx, run.taskUpdated)
		result := &RunResult{Media: report, Err: err}
		switch {
		case err != nil:
			result.Phase = PhaseFailed
		case runCtx.Err() != nil:
			result.Phase = PhaseCancelled
		default:
			result.Phase = PhaseCompleted
		}
		return result
	})
}

func (s *Service) startRun(ctx context.Context, sess *Session, kind RunKind, work func(context.Context, *activeRun) *RunResult) (string, error) {
	// Acquire a run slot (blocks until available or timeout)
	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	runID, err := id.Generate("run")
	if err != nil {
		s.limiter.Release()
		return "", err
	}

	runCtx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
	run := &activeRun{
		ID:        runID,
		SessionID: sess.ID,
		Kind:      kind,
		Cancel:    cancel,
		Done:      make(chan struct{}),
		auditCtx:  context.WithoutCancel(ctx),
		Progress: RunProgress{
			RunID:     runID,
			SessionID: sess.ID,
			Kind:      kind,
			Phase:     PhaseStarting,
		},
	}

	s.mu.Lock()
	s.runs[runID] = run
	s.mu.Unlock()

	log := s.log.With("run_id", runID, "session_id", sess.ID, "kind", kind)
	log.Info("run started")
	if kind == RunImport {
		s.audit(run.auditCtx, AuditLogParams{Action: ActionImportStarted, SessionID: sess.ID, RunID: runID})
	}

	// Process in background with panic recovery to ensure limiter release
	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in run", "panic", r)
				s.finishRun(run, &RunResult{
					Phase: PhaseFailed,
					Err:   fmt.Errorf("internal error: %v", r),
				}, log)
			}
		}()

		run.update(func(p *RunProgress) { p.Phase = PhaseRunning })
		s.finishRun(run, work(runCtx, run), log)
	}()

	return runID, nil
}

func (s *Service) finishRun(run *activeRun, result *RunResult, log *slog.Logger) {
	result.RunID = run.ID
	result.SessionID = run.SessionID
	result.Kind = run.Kind
	if result.Err != nil {
		result.Error = result.Err.Error()
	}
	run.Result = result

	run.update(func(p *RunProgress) {
		p.Phase = result.Phase
		p.Error = result.Error
		p.Task = nil
		if result.Import != nil {
			o := result.Import.clone()
			p.Import = &o
		}
		if result.Media != nil {
			sum := result.Media.Summary
			p.Media = &sum
		}
	})
	if result.Err != nil {
		log.Warn("run finished", "phase", result.Phase, "error", result.Err)
	} else {
		log.Info("run finished", "phase", result.Phase)
	}
	s.audit(run.auditCtx, finishedAudit(result))

	run.closeListeners()
	close(run.Done)
	s.cleanup(run.ID, s.cfg.ResultRetention)
}

// finishedAudit summarises a finished run for the audit trail.
func finishedAudit(result *RunResult) AuditLogParams {
	p := AuditLogParams{
		Action:    ActionImportFinished,
		SessionID: result.SessionID,
		RunID:     result.RunID,
		Reason:    result.Error,
		Failed:    result.Phase == PhaseFailed,
		Details:   map[string]any{"phase": string(result.Phase)},
	}
	if result.Kind == RunMedia {
		p.Action = ActionMediaFinished
		if result.Media != nil {
			p.RowsAffected = result.Media.Summary.Resolved
			p.Details["failed"] = result.Media.Summary.Failed
		}
		return p
	}
	if result.Import != nil {
		p.RowsAffected = result.Import.Succeeded
		p.Details["failed"] = result.Import.Failed
		p.Details["batches"] = result.Import.Batches
	}
	return p
}

// SubscribeProgress returns a channel that receives progress updates.
// The channel is closed when the run completes.
func (s *Service) SubscribeProgress(runID string) (<-chan RunProgress, error) {
	run, err := s.run(runID)
	if err != nil {
		return nil, err
	}

	ch := make(chan RunProgress, 10)

	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()

	// Send current progress immediately
	ch <- run.Progress
	if run.Progress.Phase.Done() {
		close(ch)
		return ch, nil
	}
	run.Listeners = append(run.Listeners, ch)
	return ch, nil
}

// CancelRun cancels an in-progress run. Imports stop at the next batch
// boundary; media runs stop starting new tasks.
func (s *Service) CancelRun(runID string) error {
	run, err := s.run(runID)
	if err != nil {
		return err
	}
	run.Cancel()
	return nil
}

// RunResult returns the result of a run, blocking until it completes or
// ctx is done.
func (s *Service) RunResult(ctx context.Context, runID string) (*RunResult, error) {
	run, err := s.run(runID)
	if err != nil {
		return nil, err
	}

	select {
	case <-run.Done:
		return run.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RunProgress returns the current progress without blocking.
func (s *Service) RunProgress(runID string) (RunProgress, error) {
	run, err := s.run(runID)
	if err != nil {
		return RunProgress{}, err
	}
	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()
	return run.Progress, nil
}

func (s *Service) run(runID string) (*activeRun, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

// cleanup removes the run from tracking after a delay.
func (s *Service) cleanup(runID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
	})
}

// update mutates the progress and sends it to all listeners.
func (run *activeRun) update(fn func(*RunProgress)) {
	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()

	fn(&run.Progress)
	for _, ch := range run.Listeners {
		select {
		case ch <- run.Progress:
		default:
			// Listener is slow, skip this update
		}
	}
}

// seedTasks records the starting task list so summaries cover every task.
func (run *activeRun) seedTasks(tasks []media.ImageTask) {
	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()
	run.mediaTasks = make(map[string]media.ImageTask, len(tasks))
	for _, t := range tasks {
		run.mediaTasks[t.RecordID] = t
	}
}

// taskUpdated folds a media task change into the progress summary.
func (run *activeRun) taskUpdated(t media.ImageTask) {
	run.update(func(p *RunProgress) {
		if run.mediaTasks == nil {
			run.mediaTasks = make(map[string]media.ImageTask)
		}
		run.mediaTasks[t.RecordID] = t

		tasks := make([]media.ImageTask, 0, len(run.mediaTasks))
		for _, task := range run.mediaTasks {
			tasks = append(tasks, task)
		}
		sum := media.Summarize(tasks)
		task := t
		p.Phase = PhaseRunning
		p.Media = &sum
		p.Task = &task
	})
}

// closeListeners closes all listener channels.
func (run *activeRun) closeListeners() {
	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()

	for _, ch := range run.Listeners {
		close(ch)
	}
	run.Listeners = nil
}
