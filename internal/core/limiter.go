package core

// limiter.go bounds how many imports and media runs execute at once.
//
// Slots are a buffered channel used as a semaphore. A run that cannot get a
// slot within the configured wait fails with ErrTooManyRuns. WaitForDrain lets
// shutdown wait for running work to finish.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyRuns is returned when every run slot is taken and the wait
// expired. Clients should retry after a short delay.
var ErrTooManyRuns = errors.New("too many imports in progress, please try again later")

// DefaultMaxConcurrentRuns is the default number of parallel runs.
const DefaultMaxConcurrentRuns = 4

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// RunLimiter limits concurrent background runs.
type RunLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int64
	drained chan struct{} // Signalled on every release
}

// NewRunLimiter allows at most maxConcurrent runs. Callers that cannot get a
// slot within maxWait receive ErrTooManyRuns.
func NewRunLimiter(maxConcurrent int, maxWait time.Duration) *RunLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &RunLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
		drained: make(chan struct{}, 1),
	}
}

// Acquire takes a slot, waiting up to maxWait.
// The caller MUST call Release when the run ends.
func (l *RunLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyRuns
	}
}

// Release frees a slot taken by Acquire.
func (l *RunLimiter) Release() {
	l.active.Add(-1)
	<-l.slots
	select {
	case l.drained <- struct{}{}:
	default:
	}
}

// ActiveCount returns the number of running runs.
func (l *RunLimiter) ActiveCount() int {
	return int(l.active.Load())
}

// Available returns the number of free slots.
func (l *RunLimiter) Available() int {
	return cap(l.slots) - len(l.slots)
}

// WaitForDrain blocks until no run is active or ctx is done.
func (l *RunLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for l.ActiveCount() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.drained:
		case <-ticker.C:
		}
	}
	return nil
}

// LimiterStatus is a snapshot of the limiter for health endpoints.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status returns the current limiter state.
func (l *RunLimiter) Status() LimiterStatus {
	return LimiterStatus{
		Active:        l.ActiveCount(),
		Available:     l.Available(),
		MaxConcurrent: cap(l.slots),
	}
}
