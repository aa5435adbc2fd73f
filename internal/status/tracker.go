package status

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Tracker holds the status of the most recent pass. It is safe for concurrent
// use: the process loop writes while the ops server reads.
type Tracker struct {
	mu     sync.RWMutex
	clock  clock.PassiveClock
	status PassStatus
}

// NewTracker creates a tracker in the pending phase. A nil clock uses the real clock.
func NewTracker(clk clock.PassiveClock) *Tracker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Tracker{clock: clk, status: PassStatus{Phase: PhasePending}}
}

// Begin marks a pass as running
func (t *Tracker) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.status.Phase = PhaseRunning
	t.status.Message = "Reconciliation in progress"
	t.status.LastAttempt = &now
}

// Complete records a finished pass
func (t *Tracker) Complete(counts Counts) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.status.Phase = PhaseComplete
	t.status.Message = "Reconciliation completed"
	t.status.LastSuccess = &now
	t.status.Duration = t.elapsed(now)
	t.status.FailureCount = 0
	t.status.Counts = counts
}

// Fail records an aborted pass
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.Phase = PhaseFailed
	t.status.Message = "Reconciliation failed"
	if err != nil {
		t.status.Message = err.Error()
	}
	t.status.Duration = t.elapsed(t.clock.Now())
	t.status.FailureCount++
}

// SetRunCounts mirrors the scheduler counters
func (t *Tracker) SetRunCounts(runs, skipped int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.Runs = runs
	t.status.SkippedRuns = skipped
}

// Snapshot returns a copy of the current status
func (t *Tracker) Snapshot() PassStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.status
	if s.LastAttempt != nil {
		at := *s.LastAttempt
		s.LastAttempt = &at
	}
	if s.LastSuccess != nil {
		at := *s.LastSuccess
		s.LastSuccess = &at
	}
	return s
}

// Ready reports whether at least one pass has completed
func (t *Tracker) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.LastSuccess != nil
}

func (t *Tracker) elapsed(now time.Time) time.Duration {
	if t.status.LastAttempt == nil {
		return 0
	}
	return now.Sub(*t.status.LastAttempt)
}
