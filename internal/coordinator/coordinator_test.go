package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/stacklok/npm-step-reconciler/internal/npm"
	"github.com/stacklok/npm-step-reconciler/internal/reconciler"
	"github.com/stacklok/npm-step-reconciler/internal/schedule"
	"github.com/stacklok/npm-step-reconciler/internal/status"
)

var testStart = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

// fakeReconciler returns the next queued error (nil once the queue is empty)
// and signals every call on passes.
type fakeReconciler struct {
	calls  atomic.Int32
	errs   chan error
	passes chan struct{}
}

func newFakeReconciler(errs ...error) *fakeReconciler {
	f := &fakeReconciler{errs: make(chan error, len(errs)), passes: make(chan struct{}, 16)}
	for _, err := range errs {
		f.errs <- err
	}
	return f
}

func (f *fakeReconciler) Reconcile(context.Context) (*reconciler.Result, error) {
	f.calls.Add(1)
	defer func() { f.passes <- struct{}{} }()
	select {
	case err := <-f.errs:
		return &reconciler.Result{}, err
	default:
		return &reconciler.Result{Assigned: 1}, nil
	}
}

type harness struct {
	clk     *testingclock.FakeClock
	timer   *schedule.Timer
	tracker *status.Tracker
	rec     *fakeReconciler
	coord   Coordinator
	result  chan error
}

func startHarness(t *testing.T, ctx context.Context, interval time.Duration, rec *fakeReconciler, opts ...Option) *harness {
	t.Helper()

	clk := testingclock.NewFakeClock(testStart)
	timer := schedule.NewTimer(clk)
	require.NoError(t, timer.SetSchedule(interval))
	tracker := status.NewTracker(clk)

	base := []Option{WithClock(clk), WithStatusTracker(tracker)}
	h := &harness{
		clk:     clk,
		timer:   timer,
		tracker: tracker,
		rec:     rec,
		coord:   New(rec, timer, append(base, opts...)...),
		result:  make(chan error, 1),
	}
	go func() { h.result <- h.coord.Start(ctx) }()

	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond, "ticker was not registered")
	return h
}

func (h *harness) advance(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += time.Second {
		h.clk.Step(time.Second)
	}
}

func (h *harness) waitPass(t *testing.T) {
	t.Helper()
	select {
	case <-h.rec.passes:
	case <-time.After(time.Second):
		t.Fatal("expected a reconciliation pass")
	}
}

func (h *harness) waitResult(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.result:
		return err
	case <-time.After(time.Second):
		t.Fatal("coordinator did not return")
		return nil
	}
}

func TestCoordinator_RunsWhenDue(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := startHarness(t, ctx, 3*time.Second, newFakeReconciler())

	h.clk.Step(time.Second)
	h.clk.Step(time.Second)
	assert.Never(t, func() bool { return h.rec.calls.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	h.clk.Step(time.Second)
	h.waitPass(t)

	require.Eventually(t, func() bool { return h.tracker.Snapshot().Phase == status.PhaseComplete }, time.Second, time.Millisecond)
	s := h.tracker.Snapshot()
	assert.Equal(t, 1, s.Runs)
	assert.Equal(t, 1, s.Counts.Assigned)

	cancel()
	assert.NoError(t, h.waitResult(t))
}

func TestCoordinator_SkippedRunsAreCounted(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := startHarness(t, ctx, 2*time.Second, newFakeReconciler())

	// One large step delivers a single tick after five intervals.
	h.clk.Step(10 * time.Second)
	h.waitPass(t)

	require.Eventually(t, func() bool { return h.tracker.Snapshot().Phase == status.PhaseComplete }, time.Second, time.Millisecond)
	s := h.tracker.Snapshot()
	assert.Equal(t, 1, s.Runs)
	assert.Equal(t, 4, s.SkippedRuns)
	assert.Equal(t, int32(1), h.rec.calls.Load())

	cancel()
	assert.NoError(t, h.waitResult(t))
}

func TestCoordinator_ContinuesAfterPassFailure(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := newFakeReconciler(&npm.CommunicationError{Endpoint: "/api/nginx/proxy-hosts", Attempts: 3, Err: errors.New("timeout")})
	h := startHarness(t, ctx, time.Second, rec)

	h.advance(time.Second)
	h.waitPass(t)
	require.Eventually(t, func() bool { return h.tracker.Snapshot().Phase == status.PhaseFailed }, time.Second, time.Millisecond)

	h.advance(time.Second)
	h.waitPass(t)
	require.Eventually(t, func() bool { return h.tracker.Snapshot().Phase == status.PhaseComplete }, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, h.waitResult(t))
}

func TestCoordinator_AuthenticationFailureIsFatal(t *testing.T) {
	t.Parallel()

	rec := newFakeReconciler(fmt.Errorf("list proxy hosts: %w", npm.ErrAuthenticationFailed))
	h := startHarness(t, context.Background(), time.Second, rec)

	h.advance(time.Second)
	err := h.waitResult(t)
	assert.ErrorIs(t, err, npm.ErrAuthenticationFailed)
	assert.Equal(t, status.PhaseFailed, h.tracker.Snapshot().Phase)
}

func TestCoordinator_RunOnStart(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := startHarness(t, ctx, time.Hour, newFakeReconciler(), WithRunOnStart(true))
	h.waitPass(t)
	assert.Equal(t, int32(1), h.rec.calls.Load())

	cancel()
	assert.NoError(t, h.waitResult(t))
}

func TestCoordinator_Stop(t *testing.T) {
	t.Parallel()

	h := startHarness(t, context.Background(), time.Hour, newFakeReconciler())
	require.NoError(t, h.coord.Stop())
	assert.NoError(t, h.waitResult(t))
}

func TestCoordinator_StopBeforeStart(t *testing.T) {
	t.Parallel()

	timer := schedule.NewTimer(nil)
	require.NoError(t, timer.SetSchedule(time.Minute))
	c := New(newFakeReconciler(), timer)

	assert.NoError(t, c.Stop())
}

func TestCoordinator_RequiresSchedule(t *testing.T) {
	t.Parallel()

	c := New(newFakeReconciler(), schedule.NewTimer(nil))
	assert.Error(t, c.Start(context.Background()))
}
