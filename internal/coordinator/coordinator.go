package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/stacklok/npm-step-reconciler/internal/npm"
	"github.com/stacklok/npm-step-reconciler/internal/reconciler"
	"github.com/stacklok/npm-step-reconciler/internal/schedule"
	"github.com/stacklok/npm-step-reconciler/internal/status"
	"github.com/stacklok/npm-step-reconciler/internal/telemetry"
)

// DefaultTickInterval is how often the schedule is checked
const DefaultTickInterval = time.Second

// Coordinator manages the reconciliation loop
type Coordinator interface {
	// Start runs the loop. It blocks until the context is cancelled, Stop is
	// called or a pass fails with an unrecoverable error.
	Start(ctx context.Context) error

	// Stop stops the loop and waits for a running pass to return
	Stop() error
}

// Reconciler runs one pass
type Reconciler interface {
	Reconcile(ctx context.Context) (*reconciler.Result, error)
}

// defaultCoordinator is the default implementation of Coordinator
type defaultCoordinator struct {
	reconciler Reconciler
	timer      *schedule.Timer

	clock      clock.WithTicker
	tick       time.Duration
	runOnStart bool

	tracker *status.Tracker
	metrics *telemetry.ReconcileMetrics

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithClock sets the clock driving the tick
func WithClock(clk clock.WithTicker) Option {
	return func(c *defaultCoordinator) {
		c.clock = clk
	}
}

// WithTickInterval sets how often the schedule is checked
func WithTickInterval(d time.Duration) Option {
	return func(c *defaultCoordinator) {
		if d > 0 {
			c.tick = d
		}
	}
}

// WithRunOnStart runs one pass immediately instead of waiting for the first due time
func WithRunOnStart(run bool) Option {
	return func(c *defaultCoordinator) {
		c.runOnStart = run
	}
}

// WithStatusTracker records pass progress in tracker
func WithStatusTracker(tracker *status.Tracker) Option {
	return func(c *defaultCoordinator) {
		c.tracker = tracker
	}
}

// WithMetrics records skipped scheduler runs
func WithMetrics(metrics *telemetry.ReconcileMetrics) Option {
	return func(c *defaultCoordinator) {
		c.metrics = metrics
	}
}

// New creates a new coordinator. The timer must already be scheduled.
func New(rec Reconciler, timer *schedule.Timer, opts ...Option) Coordinator {
	c := &defaultCoordinator{
		reconciler: rec,
		timer:      timer,
		clock:      clock.RealClock{},
		tick:       DefaultTickInterval,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins the reconciliation loop
func (c *defaultCoordinator) Start(ctx context.Context) error {
	if !c.timer.Scheduled() {
		return errors.New("coordinator timer has no schedule")
	}
	slog.Info("Starting reconciliation loop",
		"interval", c.timer.Interval(),
		"next_run", c.timer.NextRun())

	coordCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelFunc = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		close(c.done)
		slog.Info("Reconciliation loop shut down")
	}()

	if c.runOnStart {
		if err := c.runPass(coordCtx); err != nil {
			return err
		}
	}

	ticker := c.clock.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			if err := c.checkSchedule(coordCtx); err != nil {
				return err
			}
		case <-coordCtx.Done():
			slog.Info("Reconciliation loop stopping")
			return nil
		}
	}
}

// Stop gracefully stops the coordinator
func (c *defaultCoordinator) Stop() error {
	c.mu.Lock()
	cancel := c.cancelFunc
	c.mu.Unlock()

	if cancel != nil {
		slog.Info("Stopping reconciliation loop")
		cancel()
		<-c.done
	}
	return nil
}

// checkSchedule runs a pass if one is due
func (c *defaultCoordinator) checkSchedule(ctx context.Context) error {
	skippedBefore := c.timer.SkippedCount()
	if !c.timer.IsDue() {
		return nil
	}

	if skipped := c.timer.SkippedCount() - skippedBefore; skipped > 0 {
		slog.Warn("Scheduled runs were skipped because the previous pass overran",
			"skipped", skipped,
			"total_skipped", c.timer.SkippedCount())
		c.metrics.RecordSkippedRuns(ctx, skipped)
	}
	if c.tracker != nil {
		c.tracker.SetRunCounts(c.timer.RunCount(), c.timer.SkippedCount())
	}

	slog.Debug("Reconciliation pass due", "run", c.timer.RunCount())
	return c.runPass(ctx)
}

// runPass runs one pass to completion. Only an authentication failure is
// returned; every other failure is recorded and the loop continues.
func (c *defaultCoordinator) runPass(ctx context.Context) error {
	if c.tracker != nil {
		c.tracker.Begin()
	}

	result, err := c.reconciler.Reconcile(ctx)
	switch {
	case err == nil:
		if c.tracker != nil {
			c.tracker.Complete(countsOf(result))
		}
		return nil
	case errors.Is(err, npm.ErrAuthenticationFailed):
		slog.Error("Authentication with the proxy manager failed, stopping", "error", err)
		c.fail(err)
		return err
	case ctx.Err() != nil:
		slog.Info("Reconciliation pass interrupted by shutdown")
		c.fail(ctx.Err())
		return nil
	default:
		slog.Error("Reconciliation pass failed", "error", err)
		c.fail(err)
		return nil
	}
}

func (c *defaultCoordinator) fail(err error) {
	if c.tracker != nil {
		c.tracker.Fail(err)
	}
}

func countsOf(r *reconciler.Result) status.Counts {
	if r == nil {
		return status.Counts{}
	}
	return status.Counts{
		Issued:       r.Issued,
		Reused:       r.Reused,
		Renewed:      r.Renewed,
		Skipped:      r.Skipped,
		Failed:       r.Failed,
		Assigned:     r.Assigned,
		AssignFailed: r.AssignFailed,
	}
}
