package schedule

import (
	"fmt"
	"time"

	"k8s.io/utils/clock"
)

// Timer tracks the next due time of a fixed-interval schedule.
//
// It is not safe for concurrent use; the process loop is its only caller.
type Timer struct {
	clock        clock.PassiveClock
	alignToClock bool

	// interval and nextRun are whole seconds, nextRun relative to the Unix epoch
	interval int64
	nextRun  int64

	runs    int
	skipped int
}

// TimerOption configures a Timer
type TimerOption func(*Timer)

// WithClockAlignment makes due times fall on multiples of the interval since the
// Unix epoch instead of being relative to the moment the schedule was set.
func WithClockAlignment(aligned bool) TimerOption {
	return func(t *Timer) {
		t.alignToClock = aligned
	}
}

// NewTimer creates an unscheduled timer reading time from clk.
// A nil clock uses the real clock.
func NewTimer(clk clock.PassiveClock, opts ...TimerOption) *Timer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	t := &Timer{clock: clk}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetSchedule sets the interval and computes the first due time from now.
func (t *Timer) SetSchedule(interval time.Duration) error {
	secs := int64(interval / time.Second)
	if secs <= 0 {
		return fmt.Errorf("schedule interval must be at least one second, got %s", interval)
	}
	if interval > MaxInterval {
		return fmt.Errorf("schedule interval %s exceeds maximum of %s", interval, MaxInterval)
	}

	now := t.now()
	t.interval = secs
	if t.alignToClock {
		t.nextRun = now + (secs - now%secs)
	} else {
		t.nextRun = now + secs
	}
	return nil
}

// SetScheduleString parses s with ParseSchedule and applies it.
func (t *Timer) SetScheduleString(s string) error {
	interval, err := ParseSchedule(s)
	if err != nil {
		return err
	}
	return t.SetSchedule(interval)
}

// Scheduled reports whether a schedule has been set
func (t *Timer) Scheduled() bool {
	return t.interval > 0
}

// IsDue reports whether the due time has been reached. When it has, the due time is
// advanced past now: the first elapsed interval produces the run, every further
// elapsed interval is counted as skipped.
func (t *Timer) IsDue() bool {
	if !t.Scheduled() {
		return false
	}

	now := t.now()
	if t.nextRun > now {
		return false
	}

	t.nextRun += t.interval
	for t.nextRun <= now {
		t.skipped++
		t.nextRun += t.interval
	}

	t.runs++
	return true
}

// NextRun returns the next due time, or the zero time when unscheduled
func (t *Timer) NextRun() time.Time {
	if !t.Scheduled() {
		return time.Time{}
	}
	return time.Unix(t.nextRun, 0)
}

// Interval returns the configured interval
func (t *Timer) Interval() time.Duration {
	return time.Duration(t.interval) * time.Second
}

// RunCount returns the number of times IsDue has returned true
func (t *Timer) RunCount() int {
	return t.runs
}

// SkippedCount returns the number of intervals that elapsed without a run
func (t *Timer) SkippedCount() int {
	return t.skipped
}

func (t *Timer) now() int64 {
	return t.clock.Now().Unix()
}
