// Package status tracks the state of the most recent reconciliation pass in memory.
package status

import "time"

// Phase represents the current phase of a reconciliation pass
type Phase string

const (
	// PhasePending means no pass has started yet
	PhasePending Phase = "Pending"

	// PhaseRunning means a pass is currently in progress
	PhaseRunning Phase = "Running"

	// PhaseComplete means the last pass completed
	PhaseComplete Phase = "Complete"

	// PhaseFailed means the last pass was aborted
	PhaseFailed Phase = "Failed"
)

// Counts summarises the work done by one pass
type Counts struct {
	Issued       int `json:"issued" yaml:"issued"`
	Reused       int `json:"reused" yaml:"reused"`
	Renewed      int `json:"renewed" yaml:"renewed"`
	Skipped      int `json:"skipped" yaml:"skipped"`
	Failed       int `json:"failed" yaml:"failed"`
	Assigned     int `json:"assigned" yaml:"assigned"`
	AssignFailed int `json:"assignFailed" yaml:"assignFailed"`
}

// PassStatus represents the state of reconciliation as last observed
type PassStatus struct {
	// Phase represents the current pass phase
	Phase Phase `json:"phase" yaml:"phase"`

	// Message provides additional information about the last pass
	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	// LastAttempt is the start time of the last pass
	LastAttempt *time.Time `json:"lastAttempt,omitempty" yaml:"lastAttempt,omitempty"`

	// LastSuccess is the end time of the last pass that completed
	LastSuccess *time.Time `json:"lastSuccess,omitempty" yaml:"lastSuccess,omitempty"`

	// Duration of the last finished pass
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// FailureCount is the number of aborted passes since the last completed one
	FailureCount int `json:"failureCount,omitempty" yaml:"failureCount,omitempty"`

	// Counts of the last completed pass
	Counts Counts `json:"counts" yaml:"counts"`

	// Runs and SkippedRuns mirror the scheduler counters
	Runs        int `json:"runs" yaml:"runs"`
	SkippedRuns int `json:"skippedRuns" yaml:"skippedRuns"`
}
