package jobs

import (
	"time"
)

// State is a job lifecycle state. Transitions only move forward:
// pending -> running -> ready | failed.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// Active reports whether the job's background task still owns it.
func (s State) Active() bool {
	return s == StatePending || s == StateRunning
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateRunning, StateReady, StateFailed:
		return true
	}
	return false
}

// View is an immutable snapshot of a job.
type View struct {
	ID              string
	State           State
	SourceURL       string
	CreatedAt       time.Time
	StartedAt       time.Time
	FinishedAt      time.Time
	ExpiredAt       time.Time
	Error           string
	SizeBytes       int64
	Title           string
	DurationSeconds float64
	ThumbnailURL    string
}

// Expired reports whether the job's artifact was reclaimed.
func (v View) Expired() bool {
	return !v.ExpiredAt.IsZero()
}

// Counts summarizes the manager's records.
type Counts struct {
	Pending int
	Running int
	Ready   int
	Failed  int
	Expired int
}

// Total returns the number of tracked records.
func (c Counts) Total() int {
	return c.Pending + c.Running + c.Ready + c.Failed + c.Expired
}

// ReclaimOutcome describes what Reclaim did.
type ReclaimOutcome int

const (
	// ReclaimUnknown means no record exists for the id.
	ReclaimUnknown ReclaimOutcome = iota
	// ReclaimSkipped means the job is still pending or running.
	ReclaimSkipped
	// ReclaimDeleted means the delete function ran successfully.
	ReclaimDeleted
)

func (o ReclaimOutcome) String() string {
	switch o {
	case ReclaimSkipped:
		return "skipped"
	case ReclaimDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}
