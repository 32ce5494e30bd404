package model

import (
	"time"
)

const (
	// StatusPending indicates an action has not started yet.
	StatusPending = "pending"
	// StatusRunning indicates an action is actively executing.
	StatusRunning = "running"
	// StatusApplied marks a successful apply.
	StatusApplied = "applied"
	// StatusSkipped indicates the probe found the target state already present.
	StatusSkipped = "skipped"
	// StatusFailed marks a failure during probe or apply.
	StatusFailed = "failed"
	// StatusWouldApply indicates dry-run determined apply would run.
	StatusWouldApply = "would_apply"
)

// ActionResult captures the outcome of executing a single action, including
// how many apply attempts were consumed by the retry loop.
type ActionResult struct {
	ActionID  string
	Status    string
	Message   string
	Error     error
	Attempts  int
	Duration  time.Duration
	Timestamp time.Time
}

// Failed reports whether the action ended in a failure state.
func (r ActionResult) Failed() bool {
	return r.Status == StatusFailed
}
