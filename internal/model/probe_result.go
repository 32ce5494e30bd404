package model

// ProbeStatus classifies the host's current state relative to an action's
// target state.
type ProbeStatus string

const (
	// StatusPresent means the target state already holds; apply is skipped.
	StatusPresent ProbeStatus = "present"
	// StatusAbsent means the target state is entirely missing.
	StatusAbsent ProbeStatus = "absent"
	// StatusPartial means the target state partially holds; apply must
	// reconcile from whatever is there rather than assume a clean slate.
	StatusPartial ProbeStatus = "partial"
)

// ProbeResult contains the outcome of probing one action's target state.
// Produced by Action.Probe and handed back to Action.Apply when action is
// required, so probes can pass data forward and avoid recomputation.
type ProbeResult struct {
	// ActionID is the unique identifier of the probed action.
	ActionID string

	// Status classifies the current host state.
	Status ProbeStatus

	// Message is a human-readable description of what the probe found.
	Message string

	// Diff optionally describes what apply would change, for dry-run output.
	Diff string

	// InternalData is opaque data passed from Probe to Apply.
	InternalData any
}

// RequiresAction reports whether the executor should invoke Apply.
func (r *ProbeResult) RequiresAction() bool {
	if r == nil {
		return false
	}
	return r.Status == StatusAbsent || r.Status == StatusPartial
}
