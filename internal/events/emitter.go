// Package events emits the run's observable event stream: one line per
// action transition, mirrored into the structured logger.
package events

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hostplane/provision/internal/logger"
)

// Event records a single action state transition.
type Event struct {
	ActionID  string
	Status    string
	Duration  time.Duration
	Timestamp time.Time
}

// Emitter receives action transitions during a run.
type Emitter interface {
	Emit(event Event)
}

// LineEmitter writes one line per transition in the form
//
//	<timestamp> <action-id> <status> <duration_ms>
//
// and mirrors each event into the structured logger. Safe for concurrent use.
type LineEmitter struct {
	mu     sync.Mutex
	out    io.Writer
	log    *logger.Logger
	runID  string
	events []Event
}

// NewLineEmitter creates an emitter writing to out. The run identifier is
// attached to every mirrored log entry.
func NewLineEmitter(out io.Writer, log *logger.Logger, runID string) *LineEmitter {
	return &LineEmitter{
		out:   out,
		log:   log.WithFields(map[string]any{"run_id": runID}),
		runID: runID,
	}
}

// Emit writes the event line and the structured mirror entry.
func (e *LineEmitter) Emit(event Event) {
	if e == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.Lock()
	e.events = append(e.events, event)
	if e.out != nil {
		fmt.Fprintf(e.out, "%s %s %s %d\n",
			event.Timestamp.UTC().Format(time.RFC3339),
			event.ActionID,
			event.Status,
			event.Duration.Milliseconds(),
		)
	}
	e.mu.Unlock()

	e.log.WithFields(map[string]any{
		"action_id":   event.ActionID,
		"status":      event.Status,
		"duration_ms": event.Duration.Milliseconds(),
	}).Debug("action transition")
}

// Events returns a copy of everything emitted so far, in order.
func (e *LineEmitter) Events() []Event {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.events))
	copy(out, e.events)
	return out
}

// Discard is an Emitter that drops everything, for tests and plan-only runs.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(Event) {}
