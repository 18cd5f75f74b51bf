// Package run executes validated methods against a connected
// instrument, producing a live sample stream and run status events.
package run

import (
	"time"
)

// Sample is one measurement event. Time is relative to run start.
// Samples are immutable once produced; sinks may retain them.
type Sample struct {
	Time time.Duration `json:"time"`
	Step int           `json:"step"`
	// Potential is the measured cell potential, in millivolts.
	Potential float64 `json:"potential"`
	// Current is the measured cell current, in amperes.
	Current float64 `json:"current"`
}

// Outcome is a run's terminal result.
type Outcome string

const (
	Completed Outcome = "completed"
	Aborted   Outcome = "aborted"
	Failed    Outcome = "failed"
)

// Status is the outward-facing state of one run. Once Done it never
// changes again.
type Status struct {
	ID     string `json:"id"`
	Method string `json:"method"`

	Cycle   int           `json:"cycle"`
	Step    int           `json:"step"`
	Elapsed time.Duration `json:"elapsed"`

	Done    bool    `json:"done"`
	Outcome Outcome `json:"outcome,omitempty"`
	// Reason is set when Outcome is Failed.
	Reason string `json:"reason,omitempty"`
}

// A Sink consumes the engine's output stream. For a given run, samples
// arrive in non-decreasing time and step order, and nothing arrives
// after the terminal Status. A sink returning an error is skipped for
// that call only; sink failures never stop a run.
type Sink interface {
	Sample(Sample) error
	Status(Status) error
}

// Event is a diagnostic from the engine: sink failures, quiescence
// problems, and other non-fatal conditions a UI should surface.
type Event struct {
	Time     time.Time `json:"time"`
	Severity string    `json:"severity"` // "info", "warn" or "error"
	Message  string    `json:"message"`
}
