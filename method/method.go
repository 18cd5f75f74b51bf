// Package method models user-authored experimental methods: an ordered
// sequence of timed stimulus/measurement steps, their JSON file
// format, and safe-bounds validation.
package method

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/mastercactapus/gpot/bus"
)

// Kind enumerates step types.
type Kind string

const (
	// Hold applies a fixed potential for the step duration.
	Hold Kind = "hold"
	// Sweep ramps the potential linearly from Potential to End at Rate.
	Sweep Kind = "sweep"
	// OpenCircuit rests the cell (no applied potential) while measuring.
	OpenCircuit Kind = "open_circuit"
	// Measure samples without changing the applied stimulus.
	Measure Kind = "measure"
)

// Threshold ends a step early when a measured channel crosses a limit.
type Threshold struct {
	Channel bus.Channel `json:"channel"`
	// Above ends the step when the value reaches or exceeds Limit;
	// otherwise when it reaches or falls below it.
	Above bool    `json:"above"`
	Limit float64 `json:"limit"`
}

// Step is one stage of an experiment. Duration is always required and
// bounds the step even when a Threshold is set.
type Step struct {
	Kind Kind `json:"kind"`

	// Potential is the target in millivolts; for Sweep it is the
	// starting potential.
	Potential float64 `json:"potential,omitempty"`
	// End is the final sweep potential, in millivolts.
	End float64 `json:"end,omitempty"`
	// Rate is the sweep rate, in millivolts per second.
	Rate float64 `json:"rate,omitempty"`

	Duration Duration `json:"duration"`

	// Average is how many readings are averaged into each sample.
	// Zero means one.
	Average int `json:"average,omitempty"`

	Until *Threshold `json:"until,omitempty"`
}

// SweepTime returns how long the sweep takes to reach End at Rate.
func (st Step) SweepTime() time.Duration {
	if st.Kind != Sweep || st.Rate <= 0 {
		return 0
	}
	span := st.End - st.Potential
	if span < 0 {
		span = -span
	}
	return time.Duration(span / st.Rate * float64(time.Second))
}

// Method is an ordered, named sequence of steps.
type Method struct {
	Name    string    `json:"name"`
	Created time.Time `json:"created,omitempty"`
	User    string    `json:"user,omitempty"`
	Project string    `json:"project,omitempty"`

	// Cycles repeats the whole step list. Zero means one.
	Cycles int `json:"cycles,omitempty"`

	Steps []Step `json:"steps"`
}

// Parse decodes a method from its JSON file format.
func Parse(data []byte) (*Method, error) {
	var m Method
	err := json.Unmarshal(data, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Encode renders the method in its JSON file format.
func (m *Method) Encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Duration marshals as a human-editable string like "2s" or "150ms".
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	err := json.Unmarshal(data, &s)
	if err != nil {
		return errors.New("duration must be a string like \"2s\"")
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
