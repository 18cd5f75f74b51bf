package method

import (
	"fmt"
	"math"
	"time"

	"github.com/mastercactapus/gpot/bus"
)

// Bounds are the instrument-safe limits applied to one step kind.
type Bounds struct {
	// MinPotential and MaxPotential bound every potential parameter,
	// in millivolts.
	MinPotential float64 `json:"min_potential"`
	MaxPotential float64 `json:"max_potential"`

	// MaxRate bounds sweep rates, in millivolts per second.
	MaxRate float64 `json:"max_rate"`

	MaxDuration Duration `json:"max_duration"`
	MaxAverage  int      `json:"max_average"`
}

// BoundsSet holds the configured bounds, with optional per-kind
// overrides.
type BoundsSet struct {
	Default Bounds          `json:"default"`
	PerKind map[Kind]Bounds `json:"per_kind,omitempty"`
}

// For returns the bounds applied to steps of kind k.
func (bs BoundsSet) For(k Kind) Bounds {
	if b, ok := bs.PerKind[k]; ok {
		return b
	}
	return bs.Default
}

// DefaultBounds returns conservative limits suitable for a small
// electrochemical cell.
func DefaultBounds() BoundsSet {
	return BoundsSet{Default: Bounds{
		MinPotential: -2000,
		MaxPotential: 2000,
		MaxRate:      1000,
		MaxDuration:  Duration(24 * time.Hour),
		MaxAverage:   100,
	}}
}

// A Violation describes one way a method fails validation. Step is the
// offending step index, or -1 for method-level problems.
type Violation struct {
	Step  int    `json:"step"`
	Field string `json:"field"`
	Msg   string `json:"msg"`
}

func (v Violation) String() string {
	if v.Step < 0 {
		return "method: " + v.Field + ": " + v.Msg
	}
	return fmt.Sprintf("step %d: %s: %s", v.Step, v.Field, v.Msg)
}

// Validate checks m against the target instrument's capability and the
// configured bounds. It returns the full list of violations; an empty
// result means the method is safe to execute. Validation failure is a
// normal outcome, not an error.
func Validate(m *Method, cap bus.Capability, bs BoundsSet) []Violation {
	var vs []Violation
	bad := func(step int, field, format string, args ...interface{}) {
		vs = append(vs, Violation{Step: step, Field: field, Msg: fmt.Sprintf(format, args...)})
	}

	if m.Name == "" {
		bad(-1, "name", "required")
	}
	if len(m.Steps) == 0 {
		bad(-1, "steps", "method has no steps")
	}
	if m.Cycles < 0 {
		bad(-1, "cycles", "must not be negative")
	}

	for i, st := range m.Steps {
		b := bs.For(st.Kind)
		lo, hi := b.MinPotential, b.MaxPotential
		if cap.MinPotential > lo {
			lo = cap.MinPotential
		}
		if cap.MaxPotential < hi {
			hi = cap.MaxPotential
		}
		checkPotential := func(field string, v float64) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				bad(i, field, "must be finite")
			} else if v < lo || v > hi {
				bad(i, field, "%.6gmV outside safe range [%.6g, %.6g]mV", v, lo, hi)
			}
		}

		switch st.Kind {
		case Hold:
			checkPotential("potential", st.Potential)
		case Sweep:
			checkPotential("potential", st.Potential)
			checkPotential("end", st.End)
			if math.IsNaN(st.Rate) || math.IsInf(st.Rate, 0) || st.Rate <= 0 {
				bad(i, "rate", "must be a positive, finite rate")
			} else if st.Rate > b.MaxRate {
				bad(i, "rate", "%.6gmV/s exceeds limit %.6gmV/s", st.Rate, b.MaxRate)
			}
		case OpenCircuit:
			if !cap.HasChannel(bus.Potential) {
				bad(i, "kind", "instrument cannot measure potential")
			}
		case Measure:
		default:
			bad(i, "kind", "unknown step kind %q", st.Kind)
		}

		if st.Kind != OpenCircuit && !cap.HasChannel(bus.Current) {
			bad(i, "kind", "instrument cannot measure current")
		}

		if st.Duration <= 0 {
			bad(i, "duration", "required and must be positive")
		} else if st.Duration > b.MaxDuration {
			bad(i, "duration", "%s exceeds limit %s", st.Duration.D(), b.MaxDuration.D())
		}

		if st.Average < 0 {
			bad(i, "average", "must not be negative")
		} else if b.MaxAverage > 0 && st.Average > b.MaxAverage {
			bad(i, "average", "%d exceeds limit %d", st.Average, b.MaxAverage)
		}

		if st.Until != nil {
			if !cap.HasChannel(st.Until.Channel) {
				bad(i, "until", "instrument has no channel %q", st.Until.Channel)
			}
			if math.IsNaN(st.Until.Limit) || math.IsInf(st.Until.Limit, 0) {
				bad(i, "until", "limit must be finite")
			}
		}
	}

	return vs
}
