package run

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mastercactapus/gpot/bus"
	"github.com/mastercactapus/gpot/method"
	"github.com/mastercactapus/gpot/session"
)

var lastID int64

func nextID() string {
	id := atomic.AddInt64(&lastID, 1)
	return "run_" + strconv.FormatInt(id, 36)
}

var errAborted = errors.New("aborted")

// ErrNoRun is returned for an unknown or already-finished run ID.
var ErrNoRun = errors.New("no active run with that id")

// Engine turns a validated method plus a connected device into a live
// run. Methods must be validated before Start; the engine issues
// device commands without re-checking parameters.
type Engine struct {
	sess     *session.Session
	interval time.Duration

	mx   sync.Mutex
	runs map[string]*runState

	events chan Event
}

type runState struct {
	id     string
	m      *method.Method
	h      bus.Handle
	lost   <-chan struct{}
	abort  chan struct{}
	cancel sync.Once

	mx     sync.Mutex
	status Status
}

// NewEngine creates an engine sampling at the given interval.
func NewEngine(sess *session.Session, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Engine{
		sess:     sess,
		interval: interval,
		runs:     make(map[string]*runState),
		events:   make(chan Event, 100),
	}
}

// Events delivers diagnostics. Sends never block the engine; with no
// reader the oldest events are dropped.
func (e *Engine) Events() <-chan Event {
	return e.events
}

func (e *Engine) event(severity, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if severity == "error" {
		log.Println("ERROR:", msg)
	}
	ev := Event{Time: time.Now(), Severity: severity, Message: msg}
	for {
		select {
		case e.events <- ev:
			return
		default:
		}
		select {
		case <-e.events:
		default:
		}
	}
}

// Start begins executing m on the session's connected device and
// returns a run ID immediately. The sampling loop runs on its own
// goroutine; outcomes surface only through Status and the sinks.
func (e *Engine) Start(m *method.Method, sinks []Sink) (string, error) {
	h, lost, err := e.sess.BeginRun()
	if err != nil {
		return "", err
	}

	rs := &runState{
		id:    nextID(),
		m:     m,
		h:     h,
		lost:  lost,
		abort: make(chan struct{}),
	}
	rs.status = Status{ID: rs.id, Method: m.Name}

	e.mx.Lock()
	e.runs[rs.id] = rs
	e.mx.Unlock()

	go e.loop(rs, sinks)
	return rs.id, nil
}

// Abort requests graceful termination of the run. The engine stops at
// the next sampling boundary, quiesces the instrument, and publishes
// an Aborted status.
func (e *Engine) Abort(id string) error {
	e.mx.Lock()
	rs := e.runs[id]
	e.mx.Unlock()
	if rs == nil {
		return ErrNoRun
	}
	rs.mx.Lock()
	done := rs.status.Done
	rs.mx.Unlock()
	if done {
		return ErrNoRun
	}
	rs.cancel.Do(func() { close(rs.abort) })
	return nil
}

// Status returns a consistent snapshot of the run's state.
func (e *Engine) Status(id string) (Status, bool) {
	e.mx.Lock()
	rs := e.runs[id]
	e.mx.Unlock()
	if rs == nil {
		return Status{}, false
	}
	rs.mx.Lock()
	defer rs.mx.Unlock()
	return rs.status, true
}

func (e *Engine) loop(rs *runState, sinks []Sink) {
	start := time.Now()
	cycles := rs.m.Cycles
	if cycles < 1 {
		cycles = 1
	}

	var failure error
loop:
	for c := 0; c < cycles; c++ {
		for i, st := range rs.m.Steps {
			rs.setStep(c, i)
			e.pushStatus(rs, sinks)
			err := e.runStep(rs, sinks, start, i, st)
			if err != nil {
				failure = err
				break loop
			}
		}
	}

	// Safe quiescence on every exit path. A failure here means the
	// instrument may be in an unknown electrical state and needs
	// operator attention.
	if err := rs.h.Quiesce(); err != nil {
		e.event("error", "run %s: safe quiescence failed, instrument state unknown: %v", rs.id, err)
	}

	rs.setTerminal(failure)
	e.pushStatus(rs, sinks)
	e.sess.EndRun(errors.Is(failure, bus.ErrDeviceLost))
}

// pushStatus delivers the current status snapshot to every sink.
func (e *Engine) pushStatus(rs *runState, sinks []Sink) {
	rs.mx.Lock()
	st := rs.status
	rs.mx.Unlock()
	for _, sk := range sinks {
		if err := sk.Status(st); err != nil {
			e.event("warn", "run %s: sink dropped status: %v", rs.id, err)
		}
	}
}

func (rs *runState) setStep(cycle, step int) {
	rs.mx.Lock()
	rs.status.Cycle = cycle
	rs.status.Step = step
	rs.status.Elapsed = 0
	rs.mx.Unlock()
}

func (rs *runState) setElapsed(d time.Duration) {
	rs.mx.Lock()
	if d > rs.status.Elapsed {
		rs.status.Elapsed = d
	}
	rs.mx.Unlock()
}

func (rs *runState) setTerminal(failure error) {
	rs.mx.Lock()
	defer rs.mx.Unlock()
	rs.status.Done = true
	switch {
	case failure == nil:
		rs.status.Outcome = Completed
	case errors.Is(failure, errAborted):
		rs.status.Outcome = Aborted
	default:
		rs.status.Outcome = Failed
		rs.status.Reason = failure.Error()
	}
}

// runStep drives one method step: program the stimulus, then sample at
// the engine interval until the step's termination condition holds.
// Abort and device-loss are observed between samples.
func (e *Engine) runStep(rs *runState, sinks []Sink, runStart time.Time, idx int, st method.Step) error {
	switch st.Kind {
	case method.Hold, method.Sweep:
		err := rs.h.Set(st.Potential)
		if err != nil {
			return err
		}
	case method.OpenCircuit:
		err := rs.h.Quiesce()
		if err != nil {
			return err
		}
	case method.Measure:
	}

	stepStart := time.Now()
	t := time.NewTicker(e.interval)
	defer t.Stop()

	for {
		select {
		case <-rs.abort:
			return errAborted
		case <-rs.lost:
			return fmt.Errorf("%w: vanished from bus", bus.ErrDeviceLost)
		case <-t.C:
		}

		elapsed := time.Since(stepStart)
		if st.Kind == method.Sweep {
			err := rs.h.Set(sweepTarget(st, elapsed))
			if err != nil {
				return err
			}
		}

		s, err := e.sample(rs.h, st, idx, time.Since(runStart))
		if err != nil {
			return err
		}
		rs.setElapsed(elapsed)

		for _, sk := range sinks {
			if err := sk.Sample(s); err != nil {
				e.event("warn", "run %s: sink dropped sample: %v", rs.id, err)
			}
		}

		if stepDone(st, elapsed, s) {
			return nil
		}
	}
}

// sample takes one reading, averaging st.Average measurements.
func (e *Engine) sample(h bus.Handle, st method.Step, idx int, at time.Duration) (Sample, error) {
	n := st.Average
	if n < 1 {
		n = 1
	}
	var pot, cur float64
	for k := 0; k < n; k++ {
		p, err := h.Read(bus.Potential)
		if err != nil {
			return Sample{}, err
		}
		i, err := h.Read(bus.Current)
		if err != nil {
			return Sample{}, err
		}
		pot += p
		cur += i
	}
	return Sample{
		Time:      at,
		Step:      idx,
		Potential: pot / float64(n),
		Current:   cur / float64(n),
	}, nil
}

// sweepTarget is the ramp potential after elapsed time, clamped at the
// end of the sweep.
func sweepTarget(st method.Step, elapsed time.Duration) float64 {
	delta := st.Rate * elapsed.Seconds()
	if st.End >= st.Potential {
		v := st.Potential + delta
		if v > st.End {
			return st.End
		}
		return v
	}
	v := st.Potential - delta
	if v < st.End {
		return st.End
	}
	return v
}

// stepDone evaluates the step's termination condition against the
// latest sample.
func stepDone(st method.Step, elapsed time.Duration, s Sample) bool {
	if st.Until != nil {
		var v float64
		switch st.Until.Channel {
		case bus.Potential:
			v = s.Potential
		case bus.Current:
			v = s.Current
		}
		if st.Until.Above && v >= st.Until.Limit {
			return true
		}
		if !st.Until.Above && v <= st.Until.Limit {
			return true
		}
	}

	limit := st.Duration.D()
	if st.Kind == method.Sweep {
		if d := st.SweepTime(); d > 0 && d < limit {
			limit = d
		}
	}
	return elapsed >= limit
}
