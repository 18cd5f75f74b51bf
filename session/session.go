// Package session owns the lifecycle of one instrument connection: a
// state machine from device detection through connect, run, and
// disconnect, with the safety guards between them.
package session

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mastercactapus/gpot/bus"
)

// State is the connection state. Exactly one Session exists per
// process, so at most one device is driven at a time.
type State int

const (
	// NoDevice means nothing is visible on the bus.
	NoDevice State = iota
	// Detected means a device is visible but not opened.
	Detected
	// Connected means a device is opened and idle.
	Connected
	// Running means the execution engine holds the device for a run.
	Running
)

func (s State) String() string {
	switch s {
	case NoDevice:
		return "no_device"
	case Detected:
		return "detected"
	case Connected:
		return "connected"
	case Running:
		return "running"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Color is the UI indicator projection of the state: red for no
// device, blue for detected-but-unopened, green for opened.
func (s State) Color() string {
	switch s {
	case Detected:
		return "blue"
	case Connected, Running:
		return "green"
	}
	return "red"
}

var (
	// ErrNotConnected rejects operations that need an open device.
	ErrNotConnected = errors.New("no device connected")
	// ErrRunActive rejects transitions that are unsafe while a method
	// is executing.
	ErrRunActive = errors.New("a method run is active")
	// ErrNotConfirmed rejects an unacknowledged disconnect of an
	// active device.
	ErrNotConfirmed = errors.New("disconnect requires confirmation")
	// ErrAlreadyConnected rejects a second connect.
	ErrAlreadyConnected = errors.New("a device is already connected")
)

// Session is the per-process connection state machine.
type Session struct {
	drv bus.Driver

	mx       sync.Mutex
	state    State
	addrs    []string
	handle   bus.Handle
	identity bus.Identity
	lost     chan struct{}

	stateCh chan State
	stop    chan struct{}
	once    sync.Once
}

// New creates a Session over drv and starts polling the bus at the
// given interval. With interval <= 0 only on-demand Refresh polls run.
func New(drv bus.Driver, interval time.Duration) *Session {
	s := &Session{
		drv:     drv,
		stateCh: make(chan State, 1),
		stop:    make(chan struct{}),
	}
	if interval > 0 {
		go s.pollLoop(interval)
	}
	return s
}

// Stop ends polling and disconnects any open device.
func (s *Session) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.mx.Lock()
	h := s.handle
	s.handle = nil
	s.state = NoDevice
	s.mx.Unlock()
	if h != nil {
		if err := h.Quiesce(); err != nil {
			log.Println("ERROR: quiesce on stop:", err)
		}
		h.Close()
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.state
}

// StateCh delivers state changes. Sends never block; a slow reader
// only misses intermediate states.
func (s *Session) StateCh() <-chan State {
	return s.stateCh
}

// Devices returns the addresses from the most recent poll.
func (s *Session) Devices() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]string(nil), s.addrs...)
}

// Identity returns the connected device's identity.
func (s *Session) Identity() (bus.Identity, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.identity, s.handle != nil
}

// Capability returns the connected device's capability set.
func (s *Session) Capability() (bus.Capability, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.handle == nil {
		return bus.Capability{}, false
	}
	return s.handle.Capability(), true
}

func (s *Session) pollLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.Refresh()
		}
	}
}

// Refresh polls the bus once and applies any detection transition. It
// returns the visible addresses.
func (s *Session) Refresh() []string {
	addrs, err := s.drv.ListAvailable()
	if err != nil {
		log.Println("ERROR: list devices:", err)
		return nil
	}

	s.mx.Lock()
	s.addrs = addrs
	switch s.state {
	case NoDevice:
		if len(addrs) > 0 {
			s.setStateLocked(Detected)
		}
	case Detected:
		if len(addrs) == 0 {
			s.setStateLocked(NoDevice)
		}
	case Connected:
		if s.handle != nil && !contains(addrs, s.handle.Address()) {
			// Device vanished while idle.
			h := s.handle
			s.handle = nil
			s.identity = bus.Identity{}
			s.setStateLocked(NoDevice)
			s.mx.Unlock()
			h.Close()
			s.mx.Lock()
		}
	case Running:
		if s.handle != nil && !contains(addrs, s.handle.Address()) && s.lost != nil {
			// Notify the engine; it will end the run as failed.
			close(s.lost)
			s.lost = nil
		}
	}
	s.mx.Unlock()
	return addrs
}

func contains(addrs []string, addr string) bool {
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}

// setStateLocked records and broadcasts a state change. Callers hold mx.
func (s *Session) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.state = st
	select {
	case s.stateCh <- st:
	default:
	}
}

// Connect opens and identifies the device at address. On failure the
// session stays in its detection state and the error is returned.
func (s *Session) Connect(address string) error {
	s.mx.Lock()
	switch s.state {
	case Running:
		s.mx.Unlock()
		return ErrRunActive
	case Connected:
		s.mx.Unlock()
		return ErrAlreadyConnected
	}
	s.mx.Unlock()

	h, err := s.drv.Open(address)
	if err != nil {
		return err
	}
	id, err := h.Identify()
	if err != nil {
		h.Close()
		return err
	}

	s.mx.Lock()
	if s.state == Connected || s.state == Running {
		// Lost a connect race; release the extra handle.
		s.mx.Unlock()
		h.Quiesce()
		h.Close()
		return ErrAlreadyConnected
	}
	s.handle = h
	s.identity = id
	s.setStateLocked(Connected)
	s.mx.Unlock()
	return nil
}

// Disconnect releases the open device. It fails fast without touching
// the bus while a run is active or when nothing is connected, and it
// requires confirm to acknowledge disconnecting an active device.
func (s *Session) Disconnect(confirm bool) error {
	s.mx.Lock()
	if s.state == Running {
		s.mx.Unlock()
		return ErrRunActive
	}
	if s.handle == nil {
		s.mx.Unlock()
		return ErrNotConnected
	}
	if !confirm {
		s.mx.Unlock()
		return ErrNotConfirmed
	}
	h := s.handle
	s.handle = nil
	s.identity = bus.Identity{}
	if contains(s.addrs, h.Address()) {
		s.setStateLocked(Detected)
	} else {
		s.setStateLocked(NoDevice)
	}
	s.mx.Unlock()

	if err := h.Quiesce(); err != nil {
		log.Println("ERROR: quiesce on disconnect:", err)
	}
	return h.Close()
}

// BeginRun transitions Connected to Running on behalf of the execution
// engine, lending it the device handle. The returned channel is closed
// if the device vanishes from the bus mid-run. At most one run may be
// active; racing callers beyond the first are rejected.
func (s *Session) BeginRun() (bus.Handle, <-chan struct{}, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	switch s.state {
	case Running:
		return nil, nil, ErrRunActive
	case Connected:
	default:
		return nil, nil, ErrNotConnected
	}
	s.lost = make(chan struct{})
	s.setStateLocked(Running)
	return s.handle, s.lost, nil
}

// EndRun returns the session to Connected when a run finishes. With
// deviceLost the handle is released and the session drops to NoDevice.
func (s *Session) EndRun(deviceLost bool) {
	s.mx.Lock()
	if s.state != Running {
		s.mx.Unlock()
		return
	}
	s.lost = nil
	if !deviceLost {
		s.setStateLocked(Connected)
		s.mx.Unlock()
		return
	}
	h := s.handle
	s.handle = nil
	s.identity = bus.Identity{}
	s.setStateLocked(NoDevice)
	s.mx.Unlock()
	if h != nil {
		h.Close()
	}
}
