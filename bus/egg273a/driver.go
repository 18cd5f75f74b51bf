// Package egg273a drives an EG&G PAR 273A potentiostat over a serial
// line using its ASCII command dialect.
package egg273a

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/mastercactapus/gpot/bus"
)

// portReadTick keeps serial reads short so Exchange can enforce its
// own deadline.
const portReadTick = 100 * time.Millisecond

// Driver opens 273A instruments attached to local serial ports.
type Driver struct {
	// Patterns are the glob patterns searched by ListAvailable.
	// Defaults to common USB-serial device names.
	Patterns []string

	// Baud defaults to 9600.
	Baud int

	// Timeout is the per-command timeout. Defaults to 5s.
	Timeout time.Duration
}

var _ bus.Driver = &Driver{}

func (d *Driver) patterns() []string {
	if len(d.Patterns) > 0 {
		return d.Patterns
	}
	return []string{"/dev/ttyUSB*", "/dev/ttyACM*"}
}

// ListAvailable returns the serial device paths matching the driver's
// patterns.
func (d *Driver) ListAvailable() ([]string, error) {
	var addrs []string
	for _, pat := range d.patterns() {
		m, err := filepath.Glob(pat)
		if err != nil {
			return nil, fmt.Errorf("%w: glob %q: %v", bus.ErrBus, pat, err)
		}
		addrs = append(addrs, m...)
	}
	return addrs, nil
}

// Open binds the instrument at the given serial device path and puts
// it in potentiostat mode with the cell on.
func (d *Driver) Open(address string) (bus.Handle, error) {
	baud := d.Baud
	if baud == 0 {
		baud = 9600
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        address,
		Baud:        baud,
		ReadTimeout: portReadTick,
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", bus.ErrNotFound, address)
		}
		return nil, fmt.Errorf("%w: open %s: %v", bus.ErrBus, address, err)
	}

	h := &Handle{
		addr: address,
		conn: NewConn(port, d.Timeout),
	}
	err = h.init()
	if err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

// Handle is a bound 273A.
type Handle struct {
	addr string
	conn *Conn

	mx     sync.Mutex
	cellOn bool
	closed bool
}

var _ bus.Handle = &Handle{}

// NewHandle binds a 273A reachable over an arbitrary port, for buses
// that are not local serial devices.
func NewHandle(address string, port Port, timeout time.Duration) (*Handle, error) {
	h := &Handle{
		addr: address,
		conn: NewConn(port, timeout),
	}
	err := h.init()
	if err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

// init puts the instrument in potentiostat mode and switches the
// cell on.
func (h *Handle) init() error {
	err := h.conn.Send("MODE 2")
	if err != nil {
		return err
	}
	err = h.conn.Send("CELL 1")
	if err != nil {
		return err
	}
	h.mx.Lock()
	h.cellOn = true
	h.mx.Unlock()
	return nil
}

func (h *Handle) Address() string { return h.addr }

func (h *Handle) Capability() bus.Capability {
	return bus.Capability{
		Vendor:       "EG&G PAR 273A",
		Channels:     []bus.Channel{bus.Potential, bus.Current},
		MinPotential: -8000,
		MaxPotential: 8000,
	}
}

// Identify queries ID, VER and ERR.
func (h *Handle) Identify() (id bus.Identity, err error) {
	id.ID, err = h.conn.Exchange("ID")
	if err != nil {
		return id, err
	}
	id.Version, err = h.conn.Exchange("VER")
	if err != nil {
		return id, err
	}
	id.Error, err = h.conn.Exchange("ERR")
	return id, err
}

// Set applies a potential in millivolts, switching the cell back on
// after an open-circuit rest.
func (h *Handle) Set(potential float64) error {
	h.mx.Lock()
	cellOn := h.cellOn
	h.mx.Unlock()
	if !cellOn {
		err := h.conn.Send("CELL 1")
		if err != nil {
			return err
		}
		h.mx.Lock()
		h.cellOn = true
		h.mx.Unlock()
	}
	return h.conn.Send("SETE " + strconv.FormatFloat(potential, 'f', -1, 64))
}

func (h *Handle) Read(ch bus.Channel) (float64, error) {
	switch ch {
	case bus.Potential:
		resp, err := h.conn.Exchange("READE")
		if err != nil {
			return 0, err
		}
		return parsePotential(resp)
	case bus.Current:
		resp, err := h.conn.Exchange("READI")
		if err != nil {
			return 0, err
		}
		return parseCurrent(resp)
	}
	return 0, fmt.Errorf("%w: unknown channel %q", bus.ErrBus, ch)
}

// Quiesce zeroes the applied potential and switches the cell off.
func (h *Handle) Quiesce() error {
	err := h.conn.Send("SETE 0")
	if err != nil {
		return err
	}
	err = h.conn.Send("CELL 0")
	if err != nil {
		return err
	}
	h.mx.Lock()
	h.cellOn = false
	h.mx.Unlock()
	return nil
}

// Close releases the serial port. Idempotent.
func (h *Handle) Close() error {
	h.mx.Lock()
	if h.closed {
		h.mx.Unlock()
		return nil
	}
	h.closed = true
	h.mx.Unlock()
	h.conn.Close()
	return nil
}
