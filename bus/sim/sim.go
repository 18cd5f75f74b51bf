// Package sim provides a virtual potentiostat bus for tests and for
// running the controller without hardware.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/mastercactapus/gpot/bus"
)

// cellResistance models the dummy cell the virtual instrument drives,
// in ohms.
const cellResistance = 1000.0

// Driver is a virtual instrument bus. Devices can be made to vanish or
// to time out mid-run to exercise failure paths.
type Driver struct {
	mx      sync.Mutex
	visible map[string]bool
	handles map[string]*handle
}

var _ bus.Driver = &Driver{}

// New creates a bus with the given device addresses visible. With no
// arguments a single "SIM0::273A" device is present.
func New(addrs ...string) *Driver {
	if len(addrs) == 0 {
		addrs = []string{"SIM0::273A"}
	}
	d := &Driver{
		visible: make(map[string]bool, len(addrs)),
		handles: make(map[string]*handle),
	}
	for _, a := range addrs {
		d.visible[a] = true
	}
	return d
}

func (d *Driver) ListAvailable() ([]string, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	addrs := make([]string, 0, len(d.visible))
	for a, ok := range d.visible {
		if ok {
			addrs = append(addrs, a)
		}
	}
	return addrs, nil
}

func (d *Driver) Open(address string) (bus.Handle, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if !d.visible[address] {
		return nil, fmt.Errorf("%w: %s", bus.ErrNotFound, address)
	}
	h := &handle{drv: d, addr: address, cellOn: true}
	d.handles[address] = h
	return h, nil
}

// Vanish removes the device from the bus. Any open handle starts
// failing with ErrDeviceLost.
func (d *Driver) Vanish(address string) {
	d.mx.Lock()
	defer d.mx.Unlock()
	delete(d.visible, address)
	if h := d.handles[address]; h != nil {
		h.mx.Lock()
		h.lost = true
		h.mx.Unlock()
	}
}

// Appear makes the device visible on the bus again.
func (d *Driver) Appear(address string) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.visible[address] = true
}

// FailAfter makes the nth subsequent command on the open handle for
// address (and every one after it) time out.
func (d *Driver) FailAfter(address string, n int) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if h := d.handles[address]; h != nil {
		h.mx.Lock()
		h.failAt = h.ops + n
		h.mx.Unlock()
	}
}

// Latency adds a fixed delay to every command on the open handle.
func (d *Driver) Latency(address string, dt time.Duration) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if h := d.handles[address]; h != nil {
		h.mx.Lock()
		h.latency = dt
		h.mx.Unlock()
	}
}

type handle struct {
	drv  *Driver
	addr string

	mx      sync.Mutex
	closed  bool
	lost    bool
	cellOn  bool
	setE    float64 // mV
	ops     int
	failAt  int
	latency time.Duration
}

var _ bus.Handle = &handle{}

// exchange accounts one command, applying any scripted fault.
func (h *handle) exchange() error {
	h.mx.Lock()
	defer h.mx.Unlock()
	if h.closed {
		return fmt.Errorf("%w: handle closed", bus.ErrBus)
	}
	if h.lost {
		return fmt.Errorf("%w: %s", bus.ErrDeviceLost, h.addr)
	}
	if h.latency > 0 {
		dt := h.latency
		h.mx.Unlock()
		time.Sleep(dt)
		h.mx.Lock()
	}
	h.ops++
	if h.failAt > 0 && h.ops >= h.failAt {
		return fmt.Errorf("%w: %s", bus.ErrTimeout, h.addr)
	}
	return nil
}

func (h *handle) Address() string { return h.addr }

func (h *handle) Capability() bus.Capability {
	return bus.Capability{
		Vendor:       "Simulated 273A",
		Channels:     []bus.Channel{bus.Potential, bus.Current},
		MinPotential: -8000,
		MaxPotential: 8000,
	}
}

func (h *handle) Identify() (bus.Identity, error) {
	err := h.exchange()
	if err != nil {
		return bus.Identity{}, err
	}
	return bus.Identity{ID: "273A SIM", Version: "1.0", Error: "0"}, nil
}

func (h *handle) Set(potential float64) error {
	err := h.exchange()
	if err != nil {
		return err
	}
	h.mx.Lock()
	h.setE = potential
	h.cellOn = true
	h.mx.Unlock()
	return nil
}

// Read models a resistive dummy cell: the measured potential tracks
// the applied one and the current follows Ohm's law. With the cell
// off both read zero.
func (h *handle) Read(ch bus.Channel) (float64, error) {
	err := h.exchange()
	if err != nil {
		return 0, err
	}
	h.mx.Lock()
	defer h.mx.Unlock()
	if !h.cellOn {
		return 0, nil
	}
	switch ch {
	case bus.Potential:
		return h.setE, nil
	case bus.Current:
		return h.setE / 1000 / cellResistance, nil
	}
	return 0, fmt.Errorf("%w: unknown channel %q", bus.ErrBus, ch)
}

func (h *handle) Quiesce() error {
	err := h.exchange()
	if err != nil {
		return err
	}
	h.mx.Lock()
	h.setE = 0
	h.cellOn = false
	h.mx.Unlock()
	return nil
}

func (h *handle) Close() error {
	h.mx.Lock()
	h.closed = true
	h.mx.Unlock()
	return nil
}
