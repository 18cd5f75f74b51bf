package bus

import "errors"

// A Channel identifies a measurable quantity on an instrument.
type Channel string

const (
	// Potential is the cell potential, in millivolts.
	Potential Channel = "potential"
	// Current is the cell current, in amperes.
	Current Channel = "current"
)

// Capability describes what a connected instrument can do.
type Capability struct {
	Vendor   string
	Channels []Channel

	// MinPotential and MaxPotential bound Set, in millivolts.
	MinPotential float64
	MaxPotential float64
}

// HasChannel reports whether the instrument can measure ch.
func (c Capability) HasChannel(ch Channel) bool {
	for _, have := range c.Channels {
		if have == ch {
			return true
		}
	}
	return false
}

// Identity is the result of an instrument identity query.
type Identity struct {
	ID      string
	Version string
	Error   string
}

func (id Identity) String() string {
	s := id.ID
	if id.Version != "" {
		s += " v" + id.Version
	}
	return s
}

var (
	// ErrNotFound is returned by Open for an address not on the bus.
	ErrNotFound = errors.New("device not found")

	// ErrBus indicates the bus resource could not be acquired or used.
	ErrBus = errors.New("bus error")

	// ErrTimeout is returned when a device does not respond within the
	// configured command timeout.
	ErrTimeout = errors.New("communication timeout")

	// ErrDeviceLost is returned once a device has vanished from the bus.
	ErrDeviceLost = errors.New("device lost")
)

// A Driver enumerates and opens instruments on one bus.
type Driver interface {
	// ListAvailable returns the addresses currently visible on the bus.
	// It may be called at any time and reflects the bus at that moment.
	ListAvailable() ([]string, error)

	// Open binds the addressed device and prepares it for control.
	Open(address string) (Handle, error)
}

// A Handle is a bound instrument. Every call that touches the bus is
// subject to the driver's command timeout and returns ErrTimeout rather
// than blocking indefinitely. Handles serialize command/response pairs
// internally; no two exchanges interleave on the same handle.
type Handle interface {
	Address() string
	Capability() Capability

	// Identify queries the device identity.
	Identify() (Identity, error)

	// Set applies a cell potential, in millivolts, switching the cell
	// on if needed.
	Set(potential float64) error

	// Read measures the named channel.
	Read(ch Channel) (float64, error)

	// Quiesce returns the instrument to a safe electrical state:
	// zero applied potential, cell off.
	Quiesce() error

	// Close releases the bus resource. Idempotent, never fails if
	// already closed.
	Close() error
}
