package egg273a

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mastercactapus/gpot/bus"
)

// A Port is the byte transport beneath a Conn. Reads should return
// promptly with n==0 when no data is available (serial ports opened
// with a short ReadTimeout behave this way) so Exchange can enforce
// its deadline.
type Port interface {
	io.ReadWriteCloser
}

// Conn represents a direct connection to a 273A-dialect instrument.
//
// All exchanges are serialized; a command and its reply are never
// interleaved with another pair.
type Conn struct {
	mx      sync.Mutex
	port    Port
	timeout time.Duration
	closed  bool
}

// NewConn creates a Conn over port with the given command timeout.
func NewConn(port Port, timeout time.Duration) *Conn {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Conn{
		port:    port,
		timeout: timeout,
	}
}

// Close releases the underlying port. Idempotent.
func (c *Conn) Close() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.port.Close()
}

// Send writes a command that produces no reply.
func (c *Conn) Send(cmd string) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.write(cmd)
}

// Exchange writes a command and waits for its single-line reply.
func (c *Conn) Exchange(cmd string) (string, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	err := c.write(cmd)
	if err != nil {
		return "", err
	}
	return c.readLine()
}

func (c *Conn) write(cmd string) error {
	if c.closed {
		return fmt.Errorf("%w: connection closed", bus.ErrBus)
	}
	_, err := c.port.Write([]byte(cmd + "\r\n"))
	if err != nil {
		return fmt.Errorf("%w: write %q: %v", bus.ErrBus, cmd, err)
	}
	return nil
}

func (c *Conn) readLine() (string, error) {
	deadline := time.Now().Add(c.timeout)
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := c.port.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				return strings.TrimRight(string(line), "\r"), nil
			}
			line = append(line, buf[0])
			continue
		}
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("%w: read: %v", bus.ErrBus, err)
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: no reply within %s", bus.ErrTimeout, c.timeout)
		}
	}
}
