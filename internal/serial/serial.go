package serial

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the rate the STM32 USART bootloader is driven at.
const DefaultBaudRate = 57600

// defaultReadTimeout keeps port reads short so callers can poll
// cancellation between reads.
const defaultReadTimeout = 50 * time.Millisecond

// Port is the subset of a physical serial port the connection relies on.
// go.bug.st/serial.Port satisfies it; tests substitute fakes.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	SetDTR(value bool) error
	SetRTS(value bool) error
	ResetInputBuffer() error
	Close() error
}

// Options describes how to open the physical port.
type Options struct {
	Name string
	Baud int
}

// Conn manages the lifecycle of a single serial port and hands out the
// one IO handle used for all reads and writes. The handle is acquired
// lazily, reused across operations, and dropped only at Close or an
// explicit ReleaseIO.
type Conn struct {
	mu   sync.Mutex
	opts Options
	port Port
	io   *IOHandle

	// dial opens the physical port; replaced in tests.
	dial func(Options) (Port, error)
}

// NewConn creates a connection for the given port options. The port is
// not opened until Open is called.
func NewConn(opts Options) *Conn {
	if opts.Baud == 0 {
		opts.Baud = DefaultBaudRate
	}
	return &Conn{opts: opts, dial: openPort}
}

// NewConnFromPort creates a connection over an already-open port.
// Used by tests and alternate backends.
func NewConnFromPort(p Port) *Conn {
	return &Conn{port: p, dial: func(Options) (Port, error) { return p, nil }}
}

// openPort opens the device with the 8E1 framing the STM32 bootloader
// requires (AN3155).
func openPort(opts Options) (Port, error) {
	mode := &serial.Mode{
		BaudRate: opts.Baud,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(opts.Name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", opts.Name, err)
	}

	if err := port.SetReadTimeout(defaultReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return port, nil
}

// Open opens the underlying port. Calling Open on an already-open
// connection is a no-op.
func (c *Conn) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port != nil {
		return nil
	}

	port, err := c.dial(c.opts)
	if err != nil {
		return &ConnError{Op: "open", Err: err}
	}
	c.port = port
	return nil
}

// Close releases the IO handle and closes the port. Safe to call on an
// already-closed connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.io != nil {
		c.io.invalidate()
		c.io = nil
	}
	if c.port == nil {
		return nil
	}

	err := c.port.Close()
	c.port = nil
	if err != nil {
		return &ConnError{Op: "close", Err: err}
	}
	return nil
}

// IO returns the connection's IO handle, acquiring it on first use.
// Subsequent calls return the same handle until it is released.
func (c *Conn) IO() (*IOHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return nil, &ConnError{Op: "io", Err: errNotOpen}
	}
	if c.io == nil {
		c.io = &IOHandle{port: c.port}
	}
	return c.io, nil
}

// ReleaseIO drops the current IO handle without closing the port. The
// scheduler calls this between operations; the next IO call acquires a
// fresh handle.
func (c *Conn) ReleaseIO() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.io != nil {
		c.io.invalidate()
		c.io = nil
	}
}

// SetSignals drives the DTR and RTS control lines. The flasher uses
// these to force the target into bootloader mode and to reset it.
func (c *Conn) SetSignals(dtr, rts bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return &ConnError{Op: "signals", Err: errNotOpen}
	}
	if err := c.port.SetDTR(dtr); err != nil {
		return &ConnError{Op: "signals", Err: err}
	}
	if err := c.port.SetRTS(rts); err != nil {
		return &ConnError{Op: "signals", Err: err}
	}
	return nil
}

// FlushInput discards any bytes buffered by the driver.
func (c *Conn) FlushInput() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return &ConnError{Op: "flush", Err: errNotOpen}
	}
	if err := c.port.ResetInputBuffer(); err != nil {
		return &ConnError{Op: "flush", Err: err}
	}
	return nil
}

// ListPorts returns a list of available serial ports.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}
