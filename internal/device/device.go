// Package device wires the per-port stack: one connection, transport,
// bootloader protocol, scheduler, and settings client per opened
// session. A session is created for a selected port and destroyed when
// the port is released.
package device

import (
	"github.com/ademuri/open-motion-light-manager/internal/sched"
	"github.com/ademuri/open-motion-light-manager/internal/serial"
	"github.com/ademuri/open-motion-light-manager/internal/settings"
	"github.com/ademuri/open-motion-light-manager/internal/stm32"
	"github.com/ademuri/open-motion-light-manager/internal/transport"
)

// link combines the transport's buffer and the connection's IO handle
// into the scheduler's resource.
type link struct {
	*transport.Transport
	*serial.Conn
}

// Session owns the full stack for one opened port.
type Session struct {
	Conn      *serial.Conn
	Transport *transport.Transport
	Boot      *stm32.Protocol
	Sched     *sched.Scheduler
	Settings  *settings.Client
}

// Open opens the port and assembles the stack.
func Open(opts serial.Options) (*Session, error) {
	conn := serial.NewConn(opts)
	if err := conn.Open(); err != nil {
		return nil, err
	}
	return newSession(conn), nil
}

// NewSession assembles a stack over an already-open connection.
func NewSession(conn *serial.Conn) *Session {
	return newSession(conn)
}

func newSession(conn *serial.Conn) *Session {
	tr := transport.New(conn)
	return &Session{
		Conn:      conn,
		Transport: tr,
		Boot:      stm32.New(tr),
		Sched:     sched.New(link{tr, conn}),
		Settings:  settings.NewClient(tr),
	}
}

// Close tears the session down and closes the port.
func (s *Session) Close() error {
	return s.Conn.Close()
}
