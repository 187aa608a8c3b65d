package serial

import (
	"sync"
	"time"
)

// IOHandle is the exclusive reader/writer for a connection. There is at
// most one live handle per connection; a released handle fails every
// call so stale holders cannot touch the port.
type IOHandle struct {
	mu       sync.Mutex
	port     Port
	released bool
}

func (h *IOHandle) invalidate() {
	h.mu.Lock()
	h.released = true
	h.mu.Unlock()
}

func (h *IOHandle) get() (Port, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, &ConnError{Op: "io", Err: errReleased}
	}
	return h.port, nil
}

// Read reads up to len(p) bytes from the port. A timed-out port read
// returns (0, nil), matching go.bug.st/serial semantics.
func (h *IOHandle) Read(p []byte) (int, error) {
	port, err := h.get()
	if err != nil {
		return 0, err
	}
	return port.Read(p)
}

// Write writes p fully to the port.
func (h *IOHandle) Write(p []byte) (int, error) {
	port, err := h.get()
	if err != nil {
		return 0, err
	}
	return port.Write(p)
}

// SetReadTimeout bounds the next Read calls on the port.
func (h *IOHandle) SetReadTimeout(t time.Duration) error {
	port, err := h.get()
	if err != nil {
		return err
	}
	return port.SetReadTimeout(t)
}
