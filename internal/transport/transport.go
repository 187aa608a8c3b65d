// Package transport provides byte-exact reads over a chunked serial
// stream. The port delivers bytes in arbitrary chunks; the transport
// buffers whatever a read did not consume ("leftover") so that
// consecutive logical reads never lose or duplicate a byte.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/ademuri/open-motion-light-manager/internal/serial"
)

// pollInterval bounds a single port read so cancellation is observed
// promptly while waiting for bytes.
const pollInterval = 50 * time.Millisecond

// readBufSize is larger than any single bootloader response.
const readBufSize = 512

// Transport layers exact-length reads over a serial connection. It is
// not safe for concurrent use; the scheduler serializes access.
type Transport struct {
	conn     *serial.Conn
	leftover []byte
}

// New creates a transport over the given connection.
func New(conn *serial.Conn) *Transport {
	return &Transport{conn: conn}
}

// Write writes p fully to the port. The IO handle stays acquired on the
// connection for subsequent calls.
func (t *Transport) Write(p []byte) error {
	io, err := t.conn.IO()
	if err != nil {
		return err
	}
	n, err := io.Write(p)
	if err != nil {
		return &serial.ConnError{Op: "write", Err: err}
	}
	if n != len(p) {
		return &serial.ConnError{Op: "write", Err: fmt.Errorf("short write (%d of %d bytes)", n, len(p))}
	}
	return nil
}

// ReadChunk returns the next available bytes. If leftover bytes from a
// previous ReadExact are buffered they are returned without touching
// the port, so bytes belonging to the next logical read are never
// discarded. Otherwise it waits for one physical read, failing with
// TimeoutError when the timeout elapses or ctx.Err when cancelled.
func (t *Transport) ReadChunk(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if len(t.leftover) > 0 {
		chunk := t.leftover
		t.leftover = nil
		return chunk, nil
	}

	io, err := t.conn.IO()
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, readBufSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &TimeoutError{Op: "read", Timeout: timeout}
		}

		slice := remaining
		if slice > pollInterval {
			slice = pollInterval
		}
		if err := io.SetReadTimeout(slice); err != nil {
			return nil, err
		}

		n, err := io.Read(buf)
		if n > 0 {
			return buf[:n], nil
		}
		if err != nil {
			// End-of-data or a port failure mid-read.
			return nil, &serial.ConnError{Op: "read", Err: err}
		}
		// n == 0 with nil error is a timed-out port read; keep polling
		// until the overall deadline.
	}
}

// ReadExact reads exactly n bytes, accumulating physical chunks as they
// arrive. Excess bytes beyond n are kept as leftover for the next read.
// The timeout is a single budget for the whole operation.
func (t *Transport) ReadExact(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)

	out := make([]byte, 0, n)
	for len(out) < n {
		chunk, err := t.ReadChunk(ctx, time.Until(deadline))
		if err != nil {
			return nil, err
		}
		need := n - len(out)
		if len(chunk) > need {
			t.leftover = append([]byte(nil), chunk[need:]...)
			chunk = chunk[:need]
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// ClearLeftover discards buffered bytes. The scheduler calls this at
// operation boundaries so a previous operation's stray bytes cannot
// corrupt the next.
func (t *Transport) ClearLeftover() {
	t.leftover = nil
}
