package serial

import (
	"errors"
	"fmt"
)

var (
	errNotOpen  = errors.New("connection not open")
	errReleased = errors.New("io handle released")
)

// ConnError indicates the underlying stream is not usable: the port is
// not open, was closed mid-operation, or the device disconnected.
type ConnError struct {
	Op  string
	Err error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("serial %s: %v", e.Op, e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}
