package transport

import (
	"fmt"
	"time"
)

// TimeoutError indicates the read budget elapsed before the requested
// bytes arrived.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Op, e.Timeout)
}
