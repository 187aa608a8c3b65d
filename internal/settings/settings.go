// Package settings exchanges configuration messages with the running
// application firmware. Frames are a single length byte (0..127)
// followed by the payload, symmetric in both directions. Payloads are
// protocol buffer messages; the framing layer only sees bytes.
package settings

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
)

// MaxPayloadSize is the ceiling imposed by the single-byte length field.
const MaxPayloadSize = 127

// DefaultTimeout bounds each read while waiting for the application's
// response.
const DefaultTimeout = time.Second

// Link is the transport surface the client drives.
type Link interface {
	Write(p []byte) error
	ReadExact(ctx context.Context, n int, timeout time.Duration) ([]byte, error)
}

// FrameError indicates a request or response violated the framing
// rules.
type FrameError struct {
	Msg string
}

func (e *FrameError) Error() string {
	return e.Msg
}

// Client performs framed request/response exchanges.
type Client struct {
	link    Link
	Timeout time.Duration
}

// NewClient creates a client over the given link.
func NewClient(link Link) *Client {
	return &Client{link: link, Timeout: DefaultTimeout}
}

// Exchange sends one framed payload and returns the framed response
// payload. A zero response length denotes an empty payload and no
// further read is performed.
func (c *Client) Exchange(ctx context.Context, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, &FrameError{Msg: fmt.Sprintf("request payload is %d bytes, limit is %d", len(payload), MaxPayloadSize)}
	}

	frame := make([]byte, 0, 1+len(payload))
	frame = append(frame, byte(len(payload)))
	frame = append(frame, payload...)
	if err := c.link.Write(frame); err != nil {
		return nil, err
	}

	lenByte, err := c.link.ReadExact(ctx, 1, c.Timeout)
	if err != nil {
		return nil, err
	}
	n := int(lenByte[0])
	if n > MaxPayloadSize {
		return nil, &FrameError{Msg: fmt.Sprintf("response length byte is %d, limit is %d", n, MaxPayloadSize)}
	}
	if n == 0 {
		return nil, nil
	}
	return c.link.ReadExact(ctx, n, c.Timeout)
}

// Do marshals req, performs the exchange, and unmarshals the response
// into resp. Decode failures are returned to the caller.
func (c *Client) Do(ctx context.Context, req, resp proto.Message) error {
	payload, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	body, err := c.Exchange(ctx, payload)
	if err != nil {
		return err
	}

	if err := proto.Unmarshal(body, resp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
