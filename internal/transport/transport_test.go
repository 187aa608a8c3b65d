package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ademuri/open-motion-light-manager/internal/serial"
)

// scriptedPort serves reads from a list of chunks, one chunk per Read
// call, mimicking arbitrary physical chunk boundaries.
type scriptedPort struct {
	chunks  [][]byte
	written []byte
	readErr error
}

func (s *scriptedPort) Read(p []byte) (int, error) {
	if len(s.chunks) == 0 {
		if s.readErr != nil {
			return 0, s.readErr
		}
		return 0, nil // timed-out read
	}
	n := copy(p, s.chunks[0])
	s.chunks = s.chunks[1:]
	return n, nil
}

func (s *scriptedPort) Write(p []byte) (int, error) {
	s.written = append(s.written, p...)
	return len(p), nil
}

func (s *scriptedPort) SetReadTimeout(t time.Duration) error { return nil }
func (s *scriptedPort) SetDTR(v bool) error                  { return nil }
func (s *scriptedPort) SetRTS(v bool) error                  { return nil }
func (s *scriptedPort) ResetInputBuffer() error              { return nil }
func (s *scriptedPort) Close() error                         { return nil }

func newTestTransport(chunks ...[]byte) (*Transport, *scriptedPort) {
	port := &scriptedPort{chunks: chunks}
	return New(serial.NewConnFromPort(port)), port
}

func TestWrite(t *testing.T) {
	tr, port := newTestTransport()
	if err := tr.Write([]byte{0x7F}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !bytes.Equal(port.written, []byte{0x7F}) {
		t.Errorf("written = %v, want [0x7F]", port.written)
	}
}

func TestReadExact_SingleChunk(t *testing.T) {
	tr, _ := newTestTransport([]byte{1, 2, 3})
	got, err := tr.ReadExact(context.Background(), 3, time.Second)
	if err != nil {
		t.Fatalf("ReadExact() error = %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("ReadExact() = %v, want [1 2 3]", got)
	}
}

func TestReadExact_AcrossChunkBoundaries(t *testing.T) {
	// Bytes 0..9 split over uneven physical chunks. Consecutive
	// ReadExact calls must partition them without loss or duplication.
	tr, _ := newTestTransport(
		[]byte{0, 1},
		[]byte{2, 3, 4, 5, 6},
		[]byte{7},
		[]byte{8, 9},
	)
	ctx := context.Background()

	first, err := tr.ReadExact(ctx, 4, time.Second)
	if err != nil {
		t.Fatalf("first ReadExact() error = %v", err)
	}
	second, err := tr.ReadExact(ctx, 3, time.Second)
	if err != nil {
		t.Fatalf("second ReadExact() error = %v", err)
	}
	third, err := tr.ReadExact(ctx, 3, time.Second)
	if err != nil {
		t.Fatalf("third ReadExact() error = %v", err)
	}

	if !bytes.Equal(first, []byte{0, 1, 2, 3}) {
		t.Errorf("first = %v, want [0 1 2 3]", first)
	}
	if !bytes.Equal(second, []byte{4, 5, 6}) {
		t.Errorf("second = %v, want [4 5 6]", second)
	}
	if !bytes.Equal(third, []byte{7, 8, 9}) {
		t.Errorf("third = %v, want [7 8 9]", third)
	}
}

func TestReadExact_ConcatenationProperty(t *testing.T) {
	// For any split of the input into physical chunks and logical
	// reads, the concatenation of outputs equals the input.
	input := make([]byte, 32)
	for i := range input {
		input[i] = byte(i)
	}

	splits := [][]int{
		{32},
		{1, 31},
		{5, 5, 5, 17},
		{16, 16},
		{31, 1},
	}
	logical := []int{3, 7, 1, 10, 11}

	for _, split := range splits {
		var chunks [][]byte
		off := 0
		for _, n := range split {
			chunks = append(chunks, input[off:off+n])
			off += n
		}
		tr, _ := newTestTransport(chunks...)

		var got []byte
		for _, n := range logical {
			part, err := tr.ReadExact(context.Background(), n, time.Second)
			if err != nil {
				t.Fatalf("split %v: ReadExact(%d) error = %v", split, n, err)
			}
			got = append(got, part...)
		}
		if !bytes.Equal(got, input) {
			t.Errorf("split %v: concatenated reads = %v, want %v", split, got, input)
		}
	}
}

func TestReadChunk_LeftoverFirst(t *testing.T) {
	tr, _ := newTestTransport([]byte{1, 2, 3, 4}, []byte{5})
	ctx := context.Background()

	if _, err := tr.ReadExact(ctx, 2, time.Second); err != nil {
		t.Fatalf("ReadExact() error = %v", err)
	}

	// The remaining two bytes are buffered; ReadChunk must return them
	// without consuming the next physical chunk.
	chunk, err := tr.ReadChunk(ctx, time.Second)
	if err != nil {
		t.Fatalf("ReadChunk() error = %v", err)
	}
	if !bytes.Equal(chunk, []byte{3, 4}) {
		t.Errorf("ReadChunk() = %v, want [3 4]", chunk)
	}

	next, err := tr.ReadChunk(ctx, time.Second)
	if err != nil {
		t.Fatalf("second ReadChunk() error = %v", err)
	}
	if !bytes.Equal(next, []byte{5}) {
		t.Errorf("second ReadChunk() = %v, want [5]", next)
	}
}

func TestReadExact_Timeout(t *testing.T) {
	tr, _ := newTestTransport([]byte{1})

	_, err := tr.ReadExact(context.Background(), 2, 120*time.Millisecond)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("ReadExact() error = %v, want TimeoutError", err)
	}
}

func TestReadChunk_Cancel(t *testing.T) {
	tr, _ := newTestTransport()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.ReadChunk(ctx, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ReadChunk() error = %v, want context.Canceled", err)
	}
}

func TestReadChunk_PortError(t *testing.T) {
	port := &scriptedPort{readErr: errors.New("device gone")}
	tr := New(serial.NewConnFromPort(port))

	_, err := tr.ReadChunk(context.Background(), time.Second)
	var ce *serial.ConnError
	if !errors.As(err, &ce) {
		t.Fatalf("ReadChunk() error = %v, want ConnError", err)
	}
}

func TestClearLeftover(t *testing.T) {
	tr, _ := newTestTransport([]byte{1, 2, 3, 4})
	ctx := context.Background()

	if _, err := tr.ReadExact(ctx, 1, time.Second); err != nil {
		t.Fatalf("ReadExact() error = %v", err)
	}
	tr.ClearLeftover()

	// With the leftover gone and no more physical data, the next read
	// must time out rather than return stale bytes.
	_, err := tr.ReadChunk(ctx, 120*time.Millisecond)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("ReadChunk() after ClearLeftover error = %v, want TimeoutError", err)
	}
}
