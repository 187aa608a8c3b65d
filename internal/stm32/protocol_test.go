package stm32

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// fakeLink serves reads from a pre-loaded byte stream and records every
// write frame.
type fakeLink struct {
	writes [][]byte
	reads  []byte
}

func (f *fakeLink) Write(p []byte) error {
	f.writes = append(f.writes, append([]byte(nil), p...))
	return nil
}

func (f *fakeLink) ReadExact(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	if len(f.reads) < n {
		return nil, errors.New("no more scripted bytes")
	}
	out := f.reads[:n:n]
	f.reads = f.reads[n:]
	return out, nil
}

func TestAppendChecksum_ReducesToZero(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x00},
		{0xFF},
		{0x01, 0x02, 0x03},
		{0xDE, 0xAD, 0xBE, 0xEF, 0x42},
	}

	for _, payload := range payloads {
		framed := AppendChecksum(append([]byte(nil), payload...))
		if len(framed) != len(payload)+1 {
			t.Fatalf("AppendChecksum(%v) length = %d, want %d", payload, len(framed), len(payload)+1)
		}
		var xor byte
		for _, b := range framed {
			xor ^= b
		}
		if xor != 0 {
			t.Errorf("AppendChecksum(%v) XOR-reduction = 0x%02X, want 0", payload, xor)
		}
	}
}

func TestExpectAck(t *testing.T) {
	ctx := context.Background()

	t.Run("ack", func(t *testing.T) {
		p := New(&fakeLink{reads: []byte{Ack}})
		if err := p.ExpectAck(ctx, "test", time.Second); err != nil {
			t.Errorf("ExpectAck() error = %v, want nil", err)
		}
	})

	t.Run("nack", func(t *testing.T) {
		p := New(&fakeLink{reads: []byte{Nack}})
		err := p.ExpectAck(ctx, "test", time.Second)
		var pe *ProtocolError
		if !errors.As(err, &pe) {
			t.Fatalf("ExpectAck() error = %v, want ProtocolError", err)
		}
		if !pe.Nack {
			t.Error("ProtocolError.Nack = false, want true")
		}
	})

	t.Run("unexpected byte", func(t *testing.T) {
		p := New(&fakeLink{reads: []byte{0x42}})
		err := p.ExpectAck(ctx, "test", time.Second)
		var pe *ProtocolError
		if !errors.As(err, &pe) {
			t.Fatalf("ExpectAck() error = %v, want ProtocolError", err)
		}
		if pe.Nack {
			t.Error("ProtocolError.Nack = true, want false")
		}
		if !strings.Contains(err.Error(), "0x42") {
			t.Errorf("error %q does not include the byte in hex", err)
		}
	})
}

func TestInit(t *testing.T) {
	link := &fakeLink{reads: []byte{Ack}}
	p := New(link)

	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if len(link.writes) != 1 || !bytes.Equal(link.writes[0], []byte{InitByte}) {
		t.Errorf("Init() wrote %v, want [[0x7F]]", link.writes)
	}
}

func TestGetProductID(t *testing.T) {
	link := &fakeLink{reads: []byte{Ack, 0x01, 0x04, 0x25, Ack}}
	p := New(link)

	pid, err := p.GetProductID(context.Background())
	if err != nil {
		t.Fatalf("GetProductID() error = %v", err)
	}
	if pid != 0x0425 {
		t.Errorf("GetProductID() = 0x%04X, want 0x0425", pid)
	}
	if len(link.writes) == 0 || !bytes.Equal(link.writes[0], []byte{CmdGetID, 0xFD}) {
		t.Errorf("GetProductID() first write = %v, want [0x02 0xFD]", link.writes)
	}
}

func TestGetVersion(t *testing.T) {
	link := &fakeLink{reads: []byte{Ack, 0x31, 0x00, 0x00, Ack}}
	p := New(link)

	v, err := p.GetVersion(context.Background())
	if err != nil {
		t.Fatalf("GetVersion() error = %v", err)
	}
	if v != 0x31 {
		t.Errorf("GetVersion() = 0x%02X, want 0x31", v)
	}
}

func TestGet(t *testing.T) {
	// size=2: version byte plus two supported opcodes.
	link := &fakeLink{reads: []byte{Ack, 0x02, 0x31, CmdGet, CmdGetID, Ack}}
	p := New(link)

	version, cmds, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if version != 0x31 {
		t.Errorf("Get() version = 0x%02X, want 0x31", version)
	}
	if !bytes.Equal(cmds, []byte{CmdGet, CmdGetID}) {
		t.Errorf("Get() commands = %v, want [0x00 0x02]", cmds)
	}
}

func TestErasePages_Empty(t *testing.T) {
	link := &fakeLink{}
	p := New(link)

	if err := p.ErasePages(context.Background(), nil); err != nil {
		t.Fatalf("ErasePages(nil) error = %v", err)
	}
	if len(link.writes) != 0 {
		t.Errorf("ErasePages(nil) wrote %v, want nothing", link.writes)
	}
}

func TestErasePages_Payload(t *testing.T) {
	link := &fakeLink{reads: []byte{Ack, Ack}}
	p := New(link)

	if err := p.ErasePages(context.Background(), []int{0, 1, 2}); err != nil {
		t.Fatalf("ErasePages() error = %v", err)
	}
	if !bytes.Equal(link.writes[0], []byte{CmdEraseExtended, 0xBB}) {
		t.Errorf("command frame = %v, want [0x44 0xBB]", link.writes[0])
	}
	want := AppendChecksum([]byte{0x00, 0x02, 0x00, 0x00, 0x00, 0x01, 0x00, 0x02})
	if !bytes.Equal(link.writes[1], want) {
		t.Errorf("erase payload = %v, want %v", link.writes[1], want)
	}
}

func TestEraseAll_FixturePayload(t *testing.T) {
	// 64 KiB flash in 128-byte pages is 512 pages, so the count word is
	// 0x01FF and the page list runs 0x0000..0x01FF.
	link := &fakeLink{reads: []byte{Ack, Ack}}
	p := New(link)

	if err := p.EraseAll(context.Background(), MotionLight); err != nil {
		t.Fatalf("EraseAll() error = %v", err)
	}

	payload := link.writes[1]
	wantLen := 2 + 2*512 + 1
	if len(payload) != wantLen {
		t.Fatalf("erase payload length = %d, want %d", len(payload), wantLen)
	}
	if !bytes.Equal(payload[:6], []byte{0x01, 0xFF, 0x00, 0x00, 0x00, 0x01}) {
		t.Errorf("payload prefix = %v, want [0x01 0xFF 0x00 0x00 0x00 0x01]", payload[:6])
	}
	if !bytes.Equal(payload[wantLen-3:wantLen-1], []byte{0x01, 0xFF}) {
		t.Errorf("last page = %v, want [0x01 0xFF]", payload[wantLen-3:wantLen-1])
	}
	var xor byte
	for _, b := range payload {
		xor ^= b
	}
	if xor != 0 {
		t.Errorf("payload XOR-reduction = 0x%02X, want 0", xor)
	}
}

func TestWriteProtectAll_Payload(t *testing.T) {
	link := &fakeLink{reads: []byte{Ack, Ack}}
	p := New(link)

	chip := Params{SectorCount: 4}
	if err := p.WriteProtectAll(context.Background(), chip); err != nil {
		t.Fatalf("WriteProtectAll() error = %v", err)
	}
	want := AppendChecksum([]byte{0x03, 0x00, 0x01, 0x02, 0x03})
	if !bytes.Equal(link.writes[1], want) {
		t.Errorf("protect payload = %v, want %v", link.writes[1], want)
	}
}

func TestWriteMemory_InvalidLengths(t *testing.T) {
	for _, n := range []int{0, 3, 5, 257, 260} {
		t.Run(fmt.Sprintf("len=%d", n), func(t *testing.T) {
			link := &fakeLink{}
			p := New(link)

			err := p.WriteMemory(context.Background(), 0x08000000, make([]byte, n))
			var pe *ProtocolError
			if !errors.As(err, &pe) {
				t.Fatalf("WriteMemory() error = %v, want ProtocolError", err)
			}
			if len(link.writes) != 0 {
				t.Errorf("WriteMemory() wrote %v before failing validation", link.writes)
			}
		})
	}
}

func TestWriteMemory_Frames(t *testing.T) {
	link := &fakeLink{reads: []byte{Ack, Ack, Ack}}
	p := New(link)

	data := []byte{0x11, 0x22, 0x33, 0x44}
	if err := p.WriteMemory(context.Background(), 0x08000100, data); err != nil {
		t.Fatalf("WriteMemory() error = %v", err)
	}

	if !bytes.Equal(link.writes[0], []byte{CmdWriteMemory, 0xCE}) {
		t.Errorf("command frame = %v, want [0x31 0xCE]", link.writes[0])
	}
	wantAddr := AppendChecksum([]byte{0x08, 0x00, 0x01, 0x00})
	if !bytes.Equal(link.writes[1], wantAddr) {
		t.Errorf("address frame = %v, want %v", link.writes[1], wantAddr)
	}
	wantData := AppendChecksum(append([]byte{0x03}, data...))
	if !bytes.Equal(link.writes[2], wantData) {
		t.Errorf("data frame = %v, want %v", link.writes[2], wantData)
	}
}

func TestReadMemory(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	reads := []byte{Ack, Ack, Ack}
	reads = append(reads, payload...)
	link := &fakeLink{reads: reads}
	p := New(link)

	got, err := p.ReadMemory(context.Background(), 0x08000000, 4)
	if err != nil {
		t.Fatalf("ReadMemory() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadMemory() = %v, want %v", got, payload)
	}

	// Length frame is count-1 with its complement, like a command.
	if !bytes.Equal(link.writes[2], []byte{0x03, 0xFC}) {
		t.Errorf("length frame = %v, want [0x03 0xFC]", link.writes[2])
	}
}

func TestReadMemory_InvalidLength(t *testing.T) {
	link := &fakeLink{}
	p := New(link)

	_, err := p.ReadMemory(context.Background(), 0x08000000, 7)
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("ReadMemory() error = %v, want ProtocolError", err)
	}
	if len(link.writes) != 0 {
		t.Errorf("ReadMemory() wrote %v before failing validation", link.writes)
	}
}

func TestPagesCovering(t *testing.T) {
	tests := []struct {
		size  int
		pages int
	}{
		{0, 0},
		{1, 1},
		{128, 1},
		{129, 2},
		{1024, 8},
		{64 * 1024, 512},
		{128 * 1024, 512}, // clamped to the device
	}

	for _, tc := range tests {
		pages := MotionLight.PagesCovering(tc.size)
		if len(pages) != tc.pages {
			t.Errorf("PagesCovering(%d) = %d pages, want %d", tc.size, len(pages), tc.pages)
		}
	}
}
