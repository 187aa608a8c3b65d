// Package stm32 implements the STM32 USART bootloader command protocol
// (AN3155): checksummed commands acknowledged byte-by-byte with ACK or
// NACK. The package issues commands and validates acknowledgements; it
// does not track the device's protection or erase state.
package stm32

import (
	"context"
	"fmt"
	"time"
)

// Link is the transport surface the protocol drives.
type Link interface {
	Write(p []byte) error
	ReadExact(ctx context.Context, n int, timeout time.Duration) ([]byte, error)
}

// Default command timeouts. Erase and unprotect block the device for
// seconds, so their acknowledgement gets a much longer budget.
const (
	DefaultAckTimeout   = time.Second
	DefaultEraseTimeout = 10 * time.Second
)

// Protocol speaks the bootloader protocol over a transport link.
type Protocol struct {
	link         Link
	AckTimeout   time.Duration
	EraseTimeout time.Duration
}

// New creates a protocol instance with default timeouts.
func New(link Link) *Protocol {
	return &Protocol{
		link:         link,
		AckTimeout:   DefaultAckTimeout,
		EraseTimeout: DefaultEraseTimeout,
	}
}

// AppendChecksum appends the XOR of all payload bytes. The device
// recomputes the XOR over the whole frame and expects zero.
func AppendChecksum(payload []byte) []byte {
	var chk byte
	for _, b := range payload {
		chk ^= b
	}
	return append(payload, chk)
}

// ExpectAck reads the device's single-byte acknowledgement.
func (p *Protocol) ExpectAck(ctx context.Context, op string, timeout time.Duration) error {
	buf, err := p.link.ReadExact(ctx, 1, timeout)
	if err != nil {
		return err
	}
	switch buf[0] {
	case Ack:
		return nil
	case Nack:
		return errNack(op)
	default:
		return errUnexpectedByte(op, buf[0])
	}
}

// sendCommand writes an opcode with its complement and waits for the ACK.
func (p *Protocol) sendCommand(ctx context.Context, op string, cmd byte) error {
	if err := p.link.Write([]byte{cmd, cmd ^ 0xFF}); err != nil {
		return err
	}
	return p.ExpectAck(ctx, op, p.AckTimeout)
}

// sendPayload writes a checksummed payload and waits for the ACK.
func (p *Protocol) sendPayload(ctx context.Context, op string, payload []byte, timeout time.Duration) error {
	if err := p.link.Write(AppendChecksum(payload)); err != nil {
		return err
	}
	return p.ExpectAck(ctx, op, timeout)
}

// Init wakes the bootloader with the init byte. The init byte is sent
// alone, without a complement.
func (p *Protocol) Init(ctx context.Context) error {
	if err := p.link.Write([]byte{InitByte}); err != nil {
		return err
	}
	return p.ExpectAck(ctx, "init", p.AckTimeout)
}

// Get returns the bootloader version and the list of supported command
// opcodes.
func (p *Protocol) Get(ctx context.Context) (version byte, commands []byte, err error) {
	if err := p.sendCommand(ctx, "get", CmdGet); err != nil {
		return 0, nil, err
	}
	size, err := p.link.ReadExact(ctx, 1, p.AckTimeout)
	if err != nil {
		return 0, nil, err
	}
	body, err := p.link.ReadExact(ctx, int(size[0])+1, p.AckTimeout)
	if err != nil {
		return 0, nil, err
	}
	if err := p.ExpectAck(ctx, "get", p.AckTimeout); err != nil {
		return 0, nil, err
	}
	return body[0], body[1:], nil
}

// GetProductID returns the device's product ID, a big-endian integer
// formed from the ID bytes.
func (p *Protocol) GetProductID(ctx context.Context) (uint16, error) {
	if err := p.sendCommand(ctx, "get id", CmdGetID); err != nil {
		return 0, err
	}
	size, err := p.link.ReadExact(ctx, 1, p.AckTimeout)
	if err != nil {
		return 0, err
	}
	id, err := p.link.ReadExact(ctx, int(size[0])+1, p.AckTimeout)
	if err != nil {
		return 0, err
	}
	if err := p.ExpectAck(ctx, "get id", p.AckTimeout); err != nil {
		return 0, err
	}

	var pid uint16
	for _, b := range id {
		pid = pid<<8 | uint16(b)
	}
	return pid, nil
}

// GetVersion returns the bootloader version byte. The two option bytes
// that follow it are read and discarded.
func (p *Protocol) GetVersion(ctx context.Context) (byte, error) {
	if err := p.sendCommand(ctx, "get version", CmdGetVersion); err != nil {
		return 0, err
	}
	body, err := p.link.ReadExact(ctx, 3, p.AckTimeout)
	if err != nil {
		return 0, err
	}
	if err := p.ExpectAck(ctx, "get version", p.AckTimeout); err != nil {
		return 0, err
	}
	return body[0], nil
}

// WriteUnprotect disables flash write protection. The device performs a
// mass-erase-equivalent operation, so the second acknowledgement gets
// the erase timeout. The device resets itself afterwards.
func (p *Protocol) WriteUnprotect(ctx context.Context) error {
	if err := p.sendCommand(ctx, "write unprotect", CmdWriteUnprotect); err != nil {
		return err
	}
	return p.ExpectAck(ctx, "write unprotect", p.EraseTimeout)
}

// ErasePages erases the given pages with the extended erase command.
// An empty page list is a no-op.
func (p *Protocol) ErasePages(ctx context.Context, pages []int) error {
	if len(pages) == 0 {
		return nil
	}
	if err := p.sendCommand(ctx, "erase", CmdEraseExtended); err != nil {
		return err
	}

	payload := make([]byte, 0, 2+2*len(pages))
	count := len(pages) - 1
	payload = append(payload, byte(count>>8), byte(count))
	for _, page := range pages {
		payload = append(payload, byte(page>>8), byte(page))
	}
	return p.sendPayload(ctx, "erase", payload, p.EraseTimeout)
}

// EraseAll erases the device's entire flash, page by page.
func (p *Protocol) EraseAll(ctx context.Context, chip Params) error {
	pages := make([]int, chip.TotalPages())
	for i := range pages {
		pages[i] = i
	}
	return p.ErasePages(ctx, pages)
}

// WriteProtectAll enables write protection on every sector. The device
// resets itself afterwards.
func (p *Protocol) WriteProtectAll(ctx context.Context, chip Params) error {
	if err := p.sendCommand(ctx, "write protect", CmdWriteProtect); err != nil {
		return err
	}

	payload := make([]byte, 0, 1+chip.SectorCount)
	payload = append(payload, byte(chip.SectorCount-1))
	for i := 0; i < chip.SectorCount; i++ {
		payload = append(payload, byte(i))
	}
	return p.sendPayload(ctx, "write protect", payload, p.AckTimeout)
}

// WriteMemory writes data to the given address. The length must be
// 1..256 and word aligned; invalid lengths fail before any bytes reach
// the transport.
func (p *Protocol) WriteMemory(ctx context.Context, addr uint32, data []byte) error {
	if err := validateTransfer("write memory", len(data)); err != nil {
		return err
	}
	if err := p.sendCommand(ctx, "write memory", CmdWriteMemory); err != nil {
		return err
	}
	if err := p.sendPayload(ctx, "write memory", addrBytes(addr), p.AckTimeout); err != nil {
		return err
	}
	payload := make([]byte, 0, 1+len(data))
	payload = append(payload, byte(len(data)-1))
	payload = append(payload, data...)
	return p.sendPayload(ctx, "write memory", payload, p.AckTimeout)
}

// ReadMemory reads length bytes from the given address, subject to the
// same length limits as WriteMemory.
func (p *Protocol) ReadMemory(ctx context.Context, addr uint32, length int) ([]byte, error) {
	if err := validateTransfer("read memory", length); err != nil {
		return nil, err
	}
	if err := p.sendCommand(ctx, "read memory", CmdReadMemory); err != nil {
		return nil, err
	}
	if err := p.sendPayload(ctx, "read memory", addrBytes(addr), p.AckTimeout); err != nil {
		return nil, err
	}

	n := byte(length - 1)
	if err := p.link.Write([]byte{n, n ^ 0xFF}); err != nil {
		return nil, err
	}
	if err := p.ExpectAck(ctx, "read memory", p.AckTimeout); err != nil {
		return nil, err
	}
	return p.link.ReadExact(ctx, length, p.AckTimeout)
}

// Go jumps to application code at the given address.
func (p *Protocol) Go(ctx context.Context, addr uint32) error {
	if err := p.sendCommand(ctx, "go", CmdGo); err != nil {
		return err
	}
	return p.sendPayload(ctx, "go", addrBytes(addr), p.AckTimeout)
}

func addrBytes(addr uint32) []byte {
	return []byte{byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr)}
}

func validateTransfer(op string, length int) error {
	if length < 1 || length > MaxTransferSize || length%WordSize != 0 {
		return &ProtocolError{
			Op:  op,
			Msg: fmt.Sprintf("invalid data length %d (must be 1..256 and a multiple of 4)", length),
		}
	}
	return nil
}
