// Package flasher drives the full firmware flash sequence: bootloader
// mode entry, identification, unprotect, erase, write, verify, and the
// reset back into application mode.
package flasher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ademuri/open-motion-light-manager/internal/stm32"
)

// Conn is the signal-line surface of the serial connection.
type Conn interface {
	SetSignals(dtr, rts bool) error
	FlushInput() error
}

// Scheduler grants the flasher exclusive turns on the transport.
type Scheduler interface {
	Run(ctx context.Context, fn func(context.Context) error) error
}

// Bootloader is the command protocol the flasher sequences.
type Bootloader interface {
	Init(ctx context.Context) error
	GetProductID(ctx context.Context) (uint16, error)
	WriteUnprotect(ctx context.Context) error
	ErasePages(ctx context.Context, pages []int) error
	WriteMemory(ctx context.Context, addr uint32, data []byte) error
	ReadMemory(ctx context.Context, addr uint32, length int) ([]byte, error)
	WriteProtectAll(ctx context.Context, chip stm32.Params) error
}

// chunkSize is the per-command transfer size for write and verify.
const chunkSize = 256

// Signal settle times. The unprotect command resets the device, which
// needs noticeably longer before it answers the next init.
const (
	settleDelay     = 50 * time.Millisecond
	unprotectSettle = 500 * time.Millisecond
)

// Flasher orchestrates a flash session. It owns only the session's byte
// counters; transport state belongs to the layers below.
type Flasher struct {
	conn   Conn
	sched  Scheduler
	boot   Bootloader
	config Config
}

// New creates a flasher over an opened device stack.
func New(conn Conn, sched Scheduler, boot Bootloader, opts ...Option) *Flasher {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Flasher{conn: conn, sched: sched, boot: boot, config: cfg}
}

// Flash writes image to the device and verifies it byte for byte. On
// any failure, including cancellation, the device is reset into
// application mode on a best-effort basis and the original error is
// returned.
func (f *Flasher) Flash(ctx context.Context, image []byte) error {
	if len(image) == 0 {
		return errors.New("firmware image is empty")
	}
	if len(image) > f.config.Chip.FlashSize {
		return fmt.Errorf("firmware image is %d bytes, device flash is %d", len(image), f.config.Chip.FlashSize)
	}

	f.report(PhaseEntering, 0, "entering bootloader mode")
	if err := f.enterBootloader(); err != nil {
		return f.fail(err)
	}

	if err := f.sched.Run(ctx, func(ctx context.Context) error {
		return f.program(ctx, image)
	}); err != nil {
		return f.fail(err)
	}

	f.report(PhaseResetting, 100, "resetting into application")
	if err := f.resetToApplication(); err != nil {
		return f.fail(err)
	}

	f.report(PhaseComplete, 100, "flash complete")
	f.logInfo("flash complete", "bytes", len(image))
	return nil
}

// program runs the bootloader command sequence inside one scheduled
// operation.
func (f *Flasher) program(ctx context.Context, image []byte) error {
	chip := f.config.Chip

	f.report(PhaseInitializing, 0, "contacting bootloader")
	if err := f.boot.Init(ctx); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	pid, err := f.boot.GetProductID(ctx)
	if err != nil {
		return fmt.Errorf("get product id: %w", err)
	}
	if pid != chip.ProductID {
		return &MismatchError{Got: pid, Want: chip.ProductID}
	}
	f.logDebug("bootloader identified", "product_id", fmt.Sprintf("0x%04X", pid))

	f.report(PhaseUnprotecting, 0, "disabling write protection")
	if err := f.boot.WriteUnprotect(ctx); err != nil {
		return fmt.Errorf("write unprotect: %w", err)
	}

	// The device resets itself after unprotect and must be re-initialized.
	time.Sleep(unprotectSettle)
	if err := f.boot.Init(ctx); err != nil {
		return fmt.Errorf("re-init after unprotect: %w", err)
	}

	f.report(PhaseErasing, 0, "erasing flash")
	if err := f.boot.ErasePages(ctx, chip.PagesCovering(len(image))); err != nil {
		return fmt.Errorf("erase: %w", err)
	}

	if err := f.writeImage(ctx, image); err != nil {
		return err
	}
	if err := f.verifyImage(ctx, image); err != nil {
		return err
	}

	if f.config.WriteProtect {
		f.report(PhaseProtecting, 100, "enabling write protection")
		if err := f.boot.WriteProtectAll(ctx, chip); err != nil {
			return fmt.Errorf("write protect: %w", err)
		}
	}
	return nil
}

// writeImage writes the image in 256-byte chunks, reporting progress
// from 0 to 50 percent.
func (f *Flasher) writeImage(ctx context.Context, image []byte) error {
	base := f.config.Chip.FlashBase
	total := len(image)

	for off := 0; off < total; off += chunkSize {
		chunk := imageChunk(image, off)
		addr := base + uint32(off)
		if err := f.boot.WriteMemory(ctx, addr, chunk); err != nil {
			return fmt.Errorf("write at 0x%08X: %w", addr, err)
		}

		done := off + chunkSize
		if done > total {
			done = total
		}
		f.report(PhaseWriting, done*50/total, fmt.Sprintf("wrote %d of %d bytes", done, total))
	}
	return nil
}

// verifyImage reads the image back in 256-byte chunks and compares byte
// for byte, reporting progress from 50 to 100 percent.
func (f *Flasher) verifyImage(ctx context.Context, image []byte) error {
	base := f.config.Chip.FlashBase
	total := len(image)

	for off := 0; off < total; off += chunkSize {
		want := imageChunk(image, off)
		addr := base + uint32(off)
		got, err := f.boot.ReadMemory(ctx, addr, len(want))
		if err != nil {
			return fmt.Errorf("read at 0x%08X: %w", addr, err)
		}
		if !bytes.Equal(got, want) {
			for i := range want {
				if got[i] != want[i] {
					return &VerifyError{Address: addr + uint32(i), Want: want[i], Got: got[i]}
				}
			}
		}

		done := off + chunkSize
		if done > total {
			done = total
		}
		f.report(PhaseVerifying, 50+done*50/total, fmt.Sprintf("verified %d of %d bytes", done, total))
	}
	return nil
}

// imageChunk returns the up-to-256-byte chunk at off, padded with 0xFF
// to a word multiple. Erased flash reads back 0xFF, so padding verifies
// like image bytes.
func imageChunk(image []byte, off int) []byte {
	end := off + chunkSize
	if end > len(image) {
		end = len(image)
	}
	chunk := image[off:end]
	if rem := len(chunk) % stm32.WordSize; rem != 0 {
		padded := make([]byte, len(chunk)+stm32.WordSize-rem)
		copy(padded, chunk)
		for i := len(chunk); i < len(padded); i++ {
			padded[i] = 0xFF
		}
		return padded
	}
	return chunk
}

// enterBootloader forces the target into bootloader mode: BOOT0 held
// via DTR while RTS pulses the reset line.
func (f *Flasher) enterBootloader() error {
	steps := [][2]bool{{false, false}, {false, true}, {false, false}}
	for _, s := range steps {
		if err := f.conn.SetSignals(s[0], s[1]); err != nil {
			return fmt.Errorf("enter bootloader: %w", err)
		}
		time.Sleep(settleDelay)
	}
	// Drop any garbage the reset pushed into the driver buffer.
	return f.conn.FlushInput()
}

// resetToApplication releases BOOT0 and pulses reset so the target
// boots the application image.
func (f *Flasher) resetToApplication() error {
	steps := [][2]bool{{true, false}, {true, true}, {true, false}}
	for _, s := range steps {
		if err := f.conn.SetSignals(s[0], s[1]); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		time.Sleep(settleDelay)
	}
	return nil
}

// fail reports the terminal phase, attempts the recovery reset so the
// device is left runnable, and passes the original error through. The
// secondary reset error is logged and swallowed.
func (f *Flasher) fail(err error) error {
	if errors.Is(err, context.Canceled) {
		f.report(PhaseCancelled, 0, "flash cancelled")
	} else {
		f.report(PhaseError, 0, err.Error())
	}

	if resetErr := f.resetToApplication(); resetErr != nil {
		f.logError("recovery reset failed", "error", resetErr)
	}
	return err
}

func (f *Flasher) report(phase Phase, percent int, message string) {
	if f.config.ProgressCallback != nil {
		f.config.ProgressCallback(Progress{Phase: phase, Percent: percent, Message: message})
	}
}

func (f *Flasher) logDebug(msg string, kv ...interface{}) {
	if f.config.Logger != nil {
		f.config.Logger.Debug(msg, kv...)
	}
}

func (f *Flasher) logInfo(msg string, kv ...interface{}) {
	if f.config.Logger != nil {
		f.config.Logger.Info(msg, kv...)
	}
}

func (f *Flasher) logError(msg string, kv ...interface{}) {
	if f.config.Logger != nil {
		f.config.Logger.Error(msg, kv...)
	}
}
