package flasher

import "fmt"

// MismatchError indicates the connected device is not the expected chip.
type MismatchError struct {
	Got  uint16
	Want uint16
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("product ID mismatch: device reports 0x%04X, want 0x%04X", e.Got, e.Want)
}

// VerifyError indicates a readback byte did not match the image.
type VerifyError struct {
	Address uint32
	Want    byte
	Got     byte
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verification failed at 0x%08X: wrote 0x%02X, read 0x%02X", e.Address, e.Want, e.Got)
}
