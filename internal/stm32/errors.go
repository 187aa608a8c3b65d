package stm32

import "fmt"

// ProtocolError indicates the device rejected a command or the exchange
// produced bytes the protocol does not allow. Nack is set when the
// device answered with an explicit NACK.
type ProtocolError struct {
	Op   string
	Msg  string
	Nack bool
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func errNack(op string) error {
	return &ProtocolError{Op: op, Msg: "received NACK", Nack: true}
}

func errUnexpectedByte(op string, got byte) error {
	return &ProtocolError{Op: op, Msg: fmt.Sprintf("expected ACK, got 0x%02X", got)}
}
