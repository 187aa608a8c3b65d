package stm32

// AN3155 USART bootloader wire constants.
const (
	Ack      = 0x79
	Nack     = 0x1F
	InitByte = 0x7F
)

// Bootloader command opcodes. Each opcode is sent together with its
// bitwise complement as a self-check.
const (
	CmdGet            = 0x00
	CmdGetVersion     = 0x01
	CmdGetID          = 0x02
	CmdReadMemory     = 0x11
	CmdGo             = 0x21
	CmdWriteMemory    = 0x31
	CmdEraseExtended  = 0x44
	CmdWriteProtect   = 0x63
	CmdWriteUnprotect = 0x73
)

// Write and read memory transfers are limited to 256 bytes and must be
// word aligned.
const (
	MaxTransferSize = 256
	WordSize        = 4
)
