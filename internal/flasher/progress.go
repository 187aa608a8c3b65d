package flasher

// Phase identifies a step of the flash sequence.
type Phase string

const (
	PhaseEntering     Phase = "entering-bootloader"
	PhaseInitializing Phase = "initializing"
	PhaseUnprotecting Phase = "unprotecting"
	PhaseErasing      Phase = "erasing"
	PhaseWriting      Phase = "writing"
	PhaseVerifying    Phase = "verifying"
	PhaseProtecting   Phase = "protecting"
	PhaseResetting    Phase = "resetting"
	PhaseComplete     Phase = "complete"
	PhaseCancelled    Phase = "cancelled"
	PhaseError        Phase = "error"
)

// Progress is one progress report. Percent is monotonic within the
// writing (0 to 50) and verifying (50 to 100) phases.
type Progress struct {
	Phase   Phase
	Percent int
	Message string
}

// ProgressCallback receives progress reports. Implementations should
// return quickly; the flasher calls them inline.
type ProgressCallback func(Progress)

// Logger is an optional logging hook for flash operations.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
