package flasher

import "github.com/ademuri/open-motion-light-manager/internal/stm32"

// Config holds the flasher configuration.
type Config struct {
	// ProgressCallback receives phase and percent reports (optional).
	ProgressCallback ProgressCallback

	// Logger receives debug and error logs (optional).
	Logger Logger

	// Chip describes the target's flash geometry and expected product ID.
	Chip stm32.Params

	// WriteProtect re-enables write protection after a successful
	// verify. Off by default; the application is left unprotected.
	WriteProtect bool
}

func defaultConfig() Config {
	return Config{Chip: stm32.MotionLight}
}

// Option configures a Flasher.
type Option func(*Config)

// WithProgressCallback sets the progress report receiver.
func WithProgressCallback(cb ProgressCallback) Option {
	return func(c *Config) { c.ProgressCallback = cb }
}

// WithLogger sets the logging hook.
func WithLogger(l Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithChip overrides the target chip parameters.
func WithChip(chip stm32.Params) Option {
	return func(c *Config) { c.Chip = chip }
}

// WithWriteProtect enables write protection after flashing.
func WithWriteProtect(protect bool) Option {
	return func(c *Config) { c.WriteProtect = protect }
}
