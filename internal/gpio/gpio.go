// Package gpio drives the irrigation valve relay with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Valve opens and closes the water valve.
type Valve interface {
	// Set drives the relay: true opens the valve, false closes it.
	Set(open bool) error

	// Close shuts the valve and releases GPIO resources.
	Close() error
}

// Default relay wiring (BCM numbering).
const (
	DefaultChip = "gpiochip0"
	PinValve    = 17
)

// NoopValve accepts every command and drives nothing. Used when no relay is
// wired to the host.
type NoopValve struct{}

// Set does nothing.
func (NoopValve) Set(bool) error { return nil }

// Close does nothing.
func (NoopValve) Close() error { return nil }
