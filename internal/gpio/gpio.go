// Package gpio drives the pump relay and counts flow sensor pulses.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

// Pump switches the well pump relay.
type Pump interface {
	// Set energizes (true) or de-energizes (false) the relay.
	Set(on bool) error

	// Close de-energizes the relay and releases GPIO resources.
	Close() error
}

// PulseCounter counts falling edges from the flow sensor.
type PulseCounter interface {
	// Enable powers the sensor and starts counting.
	Enable(on bool) error

	// Reset zeroes the pulse count.
	Reset()

	// Count returns the pulses seen since the last Reset.
	Count() uint64

	// Close releases GPIO resources.
	Close() error
}

// Default line offsets (BCM numbering).
const (
	PinPump      = 17
	PinFlow      = 27
	PinFlowPower = 22
)

// NoPin disables an optional line.
const NoPin = -1
