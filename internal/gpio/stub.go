//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealPump is not available on non-Linux platforms.
type RealPump struct{}

// NewRealPump returns an error on non-Linux platforms.
func NewRealPump(chipName string, pin int, activeLow bool) (*RealPump, error) {
	return nil, errUnsupported
}

func (p *RealPump) Set(on bool) error { return errUnsupported }
func (p *RealPump) Close() error      { return nil }

// RealPulseCounter is not available on non-Linux platforms.
type RealPulseCounter struct{}

// NewRealPulseCounter returns an error on non-Linux platforms.
func NewRealPulseCounter(chipName string, pin, powerPin int) (*RealPulseCounter, error) {
	return nil, errUnsupported
}

func (c *RealPulseCounter) Enable(on bool) error { return errUnsupported }
func (c *RealPulseCounter) Reset()               {}
func (c *RealPulseCounter) Count() uint64        { return 0 }
func (c *RealPulseCounter) Close() error         { return nil }
