//go:build linux

package gpio

import (
	"fmt"
	"sync/atomic"

	"github.com/warthog618/go-gpiocdev"
)

// RealPump drives the pump relay through a GPIO output line.
type RealPump struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealPump requests pin on chipName as an output, initially off.
func NewRealPump(chipName string, pin int, activeLow bool) (*RealPump, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := chip.RequestLine(pin, opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request pump pin %d: %w", pin, err)
	}
	return &RealPump{chip: chip, line: line}, nil
}

// Set drives the relay line.
func (p *RealPump) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := p.line.SetValue(v); err != nil {
		return fmt.Errorf("set pump pin: %w", err)
	}
	return nil
}

// Close turns the relay off, then reconfigures the line as an input with
// pull-down so the relay stays released across reboot.
func (p *RealPump) Close() error {
	var errs []error
	if p.line != nil {
		if err := p.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("release pump pin: %w", err))
		}
		if err := p.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pump pin: %w", err))
		}
		if err := p.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pump pin: %w", err))
		}
	}
	if p.chip != nil {
		if err := p.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealPulseCounter counts flow sensor pulses with kernel edge events.
type RealPulseCounter struct {
	chip    *gpiocdev.Chip
	input   *gpiocdev.Line
	power   *gpiocdev.Line // nil when the sensor is always powered
	enabled atomic.Bool
	count   atomic.Uint64
}

// NewRealPulseCounter watches pin for falling edges. powerPin, unless
// NoPin, is driven high while the counter is enabled.
func NewRealPulseCounter(chipName string, pin, powerPin int) (*RealPulseCounter, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	c := &RealPulseCounter{chip: chip}

	c.input, err = chip.RequestLine(pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(c.handle))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request flow pin %d: %w", pin, err)
	}

	if powerPin != NoPin {
		c.power, err = chip.RequestLine(powerPin, gpiocdev.AsOutput(0))
		if err != nil {
			c.input.Close()
			chip.Close()
			return nil, fmt.Errorf("request flow power pin %d: %w", powerPin, err)
		}
	}
	return c, nil
}

func (c *RealPulseCounter) handle(gpiocdev.LineEvent) {
	if c.enabled.Load() {
		c.count.Add(1)
	}
}

// Enable powers the sensor (when a power line is configured) and gates
// counting.
func (c *RealPulseCounter) Enable(on bool) error {
	if c.power != nil {
		v := 0
		if on {
			v = 1
		}
		if err := c.power.SetValue(v); err != nil {
			return fmt.Errorf("set flow power pin: %w", err)
		}
	}
	c.enabled.Store(on)
	return nil
}

// Reset zeroes the pulse count.
func (c *RealPulseCounter) Reset() {
	c.count.Store(0)
}

// Count returns pulses since the last Reset.
func (c *RealPulseCounter) Count() uint64 {
	return c.count.Load()
}

// Close releases the lines and the chip.
func (c *RealPulseCounter) Close() error {
	c.enabled.Store(false)
	var errs []error
	if c.power != nil {
		if err := c.power.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("release flow power pin: %w", err))
		}
		if err := c.power.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close flow power pin: %w", err))
		}
	}
	if c.input != nil {
		if err := c.input.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close flow pin: %w", err))
		}
	}
	if c.chip != nil {
		if err := c.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
