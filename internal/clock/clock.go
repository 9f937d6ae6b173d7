// Package clock provides the wall clock used by the daemon. The clock can be
// moved forward or back when the cloud server or an administrator reports a
// better time.
package clock

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// MinValidYear is the first year accepted as a plausible wall clock.
const MinValidYear = 2017

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Settable is a Clock that can be corrected.
type Settable interface {
	Clock
	Set(t time.Time) error
}

// Valid reports whether t looks like a real date rather than a clock that
// was never set.
func Valid(t time.Time) bool {
	return t.Year() >= MinValidYear
}

// Offset is a Settable clock that adds a software offset to the system
// clock. When SetSystem is enabled, Set also writes the kernel real-time
// clock and the offset returns to zero.
type Offset struct {
	base      func() time.Time
	setSystem bool
	log       *zap.SugaredLogger

	mu     sync.RWMutex
	offset time.Duration
}

// NewOffset returns a clock over time.Now.
func NewOffset(setSystem bool, log *zap.SugaredLogger) *Offset {
	return &Offset{base: time.Now, setSystem: setSystem, log: log}
}

// Now returns the corrected time.
func (o *Offset) Now() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.base().Add(o.offset)
}

// Offset returns the current software correction.
func (o *Offset) Offset() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.offset
}

// Set moves the clock to t. A failure to write the system clock falls back
// to the software offset.
func (o *Offset) Set(t time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.setSystem {
		err := setSystemClock(t)
		if err == nil {
			o.offset = 0
			o.log.Infow("clock: system clock set", "time", t.UTC())
			return nil
		}
		o.log.Warnw("clock: unable to set system clock, using offset", "error", err)
	}
	o.offset = t.Sub(o.base())
	o.log.Infow("clock: offset adjusted", "offset", o.offset)
	return nil
}
