// Package params holds the runtime irrigation configuration (blackout
// windows, slot and budget limits, moisture levels, flow calibration) and the
// cloud account configuration. Both are replaced wholesale by the admin API
// and only accepted when valid.
package params

import (
	"errors"
	"fmt"
	"time"
)

// NumBlackouts is the number of configurable no-irrigation windows.
const NumBlackouts = 4

// ReferenceDate is the day all HHMM values are anchored to so that
// time-of-day comparisons ignore the calendar date.
var ReferenceDate = time.Date(2017, time.January, 1, 0, 0, 0, 0, time.UTC)

var (
	// ErrInvalid is returned when a configuration fails validation.
	ErrInvalid = errors.New("params: invalid configuration")
	// ErrMissingField is returned when a required JSON field is absent or null.
	ErrMissingField = errors.New("params: missing required field")
)

// Interval is a time-of-day window. Both endpoints are on ReferenceDate.
// The zero Interval is unset.
type Interval struct {
	Start time.Time
	End   time.Time
}

// IsEmpty reports whether the interval is unset.
func (iv Interval) IsEmpty() bool {
	return iv.Start.IsZero() && iv.End.IsZero()
}

// IsValidOrEmpty reports whether the interval is unset or ends after it starts.
func (iv Interval) IsValidOrEmpty() bool {
	return iv.IsEmpty() || iv.End.After(iv.Start)
}

// Contains reports whether confTime, a value produced by ToConfTime, lies
// within the interval. Both endpoints are inclusive. Unset or malformed
// intervals contain nothing.
func (iv Interval) Contains(confTime time.Time) bool {
	if iv.IsEmpty() || !iv.IsValidOrEmpty() {
		return false
	}
	return !confTime.Before(iv.Start) && !confTime.After(iv.End)
}

// ConfigParams is the irrigation configuration.
type ConfigParams struct {
	NoIrrigation         [NumBlackouts]Interval
	IrrSlotSeconds       int // longest continuous irrigation run
	IrrMIntervMins       int // minimum pause between runs
	IrrMaxTimeDaySeconds int // irrigation budget per calendar day
	CritLevel            float64
	SatLevel             float64
	NormalPulsesPerSec   float64 // calibrated flow sensor rate, 0 = not calibrated
}

// IsAllValid reports whether the engine may act on this configuration.
func (c ConfigParams) IsAllValid() bool {
	return c.Validate() == nil
}

// Validate returns an error wrapping ErrInvalid describing the first
// violated constraint.
func (c ConfigParams) Validate() error {
	for i, iv := range c.NoIrrigation {
		if !iv.IsValidOrEmpty() {
			return fmt.Errorf("%w: blackout interval %d ends before it starts", ErrInvalid, i)
		}
	}
	switch {
	case c.IrrSlotSeconds <= 0:
		return fmt.Errorf("%w: irrslot must be > 0", ErrInvalid)
	case c.IrrMIntervMins <= 0:
		return fmt.Errorf("%w: irrminterv must be > 0", ErrInvalid)
	case c.IrrMaxTimeDaySeconds <= 0:
		return fmt.Errorf("%w: irrmaxtimeday must be > 0", ErrInvalid)
	case c.CritLevel < 0 || c.CritLevel >= 100:
		return fmt.Errorf("%w: critlevel must be in [0,100)", ErrInvalid)
	case c.SatLevel <= c.CritLevel || c.SatLevel <= 0 || c.SatLevel > 100:
		return fmt.Errorf("%w: satlevel must be in (critlevel,100]", ErrInvalid)
	case c.NormalPulsesPerSec < 0:
		return fmt.Errorf("%w: normpulses must be >= 0", ErrInvalid)
	}
	return nil
}

// InBlackout reports whether t falls inside any configured blackout window.
// t is interpreted in its own location.
func (c ConfigParams) InBlackout(t time.Time) bool {
	ct := ToConfTime(t)
	for _, iv := range c.NoIrrigation {
		if iv.Contains(ct) {
			return true
		}
	}
	return false
}

// ParseHHMM converts a four digit HHMM token to a time on ReferenceDate.
// "0" and "" mean unset and return the zero time.
func ParseHHMM(s string) (time.Time, error) {
	if s == "" || s == "0" {
		return time.Time{}, nil
	}
	if len(s) != 4 {
		return time.Time{}, fmt.Errorf("%w: time %q is not HHMM", ErrInvalid, s)
	}
	for i := 0; i < 4; i++ {
		if s[i] < '0' || s[i] > '9' {
			return time.Time{}, fmt.Errorf("%w: time %q is not HHMM", ErrInvalid, s)
		}
	}
	hour := int(s[0]-'0')*10 + int(s[1]-'0')
	min := int(s[2]-'0')*10 + int(s[3]-'0')
	if hour > 23 || min > 59 {
		return time.Time{}, fmt.Errorf("%w: time %q out of range", ErrInvalid, s)
	}
	return ReferenceDate.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute), nil
}

// FormatHHMM is the inverse of ParseHHMM. The zero time formats as "0".
func FormatHHMM(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return fmt.Sprintf("%02d%02d", t.Hour(), t.Minute())
}

// ToConfTime keeps only the hour and minute of t and moves them to
// ReferenceDate.
func ToConfTime(t time.Time) time.Time {
	return ReferenceDate.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute)
}
