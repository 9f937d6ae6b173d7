package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// configJSON is the on-disk and API shape of ConfigParams. Pointer fields
// let the decoder tell a missing or null field from a zero value.
type configJSON struct {
	NoIrrTimes    []string `json:"noirrtimes"`
	IrrSlot       *int     `json:"irrslot"`
	IrrMaxTimeDay *int     `json:"irrmaxtimeday"`
	IrrMInterv    *int     `json:"irrminterv"`
	CritLevel     *float64 `json:"critlevel"`
	SatLevel      *float64 `json:"satlevel"`
	NormPulses    *float64 `json:"normpulses"`
}

// MarshalJSON encodes the configuration with HHMM blackout tokens.
func (c ConfigParams) MarshalJSON() ([]byte, error) {
	times := make([]string, 0, 2*NumBlackouts)
	for _, iv := range c.NoIrrigation {
		times = append(times, FormatHHMM(iv.Start), FormatHHMM(iv.End))
	}
	return json.Marshal(configJSON{
		NoIrrTimes:    times,
		IrrSlot:       &c.IrrSlotSeconds,
		IrrMaxTimeDay: &c.IrrMaxTimeDaySeconds,
		IrrMInterv:    &c.IrrMIntervMins,
		CritLevel:     &c.CritLevel,
		SatLevel:      &c.SatLevel,
		NormPulses:    &c.NormalPulsesPerSec,
	})
}

// UnmarshalJSON decodes a configuration. Unknown fields, missing fields and
// null values are rejected. The result is not validated; call Validate.
func (c *ConfigParams) UnmarshalJSON(data []byte) error {
	var w configJSON
	if err := strictDecode(data, &w); err != nil {
		return err
	}
	switch {
	case w.NoIrrTimes == nil:
		return fmt.Errorf("%w: noirrtimes", ErrMissingField)
	case w.IrrSlot == nil:
		return fmt.Errorf("%w: irrslot", ErrMissingField)
	case w.IrrMaxTimeDay == nil:
		return fmt.Errorf("%w: irrmaxtimeday", ErrMissingField)
	case w.IrrMInterv == nil:
		return fmt.Errorf("%w: irrminterv", ErrMissingField)
	case w.CritLevel == nil:
		return fmt.Errorf("%w: critlevel", ErrMissingField)
	case w.SatLevel == nil:
		return fmt.Errorf("%w: satlevel", ErrMissingField)
	case w.NormPulses == nil:
		return fmt.Errorf("%w: normpulses", ErrMissingField)
	}
	if len(w.NoIrrTimes) != 2*NumBlackouts {
		return fmt.Errorf("%w: noirrtimes needs %d entries, got %d", ErrInvalid, 2*NumBlackouts, len(w.NoIrrTimes))
	}

	var out ConfigParams
	for i := 0; i < NumBlackouts; i++ {
		start, err := ParseHHMM(w.NoIrrTimes[2*i])
		if err != nil {
			return err
		}
		end, err := ParseHHMM(w.NoIrrTimes[2*i+1])
		if err != nil {
			return err
		}
		out.NoIrrigation[i] = Interval{Start: start, End: end}
	}
	out.IrrSlotSeconds = *w.IrrSlot
	out.IrrMaxTimeDaySeconds = *w.IrrMaxTimeDay
	out.IrrMIntervMins = *w.IrrMInterv
	out.CritLevel = *w.CritLevel
	out.SatLevel = *w.SatLevel
	out.NormalPulsesPerSec = *w.NormPulses
	*c = out
	return nil
}

// DecodeConfig reads one ConfigParams document from r and validates it.
func DecodeConfig(r io.Reader) (ConfigParams, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return ConfigParams{}, fmt.Errorf("reading config: %w", err)
	}
	var c ConfigParams
	if err := c.UnmarshalJSON(data); err != nil {
		return ConfigParams{}, err
	}
	if err := c.Validate(); err != nil {
		return ConfigParams{}, err
	}
	return c, nil
}

func strictDecode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", ErrInvalid)
	}
	return nil
}
