package params

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func hhmm(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := ParseHHMM(s)
	if err != nil {
		t.Fatalf("ParseHHMM(%q): %v", s, err)
	}
	return v
}

func validConfig() ConfigParams {
	return ConfigParams{
		IrrSlotSeconds:       600,
		IrrMIntervMins:       60,
		IrrMaxTimeDaySeconds: 3600,
		CritLevel:            30,
		SatLevel:             70,
		NormalPulsesPerSec:   12,
	}
}

func TestParseHHMM(t *testing.T) {
	tests := []struct {
		in       string
		wantZero bool
		hour     int
		min      int
		wantErr  bool
	}{
		{in: "0", wantZero: true},
		{in: "", wantZero: true},
		{in: "0000", hour: 0, min: 0},
		{in: "0930", hour: 9, min: 30},
		{in: "2359", hour: 23, min: 59},
		{in: "2400", wantErr: true},
		{in: "1260", wantErr: true},
		{in: "930", wantErr: true},
		{in: "09:30", wantErr: true},
		{in: "ab12", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseHHMM(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("ParseHHMM(%q): got err %v, want ErrInvalid", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseHHMM(%q): unexpected error %v", tt.in, err)
			continue
		}
		if tt.wantZero {
			if !got.IsZero() {
				t.Errorf("ParseHHMM(%q): got %v, want zero", tt.in, got)
			}
			continue
		}
		want := time.Date(2017, 1, 1, tt.hour, tt.min, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("ParseHHMM(%q): got %v, want %v", tt.in, got, want)
		}
	}
}

func TestFormatHHMMRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "0000", "0105", "1200", "2359"} {
		if got := FormatHHMM(hhmm(t, s)); got != s {
			t.Errorf("FormatHHMM(ParseHHMM(%q)): got %q", s, got)
		}
	}
}

func TestToConfTimeKeepsHourMinute(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	for h := 0; h < 24; h += 5 {
		for m := 1; m < 60; m += 13 {
			in := time.Date(2023, 7, 14, h, m, 42, 0, loc)
			got := ToConfTime(in)
			if got.Hour() != h || got.Minute() != m {
				t.Errorf("ToConfTime(%v): got %02d:%02d, want %02d:%02d", in, got.Hour(), got.Minute(), h, m)
			}
			if y, mo, d := got.Date(); y != 2017 || mo != time.January || d != 1 {
				t.Errorf("ToConfTime(%v): date %v, want 2017-01-01", in, got)
			}
			if s := FormatHHMM(got); s == "0" {
				t.Errorf("ToConfTime(%v) formatted as unset", in)
			}
		}
	}
}

func TestIntervalContains(t *testing.T) {
	iv := Interval{Start: hhmm(t, "0900"), End: hhmm(t, "1000")}
	at := func(h, m int) time.Time { return ToConfTime(time.Date(2024, 3, 3, h, m, 0, 0, time.UTC)) }

	if !iv.Contains(at(9, 0)) {
		t.Error("09:00 should be inside 0900-1000")
	}
	if !iv.Contains(at(10, 0)) {
		t.Error("10:00 should be inside 0900-1000")
	}
	if iv.Contains(at(10, 1)) {
		t.Error("10:01 should be outside 0900-1000")
	}
	if iv.Contains(at(8, 59)) {
		t.Error("08:59 should be outside 0900-1000")
	}

	var empty Interval
	if empty.Contains(at(0, 0)) {
		t.Error("empty interval should contain nothing")
	}
	inverted := Interval{Start: hhmm(t, "1000"), End: hhmm(t, "0900")}
	if inverted.Contains(at(9, 30)) {
		t.Error("inverted interval should contain nothing")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ConfigParams)
		valid  bool
	}{
		{"baseline", func(*ConfigParams) {}, true},
		{"zero slot", func(c *ConfigParams) { c.IrrSlotSeconds = 0 }, false},
		{"zero interval", func(c *ConfigParams) { c.IrrMIntervMins = 0 }, false},
		{"zero daily max", func(c *ConfigParams) { c.IrrMaxTimeDaySeconds = 0 }, false},
		{"crit negative", func(c *ConfigParams) { c.CritLevel = -1 }, false},
		{"crit 100", func(c *ConfigParams) { c.CritLevel = 100; c.SatLevel = 100 }, false},
		{"sat equals crit", func(c *ConfigParams) { c.SatLevel = c.CritLevel }, false},
		{"sat above 100", func(c *ConfigParams) { c.SatLevel = 101 }, false},
		{"sat 100", func(c *ConfigParams) { c.SatLevel = 100 }, true},
		{"uncalibrated flow", func(c *ConfigParams) { c.NormalPulsesPerSec = 0 }, true},
		{"negative flow", func(c *ConfigParams) { c.NormalPulsesPerSec = -1 }, false},
		{"midnight start", func(c *ConfigParams) {
			c.NoIrrigation[0] = Interval{Start: ReferenceDate, End: ReferenceDate.Add(time.Hour)}
		}, true},
		{"inverted blackout", func(c *ConfigParams) {
			c.NoIrrigation[2] = Interval{Start: ReferenceDate.Add(2 * time.Hour), End: ReferenceDate.Add(time.Hour)}
		}, false},
		{"half set blackout", func(c *ConfigParams) {
			c.NoIrrigation[1] = Interval{Start: ReferenceDate.Add(2 * time.Hour)}
		}, false},
	}
	for _, tt := range tests {
		c := validConfig()
		tt.mutate(&c)
		err := c.Validate()
		if tt.valid && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: got %v, want ErrInvalid", tt.name, err)
		}
		if c.IsAllValid() != tt.valid {
			t.Errorf("%s: IsAllValid got %v, want %v", tt.name, !tt.valid, tt.valid)
		}
	}
}

const sampleJSON = `{"noirrtimes":["0900","1000","0","0","1800","1830","0","0"],` +
	`"irrslot":600,"irrmaxtimeday":3600,"irrminterv":60,` +
	`"critlevel":30.5,"satlevel":70,"normpulses":12}`

func TestDecodeConfig(t *testing.T) {
	c, err := DecodeConfig(strings.NewReader(sampleJSON))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if c.IrrSlotSeconds != 600 {
		t.Errorf("IrrSlotSeconds: got %d, want 600", c.IrrSlotSeconds)
	}
	if c.CritLevel != 30.5 {
		t.Errorf("CritLevel: got %v, want 30.5", c.CritLevel)
	}
	if got := FormatHHMM(c.NoIrrigation[2].Start); got != "1800" {
		t.Errorf("NoIrrigation[2].Start: got %q, want 1800", got)
	}
	if !c.NoIrrigation[1].IsEmpty() {
		t.Error("NoIrrigation[1] should be empty")
	}

	data, err := c.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(data) != sampleJSON {
		t.Errorf("MarshalJSON:\n got %s\nwant %s", data, sampleJSON)
	}
}

func TestDecodeConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"missing field", strings.Replace(sampleJSON, `"irrslot":600,`, "", 1), ErrMissingField},
		{"null field", strings.Replace(sampleJSON, `"satlevel":70`, `"satlevel":null`, 1), ErrMissingField},
		{"unknown field", strings.Replace(sampleJSON, `"irrslot"`, `"extra":1,"irrslot"`, 1), ErrInvalid},
		{"short noirrtimes", strings.Replace(sampleJSON, `"0","0","1800"`, `"1800"`, 1), ErrInvalid},
		{"bad hhmm", strings.Replace(sampleJSON, `"0900"`, `"9h00"`, 1), ErrInvalid},
		{"invalid levels", strings.Replace(sampleJSON, `"satlevel":70`, `"satlevel":10`, 1), ErrInvalid},
		{"not json", `{"noirrtimes":`, ErrInvalid},
		{"null document", `null`, ErrMissingField},
	}
	for _, tt := range tests {
		_, err := DecodeConfig(strings.NewReader(tt.body))
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestInBlackout(t *testing.T) {
	c := validConfig()
	c.NoIrrigation[3] = Interval{Start: hhmm(t, "2200"), End: hhmm(t, "2359")}
	loc := time.FixedZone("X", 2*3600)

	if !c.InBlackout(time.Date(2024, 5, 5, 22, 30, 0, 0, loc)) {
		t.Error("22:30 should be in blackout")
	}
	if c.InBlackout(time.Date(2024, 5, 5, 21, 59, 59, 0, loc)) {
		t.Error("21:59 should not be in blackout")
	}
}
