// Package sensor reads the three soil moisture probes.
//
// Each probe is a resistive divider against a known reference resistor.
// The reference and after-probe voltages come from ADC channels exposed by
// the kernel IIO subsystem. A depth is sampled several times and the median
// resistance is mapped to a moisture percentage by an empirical power law.
// Failures are reported in-band as negative sentinel values.
package sensor

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Depth identifies a probe.
type Depth int

const (
	Surface Depth = iota
	Middle
	Deep
)

// Depths lists all probes in reading order.
var Depths = [...]Depth{Surface, Middle, Deep}

func (d Depth) String() string {
	switch d {
	case Surface:
		return "surface"
	case Middle:
		return "middle"
	case Deep:
		return "deep"
	}
	return fmt.Sprintf("Depth(%d)", int(d))
}

// Sentinel readings.
const (
	OpenCircuit  = -1.0
	ShortCircuit = -2.0
	ReadError    = -3.0
)

// Valid reports whether v is a real moisture percentage.
func Valid(v float64) bool {
	return v >= 0 && v <= 100
}

// Reading is one snapshot of all probes.
type Reading struct {
	Time    time.Time
	Surface float64
	Middle  float64
	Deep    float64
}

// Value returns the value for depth d.
func (r Reading) Value(d Depth) float64 {
	switch d {
	case Surface:
		return r.Surface
	case Middle:
		return r.Middle
	default:
		return r.Deep
	}
}

// Reader returns the moisture of one probe, or a sentinel.
type Reader interface {
	Read(d Depth) float64
}

// Sample reads every probe and stamps the result with now.
func Sample(r Reader, now time.Time) Reading {
	return Reading{
		Time:    now,
		Surface: r.Read(Surface),
		Middle:  r.Read(Middle),
		Deep:    r.Read(Deep),
	}
}

// Calibration of the divider and the resistance-to-moisture curve.
type Calibration struct {
	ReferenceOhms   float64
	Samples         int
	MinAfterRaw     int // below this the probe is open
	MinShortDiffRaw int // reference minus after below this is a short
	MulX            float64
	ExpFactor       float64
	SettleDelay     time.Duration
}

// DefaultCalibration matches the stock probe board.
var DefaultCalibration = Calibration{
	ReferenceOhms:   4700,
	Samples:         11,
	MinAfterRaw:     10,
	MinShortDiffRaw: 2,
	MulX:            593.288368205802,
	ExpFactor:       1.30431394603425,
	SettleDelay:     10 * time.Millisecond,
}

// Channel is one ADC input.
type Channel interface {
	Raw() (int, error)
}

// Probe is the pair of ADC channels around one divider.
type Probe struct {
	Reference Channel
	After     Channel
}

// DividerReader implements Reader over resistive divider probes.
type DividerReader struct {
	probes [3]Probe
	cal    Calibration
	sleep  func(time.Duration)
}

// NewDividerReader returns a reader for the given probes, indexed by Depth.
func NewDividerReader(probes [3]Probe, cal Calibration, sleep func(time.Duration)) *DividerReader {
	if sleep == nil {
		sleep = time.Sleep
	}
	if cal.Samples <= 0 {
		cal.Samples = 1
	}
	return &DividerReader{probes: probes, cal: cal, sleep: sleep}
}

// Read samples depth d and returns the moisture percentage or a sentinel.
func (r *DividerReader) Read(d Depth) float64 {
	p := r.probes[d]
	value := 1.0
	res := make([]float64, r.cal.Samples)
	for i := range res {
		res[i] = -1
		ref, err := p.Reference.Raw()
		if err != nil {
			value = ReadError
			continue
		}
		after, err := p.After.Raw()
		if err != nil {
			value = ReadError
			continue
		}
		switch {
		case after < r.cal.MinAfterRaw:
			value = OpenCircuit
		case ref-after < r.cal.MinShortDiffRaw:
			value = ShortCircuit
		default:
			res[i] = math.Floor(r.cal.ReferenceOhms*float64(ref-after)/float64(after) + 0.5)
			r.sleep(r.cal.SettleDelay)
		}
	}
	sort.Float64s(res)
	median := res[len(res)/2]
	if median > 0 {
		return 100 * r.cal.Moisture(median)
	}
	if value > 0 {
		return ReadError
	}
	return value
}

// Moisture maps a probe resistance to a fraction in [0,1].
func (c Calibration) Moisture(ohms float64) float64 {
	v := math.Exp((math.Log(c.MulX) - math.Log(ohms)) / c.ExpFactor)
	if v > 1 {
		v = 1
	}
	return v
}
