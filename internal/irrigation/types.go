// Package irrigation contains the irrigation decision engine: a two-state
// (idle, irrigating) machine evaluated once per moisture reading.
// Time always comes from the reading, never from the wall clock.
package irrigation

import (
	"time"

	"github.com/srmq/IIRR/internal/sensor"
	"github.com/srmq/IIRR/internal/water"
)

// StopReason says why an irrigation run ended.
type StopReason string

const (
	StopSlot             StopReason = "slot"
	StopSurfaceSaturated StopReason = "surface_saturated"
	StopMiddleSaturated  StopReason = "middle_saturated"
	StopDeepRise         StopReason = "deep_rise"
	StopDailyBudget      StopReason = "daily_budget"
	StopFlowFault        StopReason = "flow_fault"
)

// StopReasons lists every reason, in evaluation order.
var StopReasons = []StopReason{
	StopSlot, StopSurfaceSaturated, StopMiddleSaturated,
	StopDeepRise, StopDailyBudget, StopFlowFault,
}

// State is the irrigation state. Only LastIrrigEnd and IrrigTodaySecs are
// persisted.
type State struct {
	IsIrrigating   bool
	IrrigSince     time.Time // zero unless irrigating
	LastIrrigEnd   time.Time // zero if never irrigated
	IrrigTodaySecs int64

	SurfaceAtStart float64
	MiddleAtStart  float64
	DeepAtStart    float64
}

// Persisted is the durable subset of State.
type Persisted struct {
	LastIrrigEnd   time.Time
	IrrigTodaySecs int64
}

// Decision is the outcome of one engine tick.
type Decision struct {
	Time time.Time

	Started bool
	Stopped bool
	Reason  StopReason    // set when Stopped
	Elapsed time.Duration // run length, set when Stopped
	Since   time.Time     // run start, set when Stopped
	AtStart sensor.Reading

	// StartStatus is the pump response when a start was attempted.
	StartAttempted bool
	StartStatus    water.StartStatus

	// Flow is the flow status sampled this tick, if FlowChecked.
	FlowChecked bool
	Flow        water.FlowStatus

	// Invalid lists depths whose reading was a sentinel or out of range.
	Invalid []sensor.Depth

	// ConfInvalid is set on the tick the configuration became unusable.
	ConfInvalid bool

	// StopRetried is set when the pump was found running while idle and
	// was stopped again.
	StopRetried bool

	// SaveErr is set if persisting the state after a stop failed.
	SaveErr error
}

// Options tunes the engine.
type Options struct {
	// DeepRiseFraction of the gap between the start-of-run deep reading and
	// saturation that the deep probe must rise to stop a run.
	DeepRiseFraction float64
	// MinBudgetFraction of one slot that must remain in today's budget to
	// start a run.
	MinBudgetFraction float64
	// Location defines calendar days for the daily budget and the
	// time-of-day for blackout windows.
	Location *time.Location
	// Monotonic measures run length independently of wall clock
	// corrections. When nil, backward wall clock jumps during a run are
	// absorbed but forward jumps count as irrigation time.
	Monotonic func() time.Time
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		DeepRiseFraction:  0.5,
		MinBudgetFraction: 0.2,
		Location:          time.UTC,
	}
}

// MinValidYear is the first year a reading timestamp is trusted.
const MinValidYear = 2017
