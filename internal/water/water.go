// Package water owns the well pump and its flow sensor. It is the only code
// that energizes the pump, and it latches an "empty" fault when the pump
// runs without flow.
package water

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/srmq/IIRR/internal/gpio"
)

// StartStatus is the result of StartWater.
type StartStatus int

const (
	StartOK StartStatus = iota
	StartNoAction
	StartEmpty
	StartNoConf
	StartFailed // relay write failed
)

func (s StartStatus) String() string {
	switch s {
	case StartOK:
		return "OK"
	case StartNoAction:
		return "NO_ACTION"
	case StartEmpty:
		return "EMPTY"
	case StartNoConf:
		return "NO_CONF"
	case StartFailed:
		return "FAILED"
	}
	return fmt.Sprintf("StartStatus(%d)", int(s))
}

// FlowStatus is the result of CurrStatus.
type FlowStatus int

const (
	Flowing FlowStatus = iota
	Stop
	Empty
	NoConf
)

func (s FlowStatus) String() string {
	switch s {
	case Flowing:
		return "FLOWING"
	case Stop:
		return "STOP"
	case Empty:
		return "EMPTY"
	case NoConf:
		return "NO_CONF"
	}
	return fmt.Sprintf("FlowStatus(%d)", int(s))
}

// WaterController is the pump and flow safety capability used by the
// irrigation engine.
type WaterController interface {
	// StartWater energizes the pump. Unless ignoreNoConf is set it refuses
	// while the flow sensor is uncalibrated.
	StartWater(ignoreNoConf bool) StartStatus
	// StopWater de-energizes the pump. Always safe to call.
	StopWater()
	// CurrStatus samples the flow sensor. No flow while the pump is on
	// latches the empty fault and stops the pump.
	CurrStatus() FlowStatus
	// ResetEmpty clears the empty latch.
	ResetEmpty()
	// ConfigureFlow measures the nominal pulse rate with the pump running
	// and stores it. It returns false if the pump could not be started or
	// the result could not be saved.
	ConfigureFlow() bool

	PumpIsOn() bool
	EmptyTriggered() bool
	// Close stops the pump and releases the hardware.
	Close() error
}

// Calibration stores the nominal flow rate.
type Calibration interface {
	NormalPulsesPerSec() float64
	SetNormalPulses(pulses float64) error
}

const (
	// MinFlowFraction of the nominal rate below which there is no flow.
	MinFlowFraction = 0.3

	SampleWindow   = time.Second
	StabilizeDelay = 30 * time.Second
	SensorWarmup   = time.Second
)

// Option configures a WellPump.
type Option func(*WellPump)

// WithClock replaces the time source and the sleep function used for
// sampling windows and calibration delays.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(w *WellPump) {
		w.now = now
		w.sleep = sleep
	}
}

// WithEmptyHook registers fn to run (outside the lock) when the empty
// fault latches.
func WithEmptyHook(fn func()) Option {
	return func(w *WellPump) { w.onEmpty = fn }
}

// WellPump is a WaterController for a relay-driven pump with a pulse
// output flow sensor. Safe for concurrent use; a sampling window holds the
// lock so no pump transition can happen while pulses are counted.
type WellPump struct {
	pump gpio.Pump
	flow gpio.PulseCounter
	cal  Calibration
	log  *zap.SugaredLogger

	now     func() time.Time
	sleep   func(time.Duration)
	onEmpty func()

	mu       sync.Mutex
	pumpOn   bool
	empty    bool
	lastRate float64
}

// NewWellPump forces the pump off and returns the controller.
func NewWellPump(pump gpio.Pump, flow gpio.PulseCounter, cal Calibration, log *zap.SugaredLogger, opts ...Option) (*WellPump, error) {
	w := &WellPump{
		pump:  pump,
		flow:  flow,
		cal:   cal,
		log:   log,
		now:   time.Now,
		sleep: time.Sleep,
	}
	for _, o := range opts {
		o(w)
	}
	if err := pump.Set(false); err != nil {
		return nil, fmt.Errorf("forcing pump off: %w", err)
	}
	return w, nil
}

func (w *WellPump) noConf() bool {
	return w.cal.NormalPulsesPerSec() <= 0
}

func (w *WellPump) StartWater(ignoreNoConf bool) StartStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startLocked(ignoreNoConf)
}

func (w *WellPump) startLocked(ignoreNoConf bool) StartStatus {
	if !ignoreNoConf && w.noConf() {
		return StartNoConf
	}
	if w.empty {
		return StartEmpty
	}
	if w.pumpOn {
		return StartNoAction
	}
	if err := w.pump.Set(true); err != nil {
		w.log.Errorw("water: pump start failed", "error", err)
		return StartFailed
	}
	w.pumpOn = true
	w.log.Infow("water: pump on")
	return StartOK
}

func (w *WellPump) StopWater() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *WellPump) stopLocked() {
	if err := w.pump.Set(false); err != nil {
		w.log.Errorw("water: pump stop failed", "error", err)
		return
	}
	if w.pumpOn {
		w.log.Infow("water: pump off")
	}
	w.pumpOn = false
}

func (w *WellPump) CurrStatus() FlowStatus {
	w.mu.Lock()
	if w.empty {
		w.mu.Unlock()
		return Empty
	}
	if w.noConf() {
		w.mu.Unlock()
		return NoConf
	}

	avg := w.measureLocked(0)
	normal := w.cal.NormalPulsesPerSec()
	if avg > MinFlowFraction*normal {
		w.mu.Unlock()
		return Flowing
	}
	if !w.pumpOn {
		w.mu.Unlock()
		return Stop
	}

	w.stopLocked()
	w.empty = true
	w.log.Warnw("water: empty latched", "pulses_per_sec", avg, "normal", normal)
	hook := w.onEmpty
	w.mu.Unlock()
	if hook != nil {
		hook()
	}
	return Empty
}

func (w *WellPump) ResetEmpty() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.empty {
		w.log.Infow("water: empty latch reset")
	}
	w.empty = false
}

func (w *WellPump) ConfigureFlow() bool {
	w.mu.Lock()
	wasOn := w.pumpOn
	if !wasOn {
		if st := w.startLocked(true); st != StartOK {
			w.mu.Unlock()
			w.log.Warnw("water: flow calibration could not start pump", "status", st)
			return false
		}
	}
	w.sleep(StabilizeDelay)
	avg := w.measureLocked(SensorWarmup)
	if !wasOn {
		w.stopLocked()
	}
	w.mu.Unlock()

	if err := w.cal.SetNormalPulses(avg); err != nil {
		w.log.Errorw("water: saving flow calibration failed", "error", err)
		return false
	}
	w.log.Infow("water: flow calibrated", "pulses_per_sec", avg)
	return true
}

// measureLocked powers the sensor, waits warmup and takes three one-second
// samples, discarding the first and averaging the other two.
func (w *WellPump) measureLocked(warmup time.Duration) float64 {
	if err := w.flow.Enable(true); err != nil {
		w.log.Warnw("water: flow sensor enable failed", "error", err)
	}
	if warmup > 0 {
		w.sleep(warmup)
	}
	w.sampleLocked()
	avg := 0.5*w.sampleLocked() + 0.5*w.sampleLocked()
	if err := w.flow.Enable(false); err != nil {
		w.log.Warnw("water: flow sensor disable failed", "error", err)
	}
	w.lastRate = avg
	return avg
}

func (w *WellPump) sampleLocked() float64 {
	w.flow.Reset()
	start := w.now()
	w.sleep(SampleWindow)
	n := w.flow.Count()
	elapsed := w.now().Sub(start)
	if elapsed <= 0 {
		elapsed = SampleWindow
	}
	return float64(n) / elapsed.Seconds()
}

func (w *WellPump) PumpIsOn() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pumpOn
}

func (w *WellPump) EmptyTriggered() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.empty
}

// LastRate returns the most recent averaged pulse rate.
func (w *WellPump) LastRate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastRate
}

func (w *WellPump) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	var errs []error
	if err := w.pump.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := w.flow.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
