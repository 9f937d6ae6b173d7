package irrigation

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/srmq/IIRR/internal/params"
	"github.com/srmq/IIRR/internal/sensor"
	"github.com/srmq/IIRR/internal/water"
)

// ConfigSource provides the current configuration and whether it is valid.
type ConfigSource interface {
	Config() (params.ConfigParams, bool)
}

// StateStore persists the durable part of the irrigation state.
type StateStore interface {
	Load() (Persisted, error)
	Save(Persisted) error
}

// Engine decides when to start and stop irrigation. It is not safe for
// concurrent use; the sensor task owns it.
type Engine struct {
	water water.WaterController
	conf  ConfigSource
	store StateStore
	opts  Options
	log   *zap.SugaredLogger

	state     State
	lastValid params.ConfigParams
	haveValid bool
	confBad   bool

	lastTick time.Time // wall time of the previous Tick
	runMono  time.Time // Monotonic reading at the start of the run
}

// NewEngine loads the persisted state and forces the pump off. A run that
// was in progress at shutdown is not resumed.
func NewEngine(wc water.WaterController, conf ConfigSource, store StateStore, opts Options, log *zap.SugaredLogger) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	e := &Engine{water: wc, conf: conf, store: store, opts: opts, log: log}

	p, err := store.Load()
	switch {
	case err == nil:
		e.state.LastIrrigEnd = p.LastIrrigEnd
		e.state.IrrigTodaySecs = p.IrrigTodaySecs
		log.Infow("irrigation: state loaded", "last_end", p.LastIrrigEnd, "today_secs", p.IrrigTodaySecs)
	case errors.Is(err, os.ErrNotExist):
		log.Infow("irrigation: no saved state")
	default:
		log.Warnw("irrigation: unable to read saved state", "error", err)
	}

	wc.StopWater()
	if c, ok := conf.Config(); ok {
		e.lastValid, e.haveValid = c, true
	}
	return e
}

// State returns a copy of the current state.
func (e *Engine) State() State {
	return e.state
}

// Tick evaluates one reading. The reading's timestamp is the current time.
func (e *Engine) Tick(r sensor.Reading) Decision {
	now := r.Time
	d := Decision{Time: now}

	for _, depth := range sensor.Depths {
		if !sensor.Valid(r.Value(depth)) {
			d.Invalid = append(d.Invalid, depth)
		}
	}

	conf, ok := e.conf.Config()
	if ok {
		e.lastValid, e.haveValid = conf, true
		e.confBad = false
	} else if !e.confBad {
		e.confBad = true
		d.ConfInvalid = true
		e.log.Warnw("irrigation: configuration invalid, starts disabled")
	}

	if e.state.IsIrrigating {
		e.rebase(now)
	}
	e.lastTick = now

	if e.state.IsIrrigating {
		if reason, stop := e.stopReason(now, r, &d); stop {
			e.stop(now, reason, &d)
		}
		return d
	}

	if e.water.PumpIsOn() {
		// A stop whose relay write failed leaves the pump running.
		e.log.Warnw("irrigation: pump on while idle, stopping")
		e.water.StopWater()
		d.StopRetried = true
	}

	if ok && e.canStart(now, r, conf, &d) {
		e.start(r, &d)
	}
	return d
}

// stopReason evaluates the stop predicates in priority order. Comparisons
// that involve an invalid reading are skipped.
func (e *Engine) stopReason(now time.Time, r sensor.Reading, d *Decision) (StopReason, bool) {
	c := e.lastValid
	s := e.state

	if now.Sub(s.IrrigSince) > time.Duration(c.IrrSlotSeconds)*time.Second {
		return StopSlot, true
	}
	surfaceOK, middleOK, deepOK := sensor.Valid(r.Surface), sensor.Valid(r.Middle), sensor.Valid(r.Deep)
	if surfaceOK && r.Surface >= c.SatLevel {
		return StopSurfaceSaturated, true
	}
	if middleOK && r.Middle >= c.SatLevel {
		return StopMiddleSaturated, true
	}
	if surfaceOK && middleOK && deepOK && sensor.Valid(s.DeepAtStart) {
		rise := r.Deep - s.DeepAtStart
		if rise > e.opts.DeepRiseFraction*(c.SatLevel-s.DeepAtStart) &&
			r.Surface > c.CritLevel && r.Middle > c.CritLevel {
			return StopDeepRise, true
		}
	}
	if e.remainingSecs(now, c) == 0 {
		return StopDailyBudget, true
	}

	d.FlowChecked = true
	d.Flow = e.water.CurrStatus()
	if d.Flow == water.Empty {
		return StopFlowFault, true
	}
	return "", false
}

func (e *Engine) canStart(now time.Time, r sensor.Reading, c params.ConfigParams, d *Decision) bool {
	if now.Year() < MinValidYear {
		return false
	}
	if c.InBlackout(now.In(e.opts.Location)) {
		return false
	}
	if float64(e.remainingSecs(now, c)) < e.opts.MinBudgetFraction*float64(c.IrrSlotSeconds) {
		return false
	}
	if !e.fulfillsMinInterval(now, c) {
		return false
	}
	if !sensor.Valid(r.Surface) || !sensor.Valid(r.Middle) {
		return false
	}
	dry := r.Surface <= c.CritLevel || r.Middle <= c.CritLevel
	if !dry || r.Surface >= c.SatLevel || r.Middle >= c.SatLevel {
		return false
	}

	// Sampling the flow sensor blocks for several seconds, so it runs last.
	d.FlowChecked = true
	d.Flow = e.water.CurrStatus()
	return d.Flow != water.Empty && d.Flow != water.NoConf
}

func (e *Engine) start(r sensor.Reading, d *Decision) {
	d.StartAttempted = true
	d.StartStatus = e.water.StartWater(false)
	if d.StartStatus != water.StartOK && d.StartStatus != water.StartNoAction {
		e.log.Warnw("irrigation: pump refused start", "status", d.StartStatus)
		return
	}
	e.state.IsIrrigating = true
	e.state.IrrigSince = r.Time
	if e.opts.Monotonic != nil {
		e.runMono = e.opts.Monotonic()
	}
	e.state.SurfaceAtStart = r.Surface
	e.state.MiddleAtStart = r.Middle
	e.state.DeepAtStart = r.Deep
	d.Started = true
	e.log.Infow("irrigation: started", "surface", r.Surface, "middle", r.Middle, "deep", r.Deep)
}

func (e *Engine) stop(now time.Time, reason StopReason, d *Decision) {
	e.water.StopWater()

	elapsed := now.Sub(e.state.IrrigSince)
	if elapsed < 0 {
		elapsed = 0
	}
	if e.state.LastIrrigEnd.IsZero() || !e.sameDay(e.state.LastIrrigEnd, now) {
		e.state.IrrigTodaySecs = 0
	}
	e.state.IrrigTodaySecs += int64(elapsed / time.Second)
	e.state.LastIrrigEnd = now

	d.Stopped = true
	d.Reason = reason
	d.Elapsed = elapsed
	d.Since = e.state.IrrigSince
	d.AtStart = sensor.Reading{
		Time:    e.state.IrrigSince,
		Surface: e.state.SurfaceAtStart,
		Middle:  e.state.MiddleAtStart,
		Deep:    e.state.DeepAtStart,
	}

	e.state.IsIrrigating = false
	e.state.IrrigSince = time.Time{}

	if err := e.store.Save(Persisted{LastIrrigEnd: now, IrrigTodaySecs: e.state.IrrigTodaySecs}); err != nil {
		d.SaveErr = fmt.Errorf("saving irrigation state: %w", err)
		e.log.Errorw("irrigation: state not saved", "error", err)
	}
	e.log.Infow("irrigation: stopped", "reason", reason, "seconds", int64(elapsed/time.Second), "today_secs", e.state.IrrigTodaySecs)
}

// rebase re-anchors IrrigSince so that now minus IrrigSince is the time the
// pump has actually run, whatever the wall clock did since the last tick.
func (e *Engine) rebase(now time.Time) {
	var elapsed time.Duration
	if e.opts.Monotonic != nil {
		elapsed = e.opts.Monotonic().Sub(e.runMono)
	} else {
		elapsed = e.lastTick.Sub(e.state.IrrigSince)
		if step := now.Sub(e.lastTick); step > 0 {
			elapsed += step
		}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	since := now.Add(-elapsed)
	if !since.Equal(e.state.IrrigSince) {
		e.log.Warnw("irrigation: wall clock jumped during run",
			"since", e.state.IrrigSince, "rebased_since", since)
		e.state.IrrigSince = since
	}
}

// RemainingSecs is the irrigation budget left today, using the last valid
// configuration. It is 0 when no valid configuration was ever seen.
func (e *Engine) RemainingSecs(now time.Time) int64 {
	if !e.haveValid {
		return 0
	}
	return e.remainingSecs(now, e.lastValid)
}

func (e *Engine) remainingSecs(now time.Time, c params.ConfigParams) int64 {
	remain := int64(c.IrrMaxTimeDaySeconds)
	s := e.state
	if s.IsIrrigating && !s.IrrigSince.IsZero() {
		run := int64(now.Sub(s.IrrigSince) / time.Second)
		if run < 0 {
			run = 0
		}
		if run >= remain {
			remain = 0
		} else {
			remain -= run
		}
	}
	if !s.LastIrrigEnd.IsZero() && e.sameDay(now, s.LastIrrigEnd) {
		if s.IrrigTodaySecs >= remain {
			remain = 0
		} else {
			remain -= s.IrrigTodaySecs
		}
	}
	return remain
}

func (e *Engine) fulfillsMinInterval(now time.Time, c params.ConfigParams) bool {
	last := e.state.LastIrrigEnd
	if last.IsZero() || !last.Before(now) {
		return true
	}
	return now.Sub(last) > time.Duration(c.IrrMIntervMins)*time.Minute
}

func (e *Engine) sameDay(a, b time.Time) bool {
	ay, am, ad := a.In(e.opts.Location).Date()
	by, bm, bd := b.In(e.opts.Location).Date()
	return ay == by && am == bm && ad == bd
}
