// Package controller runs the sensor task: once per tick it services the
// flow-learn job, reads the probes, runs the irrigation engine and records
// the outcome in the logs, the run history and the status views.
package controller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/srmq/IIRR/internal/clock"
	"github.com/srmq/IIRR/internal/datalog"
	"github.com/srmq/IIRR/internal/history"
	"github.com/srmq/IIRR/internal/irrigation"
	"github.com/srmq/IIRR/internal/metrics"
	"github.com/srmq/IIRR/internal/mqtt"
	"github.com/srmq/IIRR/internal/sensor"
	"github.com/srmq/IIRR/internal/status"
	"github.com/srmq/IIRR/internal/water"
)

// Logs is the part of the log store the sensor task writes.
type Logs interface {
	AppendReading(r sensor.Reading, irrigating bool) error
	AppendMessage(m datalog.Message) error
}

// Recorder stores finished irrigation runs.
type Recorder interface {
	Record(ctx context.Context, r history.Run) (int64, error)
}

// Calibration exposes the learned flow rate.
type Calibration interface {
	NormalPulsesPerSec() float64
}

// Deps are the collaborators of a Controller. Recorder, Publisher, Tracker
// and Metrics may be nil.
type Deps struct {
	Water     water.WaterController
	Learn     *water.LearnJob
	Probes    sensor.Reader
	Engine    *irrigation.Engine
	Conf      irrigation.ConfigSource
	Calib     Calibration
	Logs      Logs
	Recorder  Recorder
	Publisher mqtt.Publisher
	Tracker   *status.Tracker
	Metrics   *metrics.Metrics
}

// Controller is the sensor task. It is not safe for concurrent use.
type Controller struct {
	d        Deps
	logEvery time.Duration
	log      *zap.SugaredLogger

	lastWrite time.Time
	wrote     bool
	emptySeen bool
	// invalid holds the depths already reported as SENSOR_INVALID.
	invalid [len(sensor.Depths)]bool
}

// New creates a Controller that appends a data-log line every logEvery.
func New(d Deps, logEvery time.Duration, log *zap.SugaredLogger) *Controller {
	return &Controller{d: d, logEvery: logEvery, log: log}
}

// Tick runs one sensor task iteration at now.
func (c *Controller) Tick(now time.Time) {
	c.runLearn(now)

	r := sensor.Sample(c.d.Probes, now)
	if c.d.Tracker != nil {
		c.d.Tracker.UpdateReading(r)
	}
	c.d.Metrics.ObserveReading(r)

	d := c.d.Engine.Tick(r)
	st := c.d.Engine.State()
	remaining := c.d.Engine.RemainingSecs(now)
	c.d.Metrics.ObserveDecision(d, st, remaining)

	c.reportInvalid(now, r, d.Invalid)
	if d.ConfInvalid {
		c.message(now, datalog.SevErr, datalog.CodeConfInvalid)
	}
	if d.StartAttempted && !d.Started {
		c.log.Warnw("controller: pump start refused", "status", d.StartStatus)
	}
	if d.Started {
		c.started(r)
	}
	if st.IsIrrigating && !d.Started && d.FlowChecked && d.Flow != water.Flowing && d.Flow != water.Empty {
		c.log.Warnw("controller: pump on without flow", "flow", d.Flow)
		c.message(now, datalog.SevWarn, datalog.CodeInconsistWaterStatus, d.Flow, water.Flowing)
	}
	if d.Stopped {
		c.stopped(d, r)
	}
	c.checkEmpty(now, r)

	if c.shouldWrite(now) {
		if err := c.d.Logs.AppendReading(r, st.IsIrrigating); err != nil {
			c.log.Errorw("controller: data log write failed", "error", err)
		} else {
			c.lastWrite, c.wrote = now, true
		}
	}

	rate := c.flowRate()
	c.d.Metrics.ObservePump(c.d.Water.PumpIsOn(), rate)
	if c.d.Tracker != nil {
		_, confOK := c.d.Conf.Config()
		c.d.Tracker.UpdateIrrigation(st, remaining, confOK)
		c.d.Tracker.UpdateWater(c.d.Water.PumpIsOn(), c.d.Water.EmptyTriggered(), rate, c.learnStatus())
	}
}

// reportInvalid writes SENSOR_INVALID when a depth turns invalid. A depth
// that reads valid again is reported anew on its next failure.
func (c *Controller) reportInvalid(now time.Time, r sensor.Reading, invalid []sensor.Depth) {
	var bad [len(sensor.Depths)]bool
	for _, depth := range invalid {
		bad[depth] = true
		if !c.invalid[depth] {
			c.message(now, datalog.SevWarn, datalog.CodeSensorInvalid, depth, r.Value(depth))
		}
	}
	c.invalid = bad
}

func (c *Controller) runLearn(now time.Time) {
	if c.d.Learn == nil || !c.d.Learn.RunPending(c.d.Water) {
		return
	}
	if c.d.Learn.Status() != water.LearnDone {
		c.log.Warnw("controller: flow calibration failed")
		return
	}
	pulses := c.d.Calib.NormalPulsesPerSec()
	c.log.Infow("controller: flow calibrated", "pulses_per_sec", pulses)
	c.message(now, datalog.SevInfo, datalog.CodeFlowLearned, pulses)
	c.publish(mqtt.Event{Timestamp: now, Type: mqtt.EventFlowLearned, PulsesPerSec: pulses})
}

func (c *Controller) started(r sensor.Reading) {
	c.message(r.Time, datalog.SevInfo, datalog.CodeIrrigStarted)
	c.publish(mqtt.Event{
		Timestamp: r.Time,
		Type:      mqtt.EventIrrigationStarted,
		Moisture:  &mqtt.Moisture{Surface: r.Surface, Middle: r.Middle, Deep: r.Deep},
	})
}

func (c *Controller) stopped(d irrigation.Decision, r sensor.Reading) {
	secs := int64(d.Elapsed / time.Second)
	c.message(r.Time, datalog.SevInfo, datalog.CodeIrrigStopped, d.Reason, secs)
	c.publish(mqtt.Event{
		Timestamp: r.Time,
		Type:      mqtt.EventIrrigationStopped,
		Reason:    string(d.Reason),
		Seconds:   secs,
		Moisture:  &mqtt.Moisture{Surface: r.Surface, Middle: r.Middle, Deep: r.Deep},
	})

	if c.d.Recorder == nil {
		return
	}
	run := history.Run{
		Start:        d.Since,
		End:          d.Time,
		Seconds:      secs,
		Reason:       string(d.Reason),
		SurfaceStart: d.AtStart.Surface,
		MiddleStart:  d.AtStart.Middle,
		DeepStart:    d.AtStart.Deep,
		SurfaceEnd:   r.Surface,
		MiddleEnd:    r.Middle,
		DeepEnd:      r.Deep,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.d.Recorder.Record(ctx, run); err != nil {
		c.log.Errorw("controller: history write failed", "error", err)
	}
}

// checkEmpty reports the empty latch once per occurrence.
func (c *Controller) checkEmpty(now time.Time, r sensor.Reading) {
	empty := c.d.Water.EmptyTriggered()
	if empty && !c.emptySeen {
		c.log.Errorw("controller: water empty, pump latched off")
		c.d.Metrics.EmptyFault()
		c.message(now, datalog.SevErr, datalog.CodeEmptyTriggered)
		c.publish(mqtt.Event{
			Timestamp: now,
			Type:      mqtt.EventWaterEmpty,
			Moisture:  &mqtt.Moisture{Surface: r.Surface, Middle: r.Middle, Deep: r.Deep},
		})
	}
	c.emptySeen = empty
}

func (c *Controller) shouldWrite(now time.Time) bool {
	if !clock.Valid(now) {
		return false
	}
	return !c.wrote || now.Sub(c.lastWrite) >= c.logEvery || now.Before(c.lastWrite)
}

// message appends to the message log. Entries are dropped while the clock
// is invalid since their file date would be meaningless.
func (c *Controller) message(now time.Time, sev datalog.Severity, code datalog.Code, fields ...any) {
	if !clock.Valid(now) {
		c.log.Debugw("controller: message not logged, clock invalid", "code", code)
		return
	}
	if err := c.d.Logs.AppendMessage(datalog.NewMessage(now, sev, code, fields...)); err != nil {
		c.log.Errorw("controller: message log write failed", "code", code, "error", err)
	}
}

func (c *Controller) publish(e mqtt.Event) {
	if c.d.Publisher == nil {
		return
	}
	if err := c.d.Publisher.Publish(e); err != nil {
		c.log.Warnw("controller: publish failed", "event", e.Type, "error", err)
	}
}

func (c *Controller) learnStatus() water.LearnStatus {
	if c.d.Learn == nil {
		return water.LearnNotRequested
	}
	return c.d.Learn.Status()
}

func (c *Controller) flowRate() float64 {
	if lr, ok := c.d.Water.(interface{ LastRate() float64 }); ok {
		return lr.LastRate()
	}
	return 0
}
