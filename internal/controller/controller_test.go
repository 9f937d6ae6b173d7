package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/srmq/IIRR/internal/datalog"
	"github.com/srmq/IIRR/internal/history"
	"github.com/srmq/IIRR/internal/irrigation"
	"github.com/srmq/IIRR/internal/metrics"
	"github.com/srmq/IIRR/internal/mqtt"
	"github.com/srmq/IIRR/internal/params"
	"github.com/srmq/IIRR/internal/sensor"
	"github.com/srmq/IIRR/internal/status"
	"github.com/srmq/IIRR/internal/water"
)

type memLogs struct {
	mu       sync.Mutex
	readings []sensor.Reading
	flags    []bool
	messages []datalog.Message
	err      error
}

func (m *memLogs) AppendReading(r sensor.Reading, irrigating bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.readings = append(m.readings, r)
	m.flags = append(m.flags, irrigating)
	return nil
}

func (m *memLogs) AppendMessage(msg datalog.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *memLogs) codes() []datalog.Code {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []datalog.Code
	for _, msg := range m.messages {
		out = append(out, msg.Code)
	}
	return out
}

func (m *memLogs) count(code datalog.Code) int {
	n := 0
	for _, c := range m.codes() {
		if c == code {
			n++
		}
	}
	return n
}

type memRecorder struct {
	runs []history.Run
	err  error
}

func (m *memRecorder) Record(_ context.Context, r history.Run) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.runs = append(m.runs, r)
	return int64(len(m.runs)), nil
}

type staticConf struct {
	c  params.ConfigParams
	ok bool
}

func (s *staticConf) Config() (params.ConfigParams, bool) { return s.c, s.ok }

type calib float64

func (c calib) NormalPulsesPerSec() float64 { return float64(c) }

type rig struct {
	ctrl    *Controller
	water   *water.Fake
	probes  *sensor.FakeReader
	learn   *water.LearnJob
	logs    *memLogs
	rec     *memRecorder
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
}

var base = time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

func newRig(t *testing.T) *rig {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	conf := &staticConf{c: params.ConfigParams{
		IrrSlotSeconds:       600,
		IrrMIntervMins:       60,
		IrrMaxTimeDaySeconds: 3600,
		CritLevel:            30,
		SatLevel:             70,
		NormalPulsesPerSec:   10,
	}, ok: true}
	wc := water.NewFake()
	wc.Status = water.Stop
	engine := irrigation.NewEngine(wc, conf, &irrigation.MemStore{}, irrigation.DefaultOptions(), log)

	r := &rig{
		water:   wc,
		probes:  sensor.NewFakeReader(50, 50, 50),
		learn:   &water.LearnJob{},
		logs:    &memLogs{},
		rec:     &memRecorder{},
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(base, status.Config{}, nil),
	}
	r.ctrl = New(Deps{
		Water:     wc,
		Learn:     r.learn,
		Probes:    r.probes,
		Engine:    engine,
		Conf:      conf,
		Calib:     calib(12.5),
		Logs:      r.logs,
		Recorder:  r.rec,
		Publisher: r.pub,
		Tracker:   r.tracker,
		Metrics:   metrics.New(),
	}, time.Minute, log)
	return r
}

func eventTypes(pub *mqtt.FakePublisher) []mqtt.EventType {
	var out []mqtt.EventType
	for _, e := range pub.Events() {
		out = append(out, e.Type)
	}
	return out
}

func TestIrrigationRunIsRecorded(t *testing.T) {
	r := newRig(t)

	r.probes.Set(20, 40, 10)
	r.ctrl.Tick(base)
	if !r.water.PumpIsOn() {
		t.Fatal("pump should be on after a dry reading")
	}
	r.water.Status = water.Flowing

	r.probes.Set(75, 50, 20)
	r.ctrl.Tick(base.Add(4 * time.Minute))
	if r.water.PumpIsOn() {
		t.Fatal("pump should be off after surface saturation")
	}

	if r.logs.count(datalog.CodeIrrigStarted) != 1 || r.logs.count(datalog.CodeIrrigStopped) != 1 {
		t.Errorf("message codes: got %v", r.logs.codes())
	}
	got := eventTypes(r.pub)
	if len(got) != 2 || got[0] != mqtt.EventIrrigationStarted || got[1] != mqtt.EventIrrigationStopped {
		t.Errorf("events: got %v", got)
	}
	stop := r.pub.Events()[1]
	if stop.Reason != string(irrigation.StopSurfaceSaturated) || stop.Seconds != 240 {
		t.Errorf("stop event: got reason %q seconds %d", stop.Reason, stop.Seconds)
	}

	if len(r.rec.runs) != 1 {
		t.Fatalf("history runs: got %d, want 1", len(r.rec.runs))
	}
	run := r.rec.runs[0]
	if !run.Start.Equal(base) || !run.End.Equal(base.Add(4*time.Minute)) || run.Seconds != 240 {
		t.Errorf("run times: got %+v", run)
	}
	if run.SurfaceStart != 20 || run.SurfaceEnd != 75 || run.DeepStart != 10 || run.DeepEnd != 20 {
		t.Errorf("run moisture: got %+v", run)
	}

	snap := r.tracker.Snapshot()
	if snap.Irrigation.IsIrrigating || snap.Irrigation.IrrigTodaySecs != 240 {
		t.Errorf("tracker irrigation: got %+v", snap.Irrigation)
	}
	if snap.RemainingSecs != 3600-240 {
		t.Errorf("tracker remaining: got %d, want %d", snap.RemainingSecs, 3600-240)
	}
}

func TestHistoryFailureDoesNotStopTask(t *testing.T) {
	r := newRig(t)
	r.rec.err = errors.New("disk full")

	r.probes.Set(20, 40, 10)
	r.ctrl.Tick(base)
	r.water.Status = water.Flowing
	r.probes.Set(75, 50, 20)
	r.ctrl.Tick(base.Add(time.Minute))

	if r.water.PumpIsOn() {
		t.Error("pump should be off even when the history write fails")
	}
	if r.logs.count(datalog.CodeIrrigStopped) != 1 {
		t.Errorf("stop message: got codes %v", r.logs.codes())
	}
}

func TestDataLogWriteInterval(t *testing.T) {
	r := newRig(t)

	ticks := []struct {
		offset time.Duration
		write  bool
	}{
		{0, true},
		{10 * time.Second, false},
		{50 * time.Second, false},
		{60 * time.Second, true},
		{90 * time.Second, false},
		{125 * time.Second, true},
	}
	want := 0
	for _, tk := range ticks {
		r.ctrl.Tick(base.Add(tk.offset))
		if tk.write {
			want++
		}
		if got := len(r.logs.readings); got != want {
			t.Errorf("after tick at +%v: got %d lines, want %d", tk.offset, got, want)
		}
	}
}

func TestDataLogRetriesAfterWriteError(t *testing.T) {
	r := newRig(t)
	r.logs.err = errors.New("read-only filesystem")
	r.ctrl.Tick(base)

	r.logs.err = nil
	r.ctrl.Tick(base.Add(10 * time.Second))
	if len(r.logs.readings) != 1 {
		t.Errorf("lines: got %d, want 1 after the failed write", len(r.logs.readings))
	}
}

func TestDataLogFlagsIrrigation(t *testing.T) {
	r := newRig(t)
	r.probes.Set(20, 40, 10)
	r.ctrl.Tick(base)
	if len(r.logs.flags) != 1 || !r.logs.flags[0] {
		t.Errorf("irrigating flag: got %v, want [true]", r.logs.flags)
	}
}

func TestInvalidClockSkipsLogs(t *testing.T) {
	r := newRig(t)
	r.probes.Set(sensor.OpenCircuit, 50, 50)
	r.ctrl.Tick(time.Date(1970, 1, 1, 0, 0, 10, 0, time.UTC))

	if len(r.logs.readings) != 0 {
		t.Errorf("data lines with invalid clock: got %d, want 0", len(r.logs.readings))
	}
	if len(r.logs.messages) != 0 {
		t.Errorf("messages with invalid clock: got %v, want none", r.logs.codes())
	}
	if !r.tracker.Snapshot().HaveReading {
		t.Error("tracker should still receive the reading")
	}
}

func TestSensorInvalidMessages(t *testing.T) {
	r := newRig(t)
	r.probes.Set(50, sensor.ShortCircuit, sensor.ReadError)
	r.ctrl.Tick(base)

	if n := r.logs.count(datalog.CodeSensorInvalid); n != 2 {
		t.Fatalf("SENSOR_INVALID messages: got %d, want 2", n)
	}
	first := r.logs.messages[0]
	if first.Severity != datalog.SevWarn || len(first.Fields) != 2 || first.Fields[0] != "middle" || first.Fields[1] != "-2" {
		t.Errorf("first message: got %+v", first)
	}
}

func TestSensorInvalidReportedOncePerFailure(t *testing.T) {
	r := newRig(t)
	r.probes.Set(50, sensor.ShortCircuit, 45)
	for i := 0; i < 5; i++ {
		r.ctrl.Tick(base.Add(time.Duration(i) * 10 * time.Second))
	}
	if n := r.logs.count(datalog.CodeSensorInvalid); n != 1 {
		t.Fatalf("SENSOR_INVALID while the probe stays shorted: got %d, want 1", n)
	}

	// A second probe failing is reported on its own.
	r.probes.Set(sensor.OpenCircuit, sensor.ShortCircuit, 45)
	r.ctrl.Tick(base.Add(time.Minute))
	if n := r.logs.count(datalog.CodeSensorInvalid); n != 2 {
		t.Fatalf("SENSOR_INVALID after surface failed: got %d, want 2", n)
	}

	// Recovery and a new failure is a new occurrence.
	r.probes.Set(50, 40, 45)
	r.ctrl.Tick(base.Add(2 * time.Minute))
	r.probes.Set(50, sensor.ShortCircuit, 45)
	r.ctrl.Tick(base.Add(3 * time.Minute))
	if n := r.logs.count(datalog.CodeSensorInvalid); n != 3 {
		t.Errorf("SENSOR_INVALID after recovery and new failure: got %d, want 3", n)
	}
}

func TestEmptyFaultReportedOnce(t *testing.T) {
	r := newRig(t)
	r.probes.Set(20, 40, 10)
	r.ctrl.Tick(base)
	r.water.Status = water.Empty

	r.ctrl.Tick(base.Add(time.Minute))
	r.ctrl.Tick(base.Add(2 * time.Minute))

	if n := r.logs.count(datalog.CodeEmptyTriggered); n != 1 {
		t.Errorf("EMPTY_TRIGGERED messages: got %d, want 1", n)
	}
	empties := 0
	for _, e := range eventTypes(r.pub) {
		if e == mqtt.EventWaterEmpty {
			empties++
		}
	}
	if empties != 1 {
		t.Errorf("WATER_EMPTY events: got %d, want 1", empties)
	}
	if !r.tracker.Snapshot().EmptyTriggered {
		t.Error("tracker should show the empty latch")
	}
	if len(r.rec.runs) != 1 || r.rec.runs[0].Reason != string(irrigation.StopFlowFault) {
		t.Errorf("history: got %+v, want one flow_fault run", r.rec.runs)
	}

	r.water.ResetEmpty()
	r.ctrl.Tick(base.Add(3 * time.Minute))
	if r.tracker.Snapshot().EmptyTriggered {
		t.Error("tracker should clear after ResetEmpty")
	}
}

func TestPumpWithoutFlowIsInconsistent(t *testing.T) {
	r := newRig(t)
	r.probes.Set(20, 40, 10)
	r.ctrl.Tick(base)

	// Pump reported on, but the flow sensor sees nothing.
	r.water.Status = water.Stop
	r.ctrl.Tick(base.Add(time.Minute))

	if n := r.logs.count(datalog.CodeInconsistWaterStatus); n != 1 {
		t.Fatalf("INCONSIST messages: got %d, want 1 (codes %v)", n, r.logs.codes())
	}
	for _, m := range r.logs.messages {
		if m.Code == datalog.CodeInconsistWaterStatus {
			if m.Fields[0] != "STOP" || m.Fields[1] != "FLOWING" {
				t.Errorf("fields: got %v, want [STOP FLOWING]", m.Fields)
			}
		}
	}
}

func TestLearnJobRunsOnTick(t *testing.T) {
	r := newRig(t)
	if !r.learn.Request() {
		t.Fatal("Request: got false")
	}
	r.ctrl.Tick(base)

	if r.water.Configs != 1 {
		t.Errorf("ConfigureFlow calls: got %d, want 1", r.water.Configs)
	}
	if r.learn.Status() != water.LearnDone {
		t.Errorf("learn status: got %v, want DONE", r.learn.Status())
	}
	if r.logs.count(datalog.CodeFlowLearned) != 1 {
		t.Errorf("FLOW_LEARNED messages: got codes %v", r.logs.codes())
	}
	ev := r.pub.Events()
	if len(ev) != 1 || ev[0].Type != mqtt.EventFlowLearned || ev[0].PulsesPerSec != 12.5 {
		t.Errorf("events: got %+v", ev)
	}
	if r.tracker.Snapshot().Learn != water.LearnDone {
		t.Error("tracker learn status should be DONE")
	}
}

func TestLearnJobFailure(t *testing.T) {
	r := newRig(t)
	r.water.ConfigureOK = false
	r.learn.Request()
	r.ctrl.Tick(base)

	if r.learn.Status() != water.LearnError {
		t.Errorf("learn status: got %v, want ERROR", r.learn.Status())
	}
	if r.logs.count(datalog.CodeFlowLearned) != 0 || len(r.pub.Events()) != 0 {
		t.Error("a failed calibration must not be reported as learned")
	}
}

func TestConfInvalidLoggedOnce(t *testing.T) {
	r := newRig(t)
	r.ctrl.d.Conf.(*staticConf).ok = false

	r.ctrl.Tick(base)
	r.ctrl.Tick(base.Add(time.Minute))

	if n := r.logs.count(datalog.CodeConfInvalid); n != 1 {
		t.Errorf("CONF_INVALID messages: got %d, want 1", n)
	}
	if r.tracker.Snapshot().ConfValid {
		t.Error("tracker ConfValid: got true, want false")
	}
}
