// Package metrics holds the Prometheus collectors of the daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srmq/IIRR/internal/cloud"
	"github.com/srmq/IIRR/internal/irrigation"
	"github.com/srmq/IIRR/internal/sensor"
)

const namespace = "iirr"

// Metrics groups every collector. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	reg *prometheus.Registry

	pumpOn        prometheus.Gauge
	irrigating    prometheus.Gauge
	moisture      *prometheus.GaugeVec
	sensorInvalid *prometheus.CounterVec
	started       prometheus.Counter
	stopped       *prometheus.CounterVec
	emptyFaults   prometheus.Counter
	todaySeconds  prometheus.Gauge
	remainingSecs prometheus.Gauge
	flowRate      prometheus.Gauge
	syncLines     *prometheus.CounterVec
	syncErrors    *prometheus.CounterVec
	syncCaughtUp  *prometheus.GaugeVec
	clockAdjusted prometheus.Counter
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		pumpOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pump_on_binary",
			Help:      "Pump relay energized",
		}),
		irrigating: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "irrigating_binary",
			Help:      "Irrigation run in progress",
		}),
		moisture: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "soil_moisture_percent",
			Help:      "Latest soil moisture reading per depth",
		}, []string{"depth"}),
		sensorInvalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_invalid_total",
			Help:      "Moisture readings outside 0-100 per depth",
		}, []string{"depth"}),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "irrigations_started_total",
			Help:      "Irrigation runs started",
		}),
		stopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "irrigations_stopped_total",
			Help:      "Irrigation runs stopped, by reason",
		}, []string{"reason"}),
		emptyFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "water_empty_total",
			Help:      "Times the no-flow fault latched",
		}),
		todaySeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "irrigated_today_seconds",
			Help:      "Seconds irrigated on the day of the last stop",
		}),
		remainingSecs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_budget_remaining_seconds",
			Help:      "Irrigation time left today",
		}),
		flowRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flow_pulses_per_second",
			Help:      "Flow sensor rate from the last measurement",
		}),
		syncLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_lines_sent_total",
			Help:      "Log lines sent to the cloud per stream",
		}, []string{"stream"}),
		syncErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_errors_total",
			Help:      "Failed sync cycles or stream sends",
		}, []string{"stream"}),
		syncCaughtUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_caught_up_binary",
			Help:      "Stream fully acknowledged for today",
		}, []string{"stream"}),
		clockAdjusted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clock_adjustments_total",
			Help:      "Clock corrections from server time",
		}),
	}
	reg.MustRegister(m.pumpOn, m.irrigating, m.moisture, m.sensorInvalid, m.started, m.stopped,
		m.emptyFaults, m.todaySeconds, m.remainingSecs, m.flowRate,
		m.syncLines, m.syncErrors, m.syncCaughtUp, m.clockAdjusted)
	for _, r := range irrigation.StopReasons {
		m.stopped.WithLabelValues(string(r))
	}
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveReading records a moisture reading.
func (m *Metrics) ObserveReading(r sensor.Reading) {
	if m == nil {
		return
	}
	for _, d := range sensor.Depths {
		v := r.Value(d)
		if sensor.Valid(v) {
			m.moisture.WithLabelValues(d.String()).Set(v)
		} else {
			m.sensorInvalid.WithLabelValues(d.String()).Inc()
		}
	}
}

// ObserveDecision records the outcome of one engine tick.
func (m *Metrics) ObserveDecision(d irrigation.Decision, st irrigation.State, remaining int64) {
	if m == nil {
		return
	}
	if d.Started {
		m.started.Inc()
	}
	if d.Stopped {
		m.stopped.WithLabelValues(string(d.Reason)).Inc()
	}
	m.irrigating.Set(boolGauge(st.IsIrrigating))
	m.todaySeconds.Set(float64(st.IrrigTodaySecs))
	m.remainingSecs.Set(float64(remaining))
}

// ObservePump records the pump state and flow rate.
func (m *Metrics) ObservePump(on bool, rate float64) {
	if m == nil {
		return
	}
	m.pumpOn.Set(boolGauge(on))
	m.flowRate.Set(rate)
}

// EmptyFault counts a latched no-flow fault.
func (m *Metrics) EmptyFault() {
	if m == nil {
		return
	}
	m.emptyFaults.Inc()
}

// ObserveSync records one sync cycle.
func (m *Metrics) ObserveSync(r cloud.Result) {
	if m == nil {
		return
	}
	if r.Clock != 0 {
		m.clockAdjusted.Inc()
	}
	if r.Err != nil {
		m.syncErrors.WithLabelValues("cycle").Inc()
		return
	}
	for _, s := range r.Streams {
		name := s.Kind.String()
		m.syncLines.WithLabelValues(name).Add(float64(s.Sent))
		m.syncCaughtUp.WithLabelValues(name).Set(boolGauge(s.CaughtUp))
		if s.Err != nil {
			m.syncErrors.WithLabelValues(name).Inc()
		}
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
