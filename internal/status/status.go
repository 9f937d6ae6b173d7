// Package status provides a thread-safe status tracker for the irrigation
// daemon. The sensor task writes it; HTTP handlers and MQTT heartbeats read
// it.
package status

import (
	"sync"
	"time"

	"github.com/srmq/IIRR/internal/cloud"
	"github.com/srmq/IIRR/internal/irrigation"
	"github.com/srmq/IIRR/internal/sensor"
	"github.com/srmq/IIRR/internal/water"
)

// NetworkInfo contains network state reported by the host helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	TickMs        int64
	LogIntervalMs int64
	HeartbeatMs   int64
	Broker        string
	HTTPAddr      string
	DataDir       string
	Timezone      string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	StartTime time.Time
	Now       time.Time

	Reading     sensor.Reading
	HaveReading bool

	Irrigation    irrigation.State
	RemainingSecs int64
	ConfValid     bool

	PumpOn         bool
	EmptyTriggered bool
	FlowRate       float64
	Learn          water.LearnStatus

	Cloud         cloud.Status
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	now func() time.Time

	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker. now supplies Snapshot.Now; nil means
// time.Now.
func NewTracker(startTime time.Time, cfg Config, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		now: now,
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// UpdateReading stores the latest moisture reading.
func (t *Tracker) UpdateReading(r sensor.Reading) {
	t.mu.Lock()
	t.snap.Reading = r
	t.snap.HaveReading = true
	t.mu.Unlock()
}

// UpdateIrrigation stores the engine state.
func (t *Tracker) UpdateIrrigation(st irrigation.State, remaining int64, confValid bool) {
	t.mu.Lock()
	t.snap.Irrigation = st
	t.snap.RemainingSecs = remaining
	t.snap.ConfValid = confValid
	t.mu.Unlock()
}

// UpdateWater stores the pump state, fault latch and last flow rate.
func (t *Tracker) UpdateWater(pumpOn, empty bool, rate float64, learn water.LearnStatus) {
	t.mu.Lock()
	t.snap.PumpOn = pumpOn
	t.snap.EmptyTriggered = empty
	t.snap.FlowRate = rate
	t.snap.Learn = learn
	t.mu.Unlock()
}

// UpdateCloud stores the sync status.
func (t *Tracker) UpdateCloud(s cloud.Status) {
	t.mu.Lock()
	t.snap.Cloud = s
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
