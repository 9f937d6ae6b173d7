package status

import (
	"encoding/json"
	"time"

	"github.com/srmq/IIRR/internal/cloud"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Ready         bool           `json:"ready"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	Moisture      *MoistureJSON  `json:"moisture,omitempty"`
	Irrigation    IrrigationJSON `json:"irrigation"`
	Water         WaterJSON      `json:"water"`
	Cloud         cloud.Status   `json:"cloud"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Network       *NetworkJSON   `json:"network,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

// MoistureJSON is the latest reading.
type MoistureJSON struct {
	Timestamp string  `json:"timestamp"`
	Surface   float64 `json:"surface"`
	Middle    float64 `json:"middle"`
	Deep      float64 `json:"deep"`
}

// IrrigationJSON is the engine state.
type IrrigationJSON struct {
	Irrigating    bool   `json:"irrigating"`
	Since         string `json:"since,omitempty"`
	LastEnd       string `json:"last_end,omitempty"`
	TodaySeconds  int64  `json:"today_seconds"`
	RemainingSecs int64  `json:"remaining_seconds"`
	ConfigValid   bool   `json:"config_valid"`
}

// WaterJSON is the pump and flow state.
type WaterJSON struct {
	PumpOn         bool    `json:"pump_on"`
	EmptyTriggered bool    `json:"empty_triggered"`
	FlowRate       float64 `json:"flow_pulses_per_sec"`
	Learn          string  `json:"learn_flow"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs        int64  `json:"tick_ms"`
	LogIntervalMs int64  `json:"log_interval_ms"`
	HeartbeatMs   int64  `json:"heartbeat_ms"`
	Broker        string `json:"broker"`
	HTTPAddr      string `json:"http_addr"`
	DataDir       string `json:"data_dir"`
	Timezone      string `json:"timezone"`
}

func rfc3339(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Ready:         snap.HaveReading,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     rfc3339(snap.StartTime),
		Timestamp:     rfc3339(snap.Now),
		Irrigation: IrrigationJSON{
			Irrigating:    snap.Irrigation.IsIrrigating,
			Since:         rfc3339(snap.Irrigation.IrrigSince),
			LastEnd:       rfc3339(snap.Irrigation.LastIrrigEnd),
			TodaySeconds:  snap.Irrigation.IrrigTodaySecs,
			RemainingSecs: snap.RemainingSecs,
			ConfigValid:   snap.ConfValid,
		},
		Water: WaterJSON{
			PumpOn:         snap.PumpOn,
			EmptyTriggered: snap.EmptyTriggered,
			FlowRate:       snap.FlowRate,
			Learn:          snap.Learn.String(),
		},
		Cloud: snap.Cloud,
		MQTT:  MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			TickMs:        snap.Config.TickMs,
			LogIntervalMs: snap.Config.LogIntervalMs,
			HeartbeatMs:   snap.Config.HeartbeatMs,
			Broker:        snap.Config.Broker,
			HTTPAddr:      snap.Config.HTTPAddr,
			DataDir:       snap.Config.DataDir,
			Timezone:      snap.Config.Timezone,
		},
	}
	if snap.HaveReading {
		inner.Moisture = &MoistureJSON{
			Timestamp: rfc3339(snap.Reading.Time),
			Surface:   snap.Reading.Surface,
			Middle:    snap.Reading.Middle,
			Deep:      snap.Reading.Deep,
		}
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
