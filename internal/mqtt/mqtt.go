// Package mqtt publishes irrigation events and daemon lifecycle messages.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "iirr"

// Topics are the two topics the daemon publishes to.
type Topics struct {
	Events string
	System string
}

// NewTopics derives the topics from prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{Events: prefix + "/events", System: prefix + "/system"}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends an irrigation event. Errors must not stop the daemon.
	Publish(event Event) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// EventType names an irrigation event.
type EventType string

const (
	EventIrrigationStarted EventType = "IRRIGATION_STARTED"
	EventIrrigationStopped EventType = "IRRIGATION_STOPPED"
	EventWaterEmpty        EventType = "WATER_EMPTY"
	EventFlowLearned       EventType = "FLOW_LEARNED"
	EventSync              EventType = "SYNC"
)

// Moisture is a reading carried by an event.
type Moisture struct {
	Surface float64 `json:"surface"`
	Middle  float64 `json:"middle"`
	Deep    float64 `json:"deep"`
}

// SyncSummary describes a finished cloud sync cycle.
type SyncSummary struct {
	ID       string `json:"id"`
	CaughtUp bool   `json:"caught_up"`
	Lines    int    `json:"lines"`
	Error    string `json:"error,omitempty"`
}

// Event is an irrigation event.
type Event struct {
	Timestamp time.Time
	Type      EventType
	// Reason is the stop reason of IRRIGATION_STOPPED.
	Reason  string
	Seconds int64
	// Moisture is the reading that triggered the event, if any.
	Moisture *Moisture
	// PulsesPerSec is the learned or measured flow rate.
	PulsesPerSec float64
	Sync         *SyncSummary
}

// SystemEvent represents a system lifecycle event (startup, shutdown,
// heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // pre-formatted JSON; FormatSystemPayload returns it as-is
	Retained   bool
}

// Payload is the event message envelope.
type Payload struct {
	IIRR EventPayload `json:"iirr"`
}

// EventPayload contains the event details.
type EventPayload struct {
	Timestamp    string       `json:"timestamp"`
	Event        string       `json:"event"`
	Reason       string       `json:"reason,omitempty"`
	Seconds      int64        `json:"seconds,omitempty"`
	Moisture     *Moisture    `json:"moisture,omitempty"`
	PulsesPerSec float64      `json:"pulses_per_sec,omitempty"`
	Sync         *SyncSummary `json:"sync,omitempty"`
}

// FormatPayload creates the JSON payload for an event.
func FormatPayload(event Event) ([]byte, error) {
	return json.Marshal(Payload{
		IIRR: EventPayload{
			Timestamp:    event.Timestamp.UTC().Format(time.RFC3339),
			Event:        string(event.Type),
			Reason:       event.Reason,
			Seconds:      event.Seconds,
			Moisture:     event.Moisture,
			PulsesPerSec: event.PulsesPerSec,
			Sync:         event.Sync,
		},
	})
}

// SystemPayload is the envelope of simple system events (LWT) that carry no
// status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
