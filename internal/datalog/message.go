package datalog

import (
	"fmt"
	"strings"
	"time"
)

// Severity of a message log entry.
type Severity int

const (
	SevDebug Severity = iota
	SevInfo
	SevWarn
	SevErr
)

// Code identifies a message log entry. The numeric values are part of the
// file format.
type Code int

const (
	CodeInconsistWaterStatus Code = iota // observed, expected
	CodeEmptyTriggered
	CodeIrrigStarted
	CodeIrrigStopped  // reason, seconds
	CodeSensorInvalid // depth, value
	CodeConfInvalid
	CodeSyncFailed    // stream, error
	CodeClockAdjusted // old, new
	CodeFlowLearned   // pulses per second
)

// Message is one message log line.
type Message struct {
	Time     time.Time
	Severity Severity
	Code     Code
	Fields   []string
}

// NewMessage formats each field with fmt.Sprint. Commas and newlines in
// fields are replaced so a message always stays one CSV line.
func NewMessage(t time.Time, sev Severity, code Code, fields ...any) Message {
	m := Message{Time: t, Severity: sev, Code: code}
	for _, f := range fields {
		m.Fields = append(m.Fields, sanitize(fmt.Sprint(f)))
	}
	return m
}

func sanitize(s string) string {
	return strings.NewReplacer(",", ";", "\n", " ", "\r", " ").Replace(s)
}

func (m Message) line(loc *time.Location) string {
	var b strings.Builder
	b.WriteString(FormatTimestamp(m.Time.In(loc)))
	fmt.Fprintf(&b, ",%d,%d", int(m.Severity), int(m.Code))
	for _, f := range m.Fields {
		b.WriteByte(',')
		b.WriteString(f)
	}
	b.WriteByte('\n')
	return b.String()
}
