// Package monitor receives call lifecycle notifications from the media
// gateway and fans them out to observability backends. The gateway only
// pushes notifications; aggregation and storage live behind the Sink
// interface.
package monitor

import "time"

// Call completion statuses reported to CallCompleted.
const (
	StatusCompleted    = "completed"
	StatusDisconnected = "disconnected"
	StatusFailed       = "failed"
)

// CallInfo identifies a call at registration time.
type CallInfo struct {
	CallSID   string    `json:"call_sid"`
	StreamSID string    `json:"stream_sid"`
	Caller    string    `json:"caller"`
	StartedAt time.Time `json:"started_at"`
}

// Sink consumes call lifecycle notifications. Implementations must be safe
// for concurrent use; calls to a Sink must never block the media path for
// long.
type Sink interface {
	// CallStarted is invoked once when a call's start event is processed.
	CallStarted(info CallInfo)
	// CallEvent is invoked for notable in-call events (transcripts,
	// barge-ins, generation failures, playback marks).
	CallEvent(callSID, event, detail string)
	// CallCompleted is invoked exactly once per started call with a
	// terminal status.
	CallCompleted(callSID, status string)
}

// NopSink discards all notifications.
type NopSink struct{}

func (NopSink) CallStarted(CallInfo)             {}
func (NopSink) CallEvent(string, string, string) {}
func (NopSink) CallCompleted(string, string)     {}

// MultiSink fans every notification out to each member in order.
type MultiSink []Sink

func (m MultiSink) CallStarted(info CallInfo) {
	for _, s := range m {
		s.CallStarted(info)
	}
}

func (m MultiSink) CallEvent(callSID, event, detail string) {
	for _, s := range m {
		s.CallEvent(callSID, event, detail)
	}
}

func (m MultiSink) CallCompleted(callSID, status string) {
	for _, s := range m {
		s.CallCompleted(callSID, status)
	}
}
