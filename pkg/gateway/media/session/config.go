package session

import (
	"time"

	"github.com/dialhaus/switchboard/pkg/core/audio"
)

// State is the lifecycle position of a call session. Listening and Speaking
// are the two streaming sub-states: the call is live and the distinction is
// whether synthesized audio is currently going out on the line.
type State int32

const (
	// StateCreated means the transport connection exists but no start
	// event has been processed yet.
	StateCreated State = iota
	// StateListening means the call is streaming and the agent is quiet.
	StateListening
	// StateSpeaking means a synthesized response is being emitted.
	StateSpeaking
	// StateClosing means teardown has begun; inbound events are ignored.
	StateClosing
	// StateClosed means every per-call resource has been released.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateListening:
		return "LISTENING"
	case StateSpeaking:
		return "SPEAKING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Streaming reports whether the call is live (start processed, not closing).
func (s State) Streaming() bool {
	return s == StateListening || s == StateSpeaking
}

// Spoken when a call connects, before the caller says anything.
const DefaultGreeting = "Hello! I'm your AI assistant. How can I help you today?"

// Spoken in place of a response when generation fails or times out.
const DefaultApology = "I apologize, but I'm having trouble processing that."

// Config tunes one call session. The zero value is usable; New fills in
// every default.
type Config struct {
	// EnergyThreshold is the RMS amplitude (raw 16-bit sample units) above
	// which inbound audio during playback counts as the caller talking
	// over the agent.
	EnergyThreshold float64
	// FrameSize is the outbound line-format frame length in bytes.
	FrameSize int
	// MailboxSize bounds the inbound event queue fed by the transport.
	MailboxSize int
	// OutboundQueueSize bounds the normal outbound frame queue.
	OutboundQueueSize int
	// RecognitionQueueSize bounds the decoded-audio queue feeding the
	// recognition stream; overflow drops audio rather than blocking the
	// transport read path.
	RecognitionQueueSize int
	// GenerationTimeout caps the generation phase of a turn. Expiry is
	// treated as generator failure, not interruption.
	GenerationTimeout time.Duration
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	Greeting          string
	Apology           string
}

func (c Config) withDefaults() Config {
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = 500
	}
	if c.FrameSize <= 0 {
		c.FrameSize = audio.DefaultFrameSize
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = 256
	}
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = 128
	}
	if c.RecognitionQueueSize <= 0 {
		c.RecognitionQueueSize = 64
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = 45 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.Greeting == "" {
		c.Greeting = DefaultGreeting
	}
	if c.Apology == "" {
		c.Apology = DefaultApology
	}
	return c
}
