// Package protocol defines the JSON wire format of the telephony media
// stream: the event messages the provider sends over the call's
// websocket and the messages we send back.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// CallerUnknown is the caller address used when the transport supplies
// none.
const CallerUnknown = "unknown"

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// Connected is the handshake message the provider sends first on a new
// stream connection.
type Connected struct {
	Event    string `json:"event"`
	Protocol string `json:"protocol,omitempty"`
	Version  string `json:"version,omitempty"`
}

// MediaFormat describes the line audio encoding announced at start.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// StartPayload carries the call identity delivered with a start event.
type StartPayload struct {
	AccountSid       string            `json:"accountSid,omitempty"`
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// Caller returns the caller address from the start parameters, or the
// CallerUnknown sentinel when the transport supplied none.
func (p StartPayload) Caller() string {
	if v := strings.TrimSpace(p.CustomParameters["from"]); v != "" {
		return v
	}
	return CallerUnknown
}

type Start struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSid      string       `json:"streamSid"`
	Start          StartPayload `json:"start"`
}

// MediaPayload is one inbound chunk of base64 line-format audio.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type Media struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSid      string       `json:"streamSid"`
	Media          MediaPayload `json:"media"`
}

// DecodePayload returns the raw line-format audio bytes.
func (m Media) DecodePayload() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return nil, badRequest("invalid media payload encoding", "media.payload")
	}
	return data, nil
}

type StopPayload struct {
	AccountSid string `json:"accountSid,omitempty"`
	CallSid    string `json:"callSid,omitempty"`
}

type Stop struct {
	Event          string      `json:"event"`
	SequenceNumber string      `json:"sequenceNumber,omitempty"`
	StreamSid      string      `json:"streamSid,omitempty"`
	Stop           StopPayload `json:"stop"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

type Mark struct {
	Event          string      `json:"event"`
	SequenceNumber string      `json:"sequenceNumber,omitempty"`
	StreamSid      string      `json:"streamSid,omitempty"`
	Mark           MarkPayload `json:"mark"`
}

// Decode parses one inbound transport message into its typed form.
// Unknown events and malformed frames return a DecodeError; callers
// log and drop those without tearing the stream down.
func Decode(data []byte) (any, error) {
	var envelope struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	event := strings.TrimSpace(envelope.Event)
	if event == "" {
		return nil, badRequest("missing event", "event")
	}

	switch event {
	case "connected":
		var msg Connected
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid connected frame", "")
		}
		return msg, nil
	case "start":
		var msg Start
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid start frame", "")
		}
		if strings.TrimSpace(msg.Start.StreamSid) == "" && strings.TrimSpace(msg.StreamSid) == "" {
			return nil, badRequest("start.streamSid is required", "start.streamSid")
		}
		if strings.TrimSpace(msg.Start.StreamSid) == "" {
			msg.Start.StreamSid = msg.StreamSid
		}
		if strings.TrimSpace(msg.Start.CallSid) == "" {
			return nil, badRequest("start.callSid is required", "start.callSid")
		}
		return msg, nil
	case "media":
		var msg Media
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid media frame", "")
		}
		if strings.TrimSpace(msg.Media.Payload) == "" {
			return nil, badRequest("media.payload is required", "media.payload")
		}
		return msg, nil
	case "stop":
		var msg Stop
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid stop frame", "")
		}
		return msg, nil
	case "mark":
		var msg Mark
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid mark frame", "")
		}
		return msg, nil
	default:
		return nil, unsupported("unsupported event", "event")
	}
}

// OutboundMedia carries one base64 audio frame back to the line.
type OutboundMedia struct {
	Event     string          `json:"event"`
	StreamSid string          `json:"streamSid"`
	Media     OutboundPayload `json:"media"`
}

type OutboundPayload struct {
	Payload string `json:"payload"`
}

// NewOutboundMedia wraps a line-format audio frame for sending.
func NewOutboundMedia(streamSid string, frame []byte) OutboundMedia {
	return OutboundMedia{
		Event:     "media",
		StreamSid: streamSid,
		Media:     OutboundPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
	}
}

// OutboundClear tells the provider to drop any buffered outbound audio
// immediately. Sent on barge-in.
type OutboundClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

// NewOutboundClear builds a clear message for the stream.
func NewOutboundClear(streamSid string) OutboundClear {
	return OutboundClear{Event: "clear", StreamSid: streamSid}
}

// OutboundMark asks the provider to echo a mark back once all audio
// queued before it has played.
type OutboundMark struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid"`
	Mark      MarkPayload `json:"mark"`
}

// NewOutboundMark builds a mark message for the stream.
func NewOutboundMark(streamSid, name string) OutboundMark {
	return OutboundMark{
		Event:     "mark",
		StreamSid: streamSid,
		Mark:      MarkPayload{Name: name},
	}
}
