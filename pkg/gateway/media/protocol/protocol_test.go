package protocol

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func TestDecode_Start(t *testing.T) {
	raw := []byte(`{
		"event":"start",
		"sequenceNumber":"1",
		"streamSid":"MZ1234",
		"start":{
			"accountSid":"AC0001",
			"streamSid":"MZ1234",
			"callSid":"CA5678",
			"tracks":["inbound"],
			"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1},
			"customParameters":{"from":"+15551234567","callSid":"CA5678"}
		}
	}`)

	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	start, ok := msg.(Start)
	if !ok {
		t.Fatalf("decoded type = %T, want Start", msg)
	}
	if start.Start.CallSid != "CA5678" {
		t.Fatalf("callSid=%q", start.Start.CallSid)
	}
	if start.Start.Caller() != "+15551234567" {
		t.Fatalf("caller=%q", start.Start.Caller())
	}
	if start.Start.MediaFormat.SampleRate != 8000 {
		t.Fatalf("sampleRate=%d", start.Start.MediaFormat.SampleRate)
	}
}

func TestDecode_StartWithoutCaller(t *testing.T) {
	raw := []byte(`{"event":"start","streamSid":"MZ1","start":{"streamSid":"MZ1","callSid":"CA1"}}`)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	start := msg.(Start)
	if start.Start.Caller() != CallerUnknown {
		t.Fatalf("caller=%q, want sentinel", start.Start.Caller())
	}
}

func TestDecode_StartStreamSidFallback(t *testing.T) {
	// Some senders only carry streamSid at the envelope level.
	raw := []byte(`{"event":"start","streamSid":"MZ9","start":{"callSid":"CA9"}}`)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.(Start).Start.StreamSid != "MZ9" {
		t.Fatalf("streamSid not copied from envelope")
	}
}

func TestDecode_StartMissingCallSid(t *testing.T) {
	raw := []byte(`{"event":"start","streamSid":"MZ1","start":{"streamSid":"MZ1"}}`)
	_, err := Decode(raw)
	if err == nil {
		t.Fatal("expected error")
	}
	decErr, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("err type = %T", err)
	}
	if decErr.Code != "bad_request" {
		t.Fatalf("code=%q", decErr.Code)
	}
}

func TestDecode_Media(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte{0xFF, 0x7F, 0x00})
	raw := []byte(`{"event":"media","streamSid":"MZ1","media":{"track":"inbound","payload":"` + payload + `"}}`)

	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	media := msg.(Media)
	data, err := media.DecodePayload()
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if len(data) != 3 || data[0] != 0xFF {
		t.Fatalf("payload=%v", data)
	}
}

func TestDecode_MediaBadPayload(t *testing.T) {
	raw := []byte(`{"event":"media","streamSid":"MZ1","media":{"payload":"%%%not-base64%%%"}}`)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if _, err := msg.(Media).DecodePayload(); err == nil {
		t.Fatal("expected payload decode error")
	}
}

func TestDecode_StopAndMark(t *testing.T) {
	msg, err := Decode([]byte(`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA1"}}`))
	if err != nil {
		t.Fatalf("Decode(stop) error = %v", err)
	}
	if _, ok := msg.(Stop); !ok {
		t.Fatalf("decoded type = %T, want Stop", msg)
	}

	msg, err = Decode([]byte(`{"event":"mark","streamSid":"MZ1","mark":{"name":"greeting-done"}}`))
	if err != nil {
		t.Fatalf("Decode(mark) error = %v", err)
	}
	if msg.(Mark).Mark.Name != "greeting-done" {
		t.Fatalf("mark name=%q", msg.(Mark).Mark.Name)
	}
}

func TestDecode_Connected(t *testing.T) {
	msg, err := Decode([]byte(`{"event":"connected","protocol":"Call","version":"1.0.0"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if _, ok := msg.(Connected); !ok {
		t.Fatalf("decoded type = %T, want Connected", msg)
	}
}

func TestDecode_Invalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		code string
	}{
		{name: "not json", raw: `{{{`, code: "bad_request"},
		{name: "missing event", raw: `{"streamSid":"MZ1"}`, code: "bad_request"},
		{name: "unknown event", raw: `{"event":"dtmf"}`, code: "unsupported"},
		{name: "media without payload", raw: `{"event":"media","streamSid":"MZ1","media":{}}`, code: "bad_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			if err == nil {
				t.Fatal("expected error")
			}
			decErr, ok := err.(*DecodeError)
			if !ok {
				t.Fatalf("err type = %T", err)
			}
			if decErr.Code != tc.code {
				t.Fatalf("code=%q, want %q", decErr.Code, tc.code)
			}
		})
	}
}

func TestOutboundMessages(t *testing.T) {
	media := NewOutboundMedia("MZ1", []byte{1, 2, 3})
	data, err := json.Marshal(media)
	if err != nil {
		t.Fatalf("marshal media: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"event":"media"`) || !strings.Contains(s, `"streamSid":"MZ1"`) {
		t.Fatalf("media json=%s", s)
	}
	if !strings.Contains(s, base64.StdEncoding.EncodeToString([]byte{1, 2, 3})) {
		t.Fatalf("payload missing: %s", s)
	}

	clearMsg := NewOutboundClear("MZ1")
	data, err = json.Marshal(clearMsg)
	if err != nil {
		t.Fatalf("marshal clear: %v", err)
	}
	if string(data) != `{"event":"clear","streamSid":"MZ1"}` {
		t.Fatalf("clear json=%s", data)
	}

	mark := NewOutboundMark("MZ1", "fragment-0")
	data, err = json.Marshal(mark)
	if err != nil {
		t.Fatalf("marshal mark: %v", err)
	}
	if !strings.Contains(string(data), `"name":"fragment-0"`) {
		t.Fatalf("mark json=%s", data)
	}
}
