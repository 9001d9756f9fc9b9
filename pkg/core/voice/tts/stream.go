// Package tts streams sentences to the speech-synthesis service and
// yields linear-PCM audio as it is produced.
package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// ServiceSampleRate is the PCM rate the synthesis service produces.
	ServiceSampleRate = 16000

	// DefaultVoice is the synthesis voice used when none is configured.
	DefaultVoice = "English-US.Female-1"
)

// SynthesizeOptions shapes one synthesis request.
type SynthesizeOptions struct {
	Voice      string
	SampleRate int
}

// Client dials synthesis streams against one service endpoint.
type Client struct {
	baseURL string
	apiKey  string
	dialer  *websocket.Dialer
}

// NewClient creates a synthesis client for the given ws(s) base URL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Synthesis is one in-flight synthesis request. Frames yields 16-bit
// LE PCM chunks at the service rate until the request completes, fails,
// or is canceled. The frames channel is unbuffered so that after Cancel
// returns, at most one already-in-flight frame can still be received.
type Synthesis struct {
	conn     *websocket.Conn
	frames   chan []byte
	done     chan struct{}
	canceled atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc

	errMu sync.Mutex
	err   error
}

// Synthesize opens a websocket session, submits the text, and starts
// streaming audio back.
func (c *Client) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	u, err := url.Parse(c.baseURL + "/v1/synthesize")
	if err != nil {
		return nil, fmt.Errorf("parse synthesis URL: %w", err)
	}

	voice := opts.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = ServiceSampleRate
	}

	headers := http.Header{}
	if c.apiKey != "" {
		headers.Set("Authorization", "Bearer "+c.apiKey)
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("synthesis connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("synthesis connect: %w", err)
	}

	request := map[string]any{
		"type":        "synthesize",
		"text":        text,
		"voice":       voice,
		"sample_rate": sampleRate,
		"encoding":    "pcm_s16le",
	}
	if err := conn.WriteJSON(request); err != nil {
		conn.Close()
		return nil, fmt.Errorf("synthesis request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Synthesis{
		conn:   conn,
		frames: make(chan []byte),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}

	go s.readLoop()

	return s, nil
}

// Frames returns the audio channel. It closes when synthesis finishes,
// fails, or is canceled; check Err afterwards.
func (s *Synthesis) Frames() <-chan []byte {
	return s.frames
}

// Cancel stops the stream cooperatively and releases the connection.
// Safe to call more than once and after completion.
func (s *Synthesis) Cancel() {
	if s.canceled.Swap(true) {
		return
	}
	s.cancel()
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.conn.Close()
}

// Err reports why the stream ended early. It is nil after a clean
// finish or a local Cancel.
func (s *Synthesis) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Done returns a channel closed once the stream has fully wound down.
func (s *Synthesis) Done() <-chan struct{} {
	return s.done
}

func (s *Synthesis) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *Synthesis) readLoop() {
	defer func() {
		close(s.frames)
		close(s.done)
		s.conn.Close()
	}()

	for {
		var msg serviceResponse
		if err := s.conn.ReadJSON(&msg); err != nil {
			if !s.canceled.Load() {
				s.setErr(fmt.Errorf("synthesis stream: %w", err))
			}
			return
		}

		switch msg.Type {
		case "chunk":
			pcm, err := base64.StdEncoding.DecodeString(msg.AudioB64)
			if err != nil {
				s.setErr(fmt.Errorf("synthesis chunk decode: %w", err))
				return
			}
			if len(pcm) == 0 {
				continue
			}
			select {
			case s.frames <- pcm:
			case <-s.ctx.Done():
				return
			}

		case "done":
			return

		case "error":
			s.setErr(errors.New(msg.Error))
			return
		}
	}
}

type serviceResponse struct {
	Type     string `json:"type"`
	AudioB64 string `json:"audio_b64"`
	Error    string `json:"error"`
}
