// Package stt streams caller audio to the speech-recognition service
// over a websocket and yields transcript events.
package stt

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dialhaus/switchboard/pkg/core/audio"
)

const (
	// ServiceSampleRate is the PCM rate the recognition service expects.
	ServiceSampleRate = 16000

	// DefaultMinBatch is how much audio to accumulate before each
	// recognition request. Batching trades a little latency for far
	// fewer service round trips.
	DefaultMinBatch = time.Second

	resultQueueSize = 100
)

// Result is one transcript event from the recognition service.
type Result struct {
	Text       string
	IsFinal    bool
	Confidence float64
}

// StreamConfig shapes one recognition stream.
type StreamConfig struct {
	// Model selects the recognition model; empty uses the service default.
	Model string

	// Language is a BCP-47 tag. Default "en-US".
	Language string

	// MinBatch is the audio duration to accumulate before sending.
	// Also bounds how long trailing audio can sit unflushed.
	MinBatch time.Duration

	// Logger receives service-failure diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// Client dials recognition streams against one service endpoint.
type Client struct {
	baseURL string
	apiKey  string
	dialer  *websocket.Dialer
}

// NewClient creates a recognition client for the given ws(s) base URL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Stream is one live recognition session. Callers push 8 kHz line-rate
// PCM in with Write and drain transcript events from Results. The
// results channel closes when the service ends the session or fails;
// a failure is logged, never surfaced as an event.
type Stream struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	results chan Result
	done    chan struct{}
	closed  atomic.Bool
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc

	batchMu  sync.Mutex
	batch    []byte
	batchMin int
}

// NewStream opens a websocket recognition session.
func (c *Client) NewStream(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	u, err := url.Parse(c.baseURL + "/v1/recognize")
	if err != nil {
		return nil, fmt.Errorf("parse recognition URL: %w", err)
	}

	language := cfg.Language
	if language == "" {
		language = "en-US"
	}
	minBatch := cfg.MinBatch
	if minBatch <= 0 {
		minBatch = DefaultMinBatch
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	q := u.Query()
	if cfg.Model != "" {
		q.Set("model", cfg.Model)
	}
	q.Set("language", language)
	q.Set("encoding", "pcm_s16le")
	q.Set("sample_rate", strconv.Itoa(ServiceSampleRate))
	q.Set("interim_results", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	if c.apiKey != "" {
		headers.Set("Authorization", "Bearer "+c.apiKey)
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("recognition connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("recognition connect: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		conn:    conn,
		logger:  logger,
		results: make(chan Result, resultQueueSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		// MinBatch duration of 16-bit PCM at the service rate.
		batchMin: int(minBatch.Seconds() * ServiceSampleRate * 2),
	}
	if s.batchMin < 2 {
		s.batchMin = 2
	}

	go s.readLoop()
	go s.flushLoop(minBatch)

	return s, nil
}

// Write accepts 8 kHz 16-bit LE PCM from the line, resamples it to the
// service rate, and sends it once enough audio has accumulated.
func (s *Stream) Write(pcm []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("recognition stream closed")
	}
	if len(pcm) == 0 {
		return nil
	}

	s.batchMu.Lock()
	s.batch = append(s.batch, audio.Upsample8kTo16k(pcm)...)
	var out []byte
	if len(s.batch) >= s.batchMin {
		out = s.batch
		s.batch = nil
	}
	s.batchMu.Unlock()

	if out == nil {
		return nil
	}
	return s.send(out)
}

// Flush sends any buffered audio immediately and asks the service to
// finalize pending transcripts.
func (s *Stream) Flush() error {
	if s.closed.Load() {
		return fmt.Errorf("recognition stream closed")
	}

	s.batchMu.Lock()
	out := s.batch
	s.batch = nil
	s.batchMu.Unlock()

	if len(out) > 0 {
		if err := s.send(out); err != nil {
			return err
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte("finalize"))
}

// Results returns the transcript event channel. It closes when the
// session ends for any reason.
func (s *Stream) Results() <-chan Result {
	return s.results
}

// Done returns a channel closed when the session has fully ended.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Close tears the session down. Safe to call more than once.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	s.conn.WriteMessage(websocket.TextMessage, []byte("done"))
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return s.conn.Close()
}

func (s *Stream) send(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// flushLoop keeps short trailing audio from sitting in the batch
// buffer indefinitely when the caller goes quiet.
func (s *Stream) flushLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.batchMu.Lock()
			out := s.batch
			s.batch = nil
			s.batchMu.Unlock()
			if len(out) == 0 {
				continue
			}
			if err := s.send(out); err != nil {
				return
			}
		}
	}
}

func (s *Stream) readLoop() {
	defer func() {
		close(s.results)
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		var msg serviceResponse
		if err := s.conn.ReadJSON(&msg); err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("recognition stream terminated", "error", err)
			}
			return
		}

		switch msg.Type {
		case "transcript":
			result := Result{
				Text:       msg.Text,
				IsFinal:    msg.IsFinal,
				Confidence: msg.Confidence,
			}
			select {
			case s.results <- result:
			case <-s.ctx.Done():
				return
			}

		case "flush_done":
			continue

		case "done":
			return

		case "error":
			s.logger.Warn("recognition service error", "error", msg.Error)
			return
		}
	}
}

type serviceResponse struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error"`
}
