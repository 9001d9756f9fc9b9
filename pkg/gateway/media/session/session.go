// Package session implements the per-call orchestrator: it owns one
// telephone call's lifecycle, feeds inbound audio to recognition, drives
// generation from final transcripts, and streams synthesized audio back
// while handling barge-in.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dialhaus/switchboard/pkg/core/audio"
	"github.com/dialhaus/switchboard/pkg/core/chat"
	"github.com/dialhaus/switchboard/pkg/core/voice/stt"
	"github.com/dialhaus/switchboard/pkg/core/voice/tts"
	"github.com/dialhaus/switchboard/pkg/gateway/media/protocol"
	"github.com/dialhaus/switchboard/pkg/gateway/monitor"
)

const (
	maxCanceledUtteranceIDs   = 64
	outboundPriorityQueueSize = 8
)

var errPriorityQueueFull = errors.New("outbound priority queue full")

// RecognitionStream is one call's feed into the speech-recognition service.
type RecognitionStream interface {
	Write(pcm []byte) error
	Flush() error
	Results() <-chan stt.Result
	Close() error
}

// Recognizer opens one recognition stream per call.
type Recognizer interface {
	NewStream(ctx context.Context) (RecognitionStream, error)
}

// RecognizerAdapter binds the websocket recognition client to the session's
// Recognizer interface with a fixed stream configuration.
type RecognizerAdapter struct {
	Client *stt.Client
	Config stt.StreamConfig
}

func (a RecognizerAdapter) NewStream(ctx context.Context) (RecognitionStream, error) {
	if a.Client == nil {
		return nil, fmt.Errorf("recognition client is nil")
	}
	return a.Client.NewStream(ctx, a.Config)
}

// SynthesisStream is one fragment's synthesized audio feed.
type SynthesisStream interface {
	Frames() <-chan []byte
	Cancel()
	Err() error
}

// Synthesizer starts synthesis of one text fragment.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (SynthesisStream, error)
}

// SynthesizerAdapter binds the websocket synthesis client to the session's
// Synthesizer interface with fixed voice options.
type SynthesizerAdapter struct {
	Client  *tts.Client
	Options tts.SynthesizeOptions
}

func (a SynthesizerAdapter) Synthesize(ctx context.Context, text string) (SynthesisStream, error) {
	if a.Client == nil {
		return nil, fmt.Errorf("synthesis client is nil")
	}
	return a.Client.Synthesize(ctx, text, a.Options)
}

// TokenStream is a streamed generated response.
type TokenStream interface {
	Tokens() <-chan string
	Cancel()
	Err() error
}

// Responder produces a token stream for a finalized transcript and manages
// per-caller conversation context.
type Responder interface {
	Respond(ctx context.Context, callerID, transcript string) (TokenStream, error)
	ClearHistory(callerID string)
}

// ResponderAdapter binds a chat generator to the session's Responder
// interface.
type ResponderAdapter struct {
	Generator chat.Generator
}

func (a ResponderAdapter) Respond(ctx context.Context, callerID, transcript string) (TokenStream, error) {
	if a.Generator == nil {
		return nil, fmt.Errorf("generator is nil")
	}
	ts, err := a.Generator.Respond(ctx, callerID, transcript)
	if err != nil {
		return nil, err
	}
	return ts, nil
}

func (a ResponderAdapter) ClearHistory(callerID string) {
	if a.Generator != nil {
		a.Generator.ClearHistory(callerID)
	}
}

// Dependencies wires a call session to its transport and services.
type Dependencies struct {
	Conn        Conn
	Logger      *slog.Logger
	Recognizer  Recognizer
	Synthesizer Synthesizer
	Responder   Responder
	Sink        monitor.Sink
	// RetainCaller registers interest in a caller identity and returns a
	// release func reporting how many holders remain. The session clears
	// the caller's conversation history when it releases the last hold.
	// Nil means this session is always the last holder.
	RetainCaller func(callerID string) func() int
	ConnID       string
	Config       Config
}

// CallSession orchestrates one telephone call.
type CallSession struct {
	conn        Conn
	logger      *slog.Logger
	recognizer  Recognizer
	synthesizer Synthesizer
	responder   Responder
	sink        monitor.Sink
	retain      func(string) func() int
	connID      string
	cfg         Config

	ctx    context.Context
	cancel context.CancelFunc

	mailbox          chan any
	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame
	recognitionIn    chan []byte

	state              atomic.Int32
	canceledUtterances atomic.Value // canceledUtteranceState
	utteranceCounter   atomic.Int64
	droppedEvents      atomic.Int64
	droppedAudio       atomic.Int64

	// Written by the run loop when the start event arrives; read by turn
	// goroutines started afterwards.
	streamSID     string
	callSID       string
	caller        string
	releaseCaller func() int
	closeStatus   string
}

type canceledUtteranceState struct {
	set   map[string]struct{}
	order []string
}

// New validates dependencies and builds a session in the Created state.
// The caller must invoke Run exactly once; teardown happens when Run
// returns.
func New(deps Dependencies) (*CallSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Recognizer == nil {
		return nil, fmt.Errorf("recognizer is required")
	}
	if deps.Synthesizer == nil {
		return nil, fmt.Errorf("synthesizer is required")
	}
	if deps.Responder == nil {
		return nil, fmt.Errorf("responder is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sink == nil {
		deps.Sink = monitor.NopSink{}
	}
	cfg := deps.Config.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &CallSession{
		conn:             deps.Conn,
		logger:           deps.Logger,
		recognizer:       deps.Recognizer,
		synthesizer:      deps.Synthesizer,
		responder:        deps.Responder,
		sink:             deps.Sink,
		retain:           deps.RetainCaller,
		connID:           deps.ConnID,
		cfg:              cfg,
		ctx:              ctx,
		cancel:           cancel,
		mailbox:          make(chan any, cfg.MailboxSize),
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, cfg.OutboundQueueSize),
		recognitionIn:    make(chan []byte, cfg.RecognitionQueueSize),
		closeStatus:      monitor.StatusDisconnected,
	}
	s.state.Store(int32(StateCreated))
	s.canceledUtterances.Store(canceledUtteranceState{set: make(map[string]struct{}), order: nil})
	return s, nil
}

// State returns the session's current lifecycle state.
func (s *CallSession) State() State {
	return State(s.state.Load())
}

func (s *CallSession) setState(st State) {
	s.state.Store(int32(st))
}

func (s *CallSession) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// Deliver enqueues one decoded transport event. Media events are dropped
// when the mailbox is full so a stalled session can never block the
// transport read loop; control events wait for space.
func (s *CallSession) Deliver(msg any) bool {
	switch msg.(type) {
	case protocol.Media:
		select {
		case s.mailbox <- msg:
			return true
		default:
			if s.droppedEvents.Add(1) == 1 {
				s.logger.Warn("session mailbox full, dropping media", "conn_id", s.connID)
			}
			return false
		}
	default:
		select {
		case s.mailbox <- msg:
			return true
		case <-s.ctx.Done():
			return false
		}
	}
}

// Close requests teardown. Safe to call any number of times from any
// goroutine; the run loop performs the actual resource release.
func (s *CallSession) Close() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// Cancel implements the registry's session contract.
func (s *CallSession) Cancel() {
	s.Close()
}

// Run drives the call until the transport stops, the connection drops, or
// the session is canceled. It owns every per-call resource and releases
// them exactly once on return.
func (s *CallSession) Run() error {
	defer s.cancel()

	writerDone := make(chan error, 1)
	go func() {
		w := outboundWriter{
			ws:         s.conn,
			ctx:        s.ctx,
			cfg:        s.cfg,
			priority:   s.outboundPriority,
			normal:     s.outboundNormal,
			isCanceled: s.isUtteranceCanceled,
		}
		writerDone <- w.Run()
		close(writerDone)
	}()

	var (
		recognition RecognitionStream
		results     <-chan stt.Result
		activeTurn  *turnHandle
		turnWG      sync.WaitGroup
	)
	turnDone := make(chan turnResult, 4)

	defer func() {
		s.setState(StateClosing)
		if activeTurn != nil {
			activeTurn.cancel()
			activeTurn = nil
		}
		s.cancel()
		if recognition != nil {
			_ = recognition.Close()
		}
		turnWG.Wait()
		if s.releaseCaller != nil {
			if remaining := s.releaseCaller(); remaining == 0 && s.caller != "" {
				s.responder.ClearHistory(s.caller)
			}
		}
		if s.callSID != "" {
			s.sink.CallCompleted(s.callSID, s.closeStatus)
		}
		select {
		case <-writerDone:
		case <-time.After(s.cfg.WriteTimeout):
		}
		s.setState(StateClosed)
		s.logger.Info("call session closed",
			"conn_id", s.connID,
			"call_sid", s.callSID,
			"status", s.closeStatus,
			"dropped_events", s.droppedEvents.Load(),
			"dropped_audio", s.droppedAudio.Load())
	}()

	for {
		select {
		case <-s.ctx.Done():
			return nil

		case err := <-writerDone:
			// Writer failure means the transport is gone.
			if err != nil {
				s.logger.Warn("outbound writer failed", "conn_id", s.connID, "error", err)
			}
			return err

		case msg := <-s.mailbox:
			switch m := msg.(type) {
			case protocol.Connected:
				s.logger.Debug("transport connected", "conn_id", s.connID, "protocol", m.Protocol)

			case protocol.Start:
				if s.State() != StateCreated {
					s.logger.Warn("duplicate start event ignored", "conn_id", s.connID, "stream_sid", m.StreamSid)
					continue
				}
				s.streamSID = m.StreamSid
				s.callSID = m.Start.CallSid
				s.caller = m.Start.Caller()
				if s.caller == protocol.CallerUnknown {
					s.logger.Warn("start event carried no caller address", "call_sid", s.callSID)
				}
				if s.retain != nil {
					s.releaseCaller = s.retain(s.caller)
				} else {
					s.releaseCaller = func() int { return 0 }
				}
				s.sink.CallStarted(monitor.CallInfo{
					CallSID:   s.callSID,
					StreamSID: s.streamSID,
					Caller:    s.caller,
					StartedAt: time.Now(),
				})
				stream, err := s.recognizer.NewStream(s.ctx)
				if err != nil {
					s.closeStatus = monitor.StatusFailed
					s.logger.Error("cannot open recognition stream", "call_sid", s.callSID, "error", err)
					return fmt.Errorf("open recognition stream: %w", err)
				}
				recognition = stream
				results = stream.Results()
				go s.recognitionPump(stream)
				s.setState(StateListening)
				s.logger.Info("call started", "call_sid", s.callSID, "stream_sid", s.streamSID, "caller", s.caller)
				activeTurn = s.startTurn(turnRequest{script: s.cfg.Greeting}, turnDone, &turnWG)

			case protocol.Media:
				if !s.State().Streaming() {
					continue
				}
				payload, err := m.DecodePayload()
				if err != nil {
					s.logger.Warn("dropping media event with invalid payload", "call_sid", s.callSID, "error", err)
					continue
				}
				pcm := audio.DecodeMuLaw(payload)
				if s.State() == StateSpeaking {
					if energy := audio.RMSEnergy(pcm); energy > s.cfg.EnergyThreshold {
						s.interruptTurn(&activeTurn, "barge_in")
					}
				}
				select {
				case s.recognitionIn <- pcm:
				default:
					if s.droppedAudio.Add(1) == 1 {
						s.logger.Warn("recognition queue full, dropping audio", "call_sid", s.callSID)
					}
				}

			case protocol.Stop:
				s.logger.Info("stop event received", "call_sid", s.callSID)
				s.closeStatus = monitor.StatusCompleted
				return nil

			case protocol.Mark:
				s.logger.Debug("playback mark", "call_sid", s.callSID, "name", m.Mark.Name)
				s.sink.CallEvent(s.callSID, "mark", m.Mark.Name)

			default:
				s.logger.Debug("unhandled transport event", "conn_id", s.connID, "type", fmt.Sprintf("%T", msg))
			}

		case res, ok := <-results:
			if !ok {
				// Recognition died; the call continues without transcripts.
				results = nil
				s.logger.Info("recognition stream ended", "call_sid", s.callSID)
				continue
			}
			if !res.IsFinal {
				continue
			}
			transcript := strings.TrimSpace(res.Text)
			if transcript == "" || !s.State().Streaming() {
				continue
			}
			s.logger.Info("final transcript", "call_sid", s.callSID, "text", transcript, "confidence", res.Confidence)
			s.sink.CallEvent(s.callSID, "transcript", transcript)
			s.interruptTurn(&activeTurn, "superseded")
			activeTurn = s.startTurn(turnRequest{transcript: transcript}, turnDone, &turnWG)

		case tr := <-turnDone:
			if activeTurn != nil && activeTurn.id == tr.id {
				activeTurn = nil
			}
			if activeTurn == nil {
				s.transition(StateSpeaking, StateListening)
			}
			if tr.err != nil {
				s.logger.Warn("turn finished with error", "call_sid", s.callSID, "utterance", tr.id, "error", tr.err)
			} else {
				s.logger.Debug("turn finished", "call_sid", s.callSID, "utterance", tr.id, "frames", tr.frames)
			}
		}
	}
}

// interruptTurn cancels the in-flight response. If the agent was speaking,
// the transport is told to discard buffered audio and the state returns to
// Listening. Safe to call with no active turn.
func (s *CallSession) interruptTurn(active **turnHandle, reason string) {
	h := *active
	if h == nil {
		return
	}
	*active = nil
	s.cancelUtterance(h.id)
	h.cancel()
	if s.transition(StateSpeaking, StateListening) {
		if err := s.sendClear(); err != nil {
			s.logger.Warn("clear not delivered", "call_sid", s.callSID, "error", err)
		}
	}
	s.sink.CallEvent(s.callSID, reason, h.id)
	s.logger.Info("response interrupted", "call_sid", s.callSID, "utterance", h.id, "reason", reason)
}

// recognitionPump forwards queued caller audio to the recognition stream so
// the transport read path never waits on recognition I/O.
func (s *CallSession) recognitionPump(stream RecognitionStream) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case pcm := <-s.recognitionIn:
			if err := stream.Write(pcm); err != nil {
				s.logger.Warn("recognition write failed", "call_sid", s.callSID, "error", err)
				return
			}
		}
	}
}

func (s *CallSession) nextUtteranceID() string {
	return fmt.Sprintf("u_%d", s.utteranceCounter.Add(1))
}

func (s *CallSession) sendClear() error {
	payload, err := json.Marshal(protocol.NewOutboundClear(s.streamSID))
	if err != nil {
		return err
	}
	return s.enqueuePriority(outboundFrame{payload: payload})
}

func (s *CallSession) sendMark(ctx context.Context, utteranceID string) error {
	payload, err := json.Marshal(protocol.NewOutboundMark(s.streamSID, utteranceID))
	if err != nil {
		return err
	}
	return s.enqueueNormal(ctx, outboundFrame{utteranceID: utteranceID, payload: payload})
}

func (s *CallSession) sendMediaFrame(ctx context.Context, utteranceID string, frame []byte) error {
	payload, err := json.Marshal(protocol.NewOutboundMedia(s.streamSID, frame))
	if err != nil {
		return err
	}
	return s.enqueueNormal(ctx, outboundFrame{utteranceID: utteranceID, payload: payload})
}

// enqueueNormal queues a frame for the writer, waiting for space. Synthesis
// paces itself against the writer this way; ctx cancellation unblocks an
// interrupted turn.
func (s *CallSession) enqueueNormal(ctx context.Context, frame outboundFrame) error {
	if frame.utteranceID != "" && s.isUtteranceCanceled(frame.utteranceID) {
		return nil
	}
	select {
	case s.outboundNormal <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueuePriority queues a frame ahead of all media, evicting stale
// priority frames rather than waiting.
func (s *CallSession) enqueuePriority(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case s.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-s.outboundPriority:
		default:
		}
	}
	select {
	case s.outboundPriority <- frame:
		return nil
	default:
		return errPriorityQueueFull
	}
}

// cancelUtterance marks an utterance's frames as discarded so the writer
// and enqueue path skip anything still queued for it.
func (s *CallSession) cancelUtterance(utteranceID string) {
	utteranceID = strings.TrimSpace(utteranceID)
	if utteranceID == "" {
		return
	}

	raw := s.canceledUtterances.Load()
	state, ok := raw.(canceledUtteranceState)
	if !ok {
		state = canceledUtteranceState{set: make(map[string]struct{}), order: nil}
	}
	if _, exists := state.set[utteranceID]; exists {
		return
	}

	nextSet := make(map[string]struct{}, len(state.set)+1)
	for k := range state.set {
		nextSet[k] = struct{}{}
	}
	nextOrder := make([]string, 0, len(state.order)+1)
	nextOrder = append(nextOrder, state.order...)
	nextOrder = append(nextOrder, utteranceID)
	nextSet[utteranceID] = struct{}{}

	for len(nextOrder) > maxCanceledUtteranceIDs {
		evict := nextOrder[0]
		nextOrder = nextOrder[1:]
		delete(nextSet, evict)
	}

	s.canceledUtterances.Store(canceledUtteranceState{set: nextSet, order: nextOrder})
}

func (s *CallSession) isUtteranceCanceled(utteranceID string) bool {
	utteranceID = strings.TrimSpace(utteranceID)
	if utteranceID == "" {
		return false
	}
	raw := s.canceledUtterances.Load()
	state, ok := raw.(canceledUtteranceState)
	if !ok || state.set == nil {
		return false
	}
	_, exists := state.set[utteranceID]
	return exists
}
