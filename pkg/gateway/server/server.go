// Package server assembles the voice gateway: configuration, the shared
// call registry and monitoring sinks, the speech and chat clients, and the
// HTTP surface that ties them together.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	twilio "github.com/twilio/twilio-go"

	"github.com/dialhaus/switchboard/pkg/core/chat"
	"github.com/dialhaus/switchboard/pkg/core/convo"
	"github.com/dialhaus/switchboard/pkg/core/voice/stt"
	"github.com/dialhaus/switchboard/pkg/core/voice/tts"
	"github.com/dialhaus/switchboard/pkg/gateway/auth"
	"github.com/dialhaus/switchboard/pkg/gateway/config"
	"github.com/dialhaus/switchboard/pkg/gateway/handlers"
	"github.com/dialhaus/switchboard/pkg/gateway/lifecycle"
	"github.com/dialhaus/switchboard/pkg/gateway/media/session"
	"github.com/dialhaus/switchboard/pkg/gateway/media/sessions"
	"github.com/dialhaus/switchboard/pkg/gateway/monitor"
	"github.com/dialhaus/switchboard/pkg/gateway/monitor/calllog"
	"github.com/dialhaus/switchboard/pkg/gateway/mw"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	life     *lifecycle.Lifecycle
	sessions *sessions.Registry
	recorder *monitor.Recorder
	callLog  *calllog.Store
	sink     monitor.Sink

	sttClient *stt.Client
	ttsClient *tts.Client
	generator chat.Generator
	twilioAPI handlers.CallCreator
}

func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		life:     &lifecycle.Lifecycle{},
		sessions: sessions.New(logger),
		recorder: monitor.NewRecorder(0),
	}

	s.sink = s.recorder
	if cfg.CallLogPath != "" {
		store, err := calllog.Open(cfg.CallLogPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open call log: %w", err)
		}
		s.callLog = store
		s.sink = monitor.MultiSink{s.recorder, store}
	}

	history := convo.NewStore(cfg.HistoryTurns)
	s.generator = chat.NewOpenAI(cfg.OpenAIKey, history, chat.OpenAIConfig{
		Model:        cfg.OpenAIModel,
		HistoryTurns: cfg.HistoryTurns,
	}, logger)

	s.sttClient = stt.NewClient(cfg.SpeechServiceURL, cfg.SpeechAPIKey)
	s.ttsClient = tts.NewClient(cfg.SpeechServiceURL, cfg.SpeechAPIKey)

	if cfg.OutboundEnabled() {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.TwilioAccountSID,
			Password: cfg.TwilioAuthToken,
		})
		s.twilioAPI = rest.Api
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Lifecycle: s.life, Sessions: s.sessions})
	s.mux.Handle("/voice", handlers.VoiceHandler{
		Config:   s.cfg,
		Logger:   s.logger,
		Verifier: auth.NewWebhookVerifier(s.cfg.TwilioAuthToken),
	})
	s.mux.Handle("/stream", handlers.StreamHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Lifecycle: s.life,
		Sessions:  s.sessions,
		Sink:      s.sink,
		Recognizer: session.RecognizerAdapter{
			Client: s.sttClient,
			Config: stt.StreamConfig{MinBatch: s.cfg.RecognitionBatch, Logger: s.logger},
		},
		Synthesizer: session.SynthesizerAdapter{
			Client:  s.ttsClient,
			Options: tts.SynthesizeOptions{Voice: s.cfg.SpeechVoice},
		},
		Responder: session.ResponderAdapter{Generator: s.generator},
	})
	s.mux.Handle("/calls", handlers.CallsHandler{
		Config:   s.cfg,
		Logger:   s.logger,
		Recorder: s.recorder,
		Twilio:   s.twilioAPI,
	})
	s.mux.Handle("/stats", handlers.StatsHandler{Recorder: s.recorder})
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetReady marks the instance as accepting traffic; readyz flips to 200.
func (s *Server) SetReady(ready bool) {
	s.life.SetReady(ready)
}

// BeginDrain stops new calls: readyz answers 503 and /stream refuses
// upgrades while established calls keep running.
func (s *Server) BeginDrain() {
	s.life.SetDraining(true)
}

// DrainSessions blocks until live calls finish or ctx expires; lingering
// sessions are then canceled. Reports whether the drain was clean.
func (s *Server) DrainSessions(ctx context.Context) bool {
	if s.sessions.Wait(ctx) {
		return true
	}
	canceled := s.sessions.CancelAll()
	s.logger.Warn("canceled lingering call sessions", "count", canceled)
	return false
}

// ActiveCalls reports how many call sessions are currently registered.
func (s *Server) ActiveCalls() int {
	return s.sessions.Count()
}

// Close releases resources held by the server, such as the call log.
func (s *Server) Close() error {
	if s.callLog != nil {
		return s.callLog.Close()
	}
	return nil
}
