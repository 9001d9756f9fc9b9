package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dialhaus/switchboard/pkg/gateway/config"
	"github.com/dialhaus/switchboard/pkg/gateway/lifecycle"
	"github.com/dialhaus/switchboard/pkg/gateway/media/protocol"
	"github.com/dialhaus/switchboard/pkg/gateway/media/session"
	"github.com/dialhaus/switchboard/pkg/gateway/media/sessions"
	"github.com/dialhaus/switchboard/pkg/gateway/monitor"
	"github.com/dialhaus/switchboard/pkg/gateway/mw"
)

// StreamHandler accepts one Twilio media-stream websocket per call. It
// upgrades the connection, builds a call session around it, and then owns
// the read side: every inbound frame is decoded and dispatched into the
// session's mailbox through the registry. The session owns the write side
// and its own teardown; the handler returns once both sides are done.
type StreamHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Registry
	Sink      monitor.Sink

	Recognizer  session.Recognizer
	Synthesizer session.Synthesizer
	Responder   session.Responder
}

func (h StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.Lifecycle.IsDraining() {
		writeErrorJSON(w, r, http.StatusServiceUnavailable, "gateway is draining")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return
	}
	defer conn.Close()

	if h.Config.WSReadLimit > 0 {
		conn.SetReadLimit(h.Config.WSReadLimit)
	}

	connID := uuid.NewString()
	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := h.logger().With("conn_id", connID, "request_id", reqID)

	s, err := session.New(session.Dependencies{
		Conn:         conn,
		Logger:       logger,
		Recognizer:   h.Recognizer,
		Synthesizer:  h.Synthesizer,
		Responder:    h.Responder,
		Sink:         h.Sink,
		RetainCaller: h.Sessions.RetainCaller,
		ConnID:       connID,
		Config: session.Config{
			EnergyThreshold:   h.Config.EnergyThreshold,
			FrameSize:         h.Config.FrameSize,
			MailboxSize:       h.Config.MailboxSize,
			OutboundQueueSize: h.Config.OutboundQueue,
			GenerationTimeout: h.Config.TurnTimeout,
			WriteTimeout:      h.Config.WSWriteTimeout,
			PingInterval:      h.Config.WSPingInterval,
			Greeting:          h.Config.Greeting,
			Apology:           h.Config.Apology,
		},
	})
	if err != nil {
		logger.Error("call session init failed", "error", err)
		return
	}

	unregister := h.Sessions.Register(connID, s)
	defer unregister()

	runDone := make(chan error, 1)
	go func() {
		runErr := s.Run()
		// The session is torn down; close the socket so the read loop
		// below unblocks even if the peer never hangs up.
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
		runDone <- runErr
	}()

	h.readLoop(conn, connID, logger, s)

	if err := <-runDone; err != nil {
		logger.Warn("call session ended with error", "error", err)
	}
}

// readLoop pumps inbound frames until the transport dies. A read error is
// the caller hanging up (or our own post-teardown close) and triggers the
// session's stop path; malformed frames are logged and dropped without
// killing the call.
func (h StreamHandler) readLoop(conn *websocket.Conn, connID string, logger *slog.Logger, s *session.CallSession) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("media stream read ended", "error", err)
			s.Close()
			return
		}
		if messageType != websocket.TextMessage {
			logger.Debug("ignoring non-text frame", "message_type", messageType)
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			logger.Warn("dropping undecodable frame", "error", err)
			continue
		}
		h.Sessions.Dispatch(connID, msg)
	}
}

func (h StreamHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
