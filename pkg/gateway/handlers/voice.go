package handlers

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/twilio/twilio-go/twiml"

	"github.com/dialhaus/switchboard/pkg/gateway/auth"
	"github.com/dialhaus/switchboard/pkg/gateway/config"
)

// VoiceHandler answers Twilio's voice webhook with TwiML that bridges the
// call onto the media-stream websocket. The caller's number and the call
// SID ride along as custom stream parameters so the session can attribute
// conversation history before any media arrives.
type VoiceHandler struct {
	Config   config.Config
	Logger   *slog.Logger
	Verifier *auth.WebhookVerifier
}

func (h VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorJSON(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.Verifier.Verify(r) {
		if h.Logger != nil {
			h.Logger.Warn("rejected webhook with bad signature", "path", r.URL.Path, "remote", r.RemoteAddr)
		}
		writeErrorJSON(w, r, http.StatusForbidden, "invalid webhook signature")
		return
	}

	caller := r.FormValue("From")
	called := r.FormValue("To")
	callSID := r.FormValue("CallSid")
	if h.Logger != nil {
		h.Logger.Info("incoming call", "call_sid", callSID, "from", caller, "to", called)
	}

	doc, err := twiml.Voice([]twiml.Element{
		twiml.VoiceSay{Message: "Connecting you to the AI assistant...", Voice: "alice"},
		twiml.VoiceConnect{InnerElements: []twiml.Element{
			twiml.VoiceStream{
				Url: h.streamURL(r),
				InnerElements: []twiml.Element{
					twiml.VoiceParameter{Name: "from", Value: caller},
					twiml.VoiceParameter{Name: "callSid", Value: callSID},
				},
			},
		}},
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("twiml generation failed", "call_sid", callSID, "error", err)
		}
		writeErrorJSON(w, r, http.StatusInternalServerError, "failed to build voice response")
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(doc))
}

// streamURL resolves the websocket URL Twilio should stream media to:
// the configured public URL when set, otherwise derived from the webhook's
// own host, which is already publicly reachable.
func (h VoiceHandler) streamURL(r *http.Request) string {
	if u := h.Config.PublicStreamURL; u != "" {
		return u
	}
	return "wss://" + r.Host + "/stream"
}

// publicHost returns the host Twilio reaches this deployment on, shared by
// the voice webhook and the outbound-call kick-off.
func publicHost(cfg config.Config, r *http.Request) string {
	if cfg.PublicStreamURL != "" {
		if parsed, err := url.Parse(cfg.PublicStreamURL); err == nil && parsed.Host != "" {
			return parsed.Host
		}
	}
	return r.Host
}
