package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/dialhaus/switchboard/pkg/gateway/config"
	"github.com/dialhaus/switchboard/pkg/gateway/monitor"
)

// CallCreator is the slice of the Twilio REST API the dial path needs;
// satisfied by twilio-go's Api service and by fakes in tests.
type CallCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// CallsHandler is the /calls resource: GET lists active and recent calls
// from the in-memory recorder, POST places an outbound call that dials the
// voice webhook and lands in the same media-stream pipeline as inbound
// traffic.
type CallsHandler struct {
	Config   config.Config
	Logger   *slog.Logger
	Recorder *monitor.Recorder
	Twilio   CallCreator
}

func (h CallsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.dial(w, r)
	default:
		writeErrorJSON(w, r, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h CallsHandler) list(w http.ResponseWriter, r *http.Request) {
	type callsResp struct {
		Active    []monitor.CallRecord `json:"active"`
		Completed []monitor.CallRecord `json:"completed"`
		Stats     monitor.Stats        `json:"stats"`
	}
	if h.Recorder == nil {
		writeJSON(w, http.StatusOK, callsResp{Active: []monitor.CallRecord{}, Completed: []monitor.CallRecord{}})
		return
	}
	writeJSON(w, http.StatusOK, callsResp{
		Active:    h.Recorder.Active(),
		Completed: h.Recorder.Completed(),
		Stats:     h.Recorder.Stats(),
	})
}

func (h CallsHandler) dial(w http.ResponseWriter, r *http.Request) {
	if h.Twilio == nil || !h.Config.OutboundEnabled() {
		writeErrorJSON(w, r, http.StatusServiceUnavailable, "outbound calling is not configured")
		return
	}

	var req struct {
		To string `json:"to"`
	}
	body := http.MaxBytesReader(w, r.Body, 4096)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeErrorJSON(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.To = strings.TrimSpace(req.To)
	if req.To == "" {
		writeErrorJSON(w, r, http.StatusBadRequest, "to is required")
		return
	}

	params := &api.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(h.Config.TwilioFromNumber)
	params.SetUrl("https://" + publicHost(h.Config, r) + "/voice")
	params.SetMethod(http.MethodPost)

	call, err := h.Twilio.CreateCall(params)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("outbound call failed", "to", req.To, "error", err)
		}
		writeErrorJSON(w, r, http.StatusBadGateway, "failed to create call")
		return
	}

	resp := struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}{}
	if call != nil {
		if call.Sid != nil {
			resp.SID = *call.Sid
		}
		if call.Status != nil {
			resp.Status = *call.Status
		}
	}
	if h.Logger != nil {
		h.Logger.Info("outbound call created", "call_sid", resp.SID, "to", req.To)
	}
	writeJSON(w, http.StatusCreated, resp)
}
