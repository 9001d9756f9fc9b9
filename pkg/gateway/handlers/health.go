package handlers

import (
	"net/http"

	"github.com/dialhaus/switchboard/pkg/gateway/lifecycle"
	"github.com/dialhaus/switchboard/pkg/gateway/media/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether this instance should receive new calls.
// A draining or not-yet-serving process answers 503 so the load balancer
// routes around it while in-flight calls finish.
type ReadyHandler struct {
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Registry
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK          bool `json:"ok"`
		Draining    bool `json:"draining"`
		ActiveCalls int  `json:"active_calls"`
	}

	resp := readyResp{
		OK:       h.Lifecycle.IsReady(),
		Draining: h.Lifecycle.IsDraining(),
	}
	if h.Sessions != nil {
		resp.ActiveCalls = h.Sessions.Count()
	}

	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
