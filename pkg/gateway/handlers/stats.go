package handlers

import (
	"net/http"

	"github.com/dialhaus/switchboard/pkg/gateway/monitor"
)

// StatsHandler serves aggregate call statistics from the recorder.
type StatsHandler struct {
	Recorder *monitor.Recorder
}

func (h StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.Recorder == nil {
		writeJSON(w, http.StatusOK, monitor.Stats{})
		return
	}
	writeJSON(w, http.StatusOK, h.Recorder.Stats())
}
