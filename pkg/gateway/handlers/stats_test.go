package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dialhaus/switchboard/pkg/gateway/monitor"
)

func TestStatsReportsAggregates(t *testing.T) {
	recorder := monitor.NewRecorder(0)
	recorder.CallStarted(monitor.CallInfo{CallSID: "CA1", StartedAt: time.Now()})
	recorder.CallCompleted("CA1", monitor.StatusCompleted)
	recorder.CallStarted(monitor.CallInfo{CallSID: "CA2", StartedAt: time.Now()})

	rec := httptest.NewRecorder()
	StatsHandler{Recorder: recorder}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats monitor.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("stats body is not JSON: %v", err)
	}
	if stats.ActiveCalls != 1 || stats.TotalCalls != 2 {
		t.Fatalf("stats = %+v, want 1 active of 2 total", stats)
	}
	if stats.ByStatus[monitor.StatusCompleted] != 1 {
		t.Fatalf("by_status = %v, want one completed", stats.ByStatus)
	}
}

func TestStatsRejectsNonGet(t *testing.T) {
	rec := httptest.NewRecorder()
	StatsHandler{}.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stats", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
