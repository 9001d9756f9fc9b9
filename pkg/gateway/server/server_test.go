package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dialhaus/switchboard/pkg/gateway/config"
)

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	s := newTestServer(t, config.Config{})

	rr := get(t, s, "/does-not-exist")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"message":"not found"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestHealthRouteReachable(t *testing.T) {
	s := newTestServer(t, config.Config{})

	rr := get(t, s, "/healthz")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestReadyRouteFollowsLifecycle(t *testing.T) {
	s := newTestServer(t, config.Config{})

	if rr := get(t, s, "/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("before SetReady: status=%d", rr.Code)
	}

	s.SetReady(true)
	if rr := get(t, s, "/readyz"); rr.Code != http.StatusOK {
		t.Fatalf("after SetReady: status=%d body=%q", rr.Code, rr.Body.String())
	}

	s.BeginDrain()
	rr := get(t, s, "/readyz")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("draining: status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"draining":true`) {
		t.Fatalf("draining not reported: %q", rr.Body.String())
	}
}

func TestVoiceRouteAnswersTwiML(t *testing.T) {
	s := newTestServer(t, config.Config{PublicStreamURL: "wss://pbx.example.com/stream"})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/voice", strings.NewReader("From=%2B15551230000&CallSid=CA1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "<Connect>") {
		t.Fatalf("not twiml: %q", rr.Body.String())
	}
}

func TestVoiceRouteChecksSignatureWhenConfigured(t *testing.T) {
	s := newTestServer(t, config.Config{
		TwilioAccountSID: "AC1",
		TwilioAuthToken:  "token",
		TwilioFromNumber: "+15550001111",
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/voice", strings.NewReader("CallSid=CA1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d, want 403 for unsigned webhook", rr.Code)
	}
}

func TestCallsRouteGatedWithoutTwilio(t *testing.T) {
	s := newTestServer(t, config.Config{})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/calls", strings.NewReader(`{"to":"+15557654321"}`))
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503 without outbound config", rr.Code)
	}

	if rr := get(t, s, "/calls"); rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"active"`) {
		t.Fatalf("list: status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestOutboundConfigWiresTwilioClient(t *testing.T) {
	s := newTestServer(t, config.Config{
		TwilioAccountSID: "AC1",
		TwilioAuthToken:  "token",
		TwilioFromNumber: "+15550001111",
	})
	if s.twilioAPI == nil {
		t.Fatal("twilio client not built despite outbound config")
	}
}

func TestStatsRouteReachable(t *testing.T) {
	s := newTestServer(t, config.Config{})

	rr := get(t, s, "/stats")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"total_calls"`) {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestStreamRouteRequiresUpgrade(t *testing.T) {
	s := newTestServer(t, config.Config{})

	// A plain GET is not a websocket handshake; the upgrader must refuse
	// it without reaching the session path.
	rr := get(t, s, "/stream")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400 for non-websocket request", rr.Code)
	}
}

func TestCallLogPathFailureSurfaces(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bad := filepath.Join(t.TempDir(), "missing-dir", "calls.db")
	if _, err := New(config.Config{CallLogPath: bad}, logger); err == nil {
		t.Fatal("expected an error for an unopenable call log path")
	}
}

func TestDrainSessionsCleanWhenIdle(t *testing.T) {
	s := newTestServer(t, config.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !s.DrainSessions(ctx) {
		t.Fatal("drain with no live sessions should be clean")
	}
	if s.ActiveCalls() != 0 {
		t.Fatalf("ActiveCalls = %d, want 0", s.ActiveCalls())
	}
}
