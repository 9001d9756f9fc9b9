package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dialhaus/switchboard/pkg/core/convo"
)

func sseChunk(content string) string {
	chunk := map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion.chunk",
		"created": 1700000000,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{
			{"index": 0, "delta": map[string]any{"content": content}},
		},
	}
	data, _ := json.Marshal(chunk)
	return "data: " + string(data) + "\n\n"
}

// fakeCompletions serves a streaming chat-completions endpoint.
func fakeCompletions(t *testing.T, handle func(w http.ResponseWriter, body []byte)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		handle(w, body)
	}))
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenAIRespondStreamsTokens(t *testing.T) {
	srv := fakeCompletions(t, func(w http.ResponseWriter, body []byte) {
		for _, tok := range []string{"I can", " help", " with that."} {
			io.WriteString(w, sseChunk(tok))
			flush(w)
		}
		io.WriteString(w, "data: [DONE]\n\n")
	})
	defer srv.Close()

	history := convo.NewStore(10)
	g := NewOpenAI("test-key", history, OpenAIConfig{BaseURL: srv.URL + "/v1"}, testLogger())

	ts, err := g.Respond(context.Background(), "+15551234567", "Can you help me?")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	var got []string
	for tok := range ts.Tokens() {
		got = append(got, tok)
	}
	if strings.Join(got, "") != "I can help with that." {
		t.Errorf("unexpected tokens: %q", got)
	}
	if err := ts.Err(); err != nil {
		t.Errorf("expected clean finish, got %v", err)
	}

	turns := history.Window("+15551234567", 10)
	if len(turns) != 2 {
		t.Fatalf("expected user+assistant turns, got %d", len(turns))
	}
	if turns[0].Role != convo.RoleUser || turns[0].Text != "Can you help me?" {
		t.Errorf("unexpected user turn: %+v", turns[0])
	}
	if turns[1].Role != convo.RoleAssistant || turns[1].Text != "I can help with that." {
		t.Errorf("unexpected assistant turn: %+v", turns[1])
	}
}

func TestOpenAIRespondEmptyTranscript(t *testing.T) {
	g := NewOpenAI("test-key", convo.NewStore(10), OpenAIConfig{}, testLogger())
	if _, err := g.Respond(context.Background(), "caller", "   "); err == nil {
		t.Error("expected error for empty transcript")
	}
}

func TestOpenAIHistoryWindowBound(t *testing.T) {
	var captured []byte
	srv := fakeCompletions(t, func(w http.ResponseWriter, body []byte) {
		captured = body
		io.WriteString(w, sseChunk("Sure."))
		io.WriteString(w, "data: [DONE]\n\n")
	})
	defer srv.Close()

	history := convo.NewStore(10)
	for i := 0; i < 9; i++ {
		role := convo.RoleUser
		if i%2 == 1 {
			role = convo.RoleAssistant
		}
		history.Append("caller", role, fmt.Sprintf("old turn %d", i))
	}

	g := NewOpenAI("test-key", history, OpenAIConfig{BaseURL: srv.URL + "/v1"}, testLogger())
	ts, err := g.Respond(context.Background(), "caller", "newest question")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	for range ts.Tokens() {
	}

	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		MaxTokens int `json:"max_tokens"`
	}
	if err := json.Unmarshal(captured, &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}

	// One system message plus at most ten history turns.
	if len(req.Messages) != 11 {
		t.Fatalf("expected 11 messages, got %d", len(req.Messages))
	}
	if req.Messages[0].Role != "system" {
		t.Errorf("first message should be system, got %q", req.Messages[0].Role)
	}
	if last := req.Messages[len(req.Messages)-1]; last.Content != "newest question" {
		t.Errorf("last message should be the new transcript, got %q", last.Content)
	}
	if req.MaxTokens != 150 {
		t.Errorf("expected default max_tokens 150, got %d", req.MaxTokens)
	}
	if req.Model != "gpt-4o-mini" {
		t.Errorf("expected default model, got %q", req.Model)
	}
}

func TestOpenAIRespondServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewOpenAI("test-key", convo.NewStore(10), OpenAIConfig{BaseURL: srv.URL + "/v1"}, testLogger())
	if _, err := g.Respond(context.Background(), "caller", "hello"); err == nil {
		t.Error("expected error from failed stream open")
	}
}

func TestOpenAIMidStreamFailure(t *testing.T) {
	srv := fakeCompletions(t, func(w http.ResponseWriter, body []byte) {
		io.WriteString(w, sseChunk("partial"))
		flush(w)
		io.WriteString(w, "data: this is not json\n\n")
	})
	defer srv.Close()

	history := convo.NewStore(10)
	g := NewOpenAI("test-key", history, OpenAIConfig{BaseURL: srv.URL + "/v1"}, testLogger())
	ts, err := g.Respond(context.Background(), "caller", "hello")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	for range ts.Tokens() {
	}
	if ts.Err() == nil {
		t.Error("expected mid-stream failure to surface via Err")
	}
	// The broken response must not be recorded.
	if got := history.Len("caller"); got != 1 {
		t.Errorf("expected only the user turn recorded, got %d", got)
	}
}

func TestOpenAITimeout(t *testing.T) {
	srv := fakeCompletions(t, func(w http.ResponseWriter, body []byte) {
		io.WriteString(w, sseChunk("slow"))
		flush(w)
		time.Sleep(500 * time.Millisecond)
		io.WriteString(w, "data: [DONE]\n\n")
	})
	defer srv.Close()

	g := NewOpenAI("test-key", convo.NewStore(10), OpenAIConfig{
		BaseURL: srv.URL + "/v1",
		Timeout: 50 * time.Millisecond,
	}, testLogger())

	ts, err := g.Respond(context.Background(), "caller", "hello")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ts.Tokens():
			if !ok {
				if ts.Err() == nil {
					t.Error("expected timeout to surface via Err")
				}
				return
			}
		case <-deadline:
			t.Fatal("stream never ended after timeout")
		}
	}
}
