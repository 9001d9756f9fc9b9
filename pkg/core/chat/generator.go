// Package chat turns finalized caller transcripts into streamed
// response text, holding bounded per-caller conversation context.
package chat

import (
	"context"
	"sync"
)

// Generator produces a streamed response to one caller transcript.
type Generator interface {
	// Respond starts generating a reply. The returned stream yields
	// text tokens as they are produced.
	Respond(ctx context.Context, callerID, transcript string) (*TokenStream, error)

	// ClearHistory drops the caller's conversation context.
	ClearHistory(callerID string)
}

// TokenStream is one in-flight generation. Tokens closes when the
// stream ends; Err reports whether it ended cleanly.
type TokenStream struct {
	tokens chan string
	done   chan struct{}
	cancel context.CancelFunc

	errMu sync.Mutex
	err   error
}

func newTokenStream(cancel context.CancelFunc) *TokenStream {
	return &TokenStream{
		tokens: make(chan string, 16),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Tokens returns the text channel. Closed at end of generation.
func (t *TokenStream) Tokens() <-chan string {
	return t.tokens
}

// Cancel stops generation. Safe to call more than once.
func (t *TokenStream) Cancel() {
	t.cancel()
}

// Done returns a channel closed once generation has wound down.
func (t *TokenStream) Done() <-chan struct{} {
	return t.done
}

// Err reports why generation ended early, nil on a clean finish or
// local cancellation.
func (t *TokenStream) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *TokenStream) setErr(err error) {
	t.errMu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.errMu.Unlock()
}

func (t *TokenStream) finish() {
	close(t.tokens)
	close(t.done)
}
