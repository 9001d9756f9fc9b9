// Package sessions tracks live call sessions and routes inbound
// transport events to them.
package sessions

import (
	"context"
	"log/slog"
	"sync"
)

// Session is the registry's view of one call session.
type Session interface {
	// Deliver enqueues one inbound transport event. Events delivered
	// for the same session are handled strictly in arrival order.
	// Returns false once the session no longer accepts events.
	Deliver(msg any) bool

	// Cancel hard-stops the session.
	Cancel()
}

// Registry is the single shared structure across calls: it maps
// connection identity to session, fans inbound events out to the right
// one, and tracks how many live sessions share a caller identity.
type Registry struct {
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*tracked
	callers  map[string]int
	wg       sync.WaitGroup
}

type tracked struct {
	session Session
	once    sync.Once
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger,
		sessions: make(map[string]*tracked),
		callers:  make(map[string]int),
	}
}

// Register adds a session under the connection identity, replacing and
// unregistering any previous holder. The returned func removes the
// session; it is idempotent.
func (r *Registry) Register(connID string, s Session) (unregister func()) {
	if r == nil {
		return func() {}
	}

	entry := &tracked{session: s}

	r.mu.Lock()
	old := r.sessions[connID]
	r.sessions[connID] = entry
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil {
		r.unregister(connID, old)
	}

	return func() { r.unregister(connID, entry) }
}

// Remove drops the session registered under the connection identity,
// if any.
func (r *Registry) Remove(connID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	entry := r.sessions[connID]
	r.mu.Unlock()
	if entry != nil {
		r.unregister(connID, entry)
	}
}

func (r *Registry) unregister(connID string, entry *tracked) {
	entry.once.Do(func() {
		r.mu.Lock()
		if r.sessions[connID] == entry {
			delete(r.sessions, connID)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

// Dispatch hands one inbound event to the session registered for the
// connection. Unknown identities are a logged no-op. Sessions never
// share a mailbox, so a slow call cannot block dispatch for another.
func (r *Registry) Dispatch(connID string, msg any) bool {
	if r == nil {
		return false
	}

	r.mu.Lock()
	entry := r.sessions[connID]
	r.mu.Unlock()

	if entry == nil {
		r.logger.Debug("dispatch to unknown session", "conn_id", connID)
		return false
	}
	return entry.session.Deliver(msg)
}

// Count reports how many sessions are registered.
func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CancelAll hard-stops every registered session, for shutdown.
func (r *Registry) CancelAll() (canceled int) {
	if r == nil {
		return 0
	}

	var cancels []func()
	r.mu.Lock()
	for _, entry := range r.sessions {
		if entry.session == nil {
			continue
		}
		cancels = append(cancels, entry.session.Cancel)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered, or the
// context expires. Returns true on a clean drain.
func (r *Registry) Wait(ctx context.Context) bool {
	if r == nil {
		return true
	}
	if ctx == nil {
		r.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// RetainCaller records one live session for the caller identity and
// returns a release func reporting how many remain. Conversation
// history may be cleared only when the last holder releases.
func (r *Registry) RetainCaller(callerID string) (release func() int) {
	if r == nil {
		return func() int { return 0 }
	}

	r.mu.Lock()
	r.callers[callerID]++
	r.mu.Unlock()

	var once sync.Once
	return func() int {
		once.Do(func() {
			r.mu.Lock()
			if r.callers[callerID] <= 1 {
				delete(r.callers, callerID)
			} else {
				r.callers[callerID]--
			}
			r.mu.Unlock()
		})
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.callers[callerID]
	}
}

// CallerSessions reports how many live sessions share a caller
// identity.
func (r *Registry) CallerSessions(callerID string) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.callers[callerID]
}
