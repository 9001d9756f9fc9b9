// Package lifecycle tracks the process's serving state for readiness
// probes: not ready until the listener is up, and not ready again once
// shutdown starts draining calls.
package lifecycle

import "sync/atomic"

// Lifecycle is shared between the serving loop and the readiness handler.
// The zero value is usable: not ready, not draining.
type Lifecycle struct {
	ready    atomic.Bool
	draining atomic.Bool
}

// SetReady marks the process as accepting traffic.
func (l *Lifecycle) SetReady(ready bool) {
	if l == nil {
		return
	}
	l.ready.Store(ready)
}

// SetDraining flips the drain flag; a draining process reports not ready
// so the load balancer stops routing new calls to it.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// IsReady reports whether new traffic should be routed here.
func (l *Lifecycle) IsReady() bool {
	if l == nil {
		return false
	}
	return l.ready.Load() && !l.draining.Load()
}
