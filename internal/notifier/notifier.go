// Package notifier implements the process-wide session-expiry broadcast: a
// single well-known topic with boolean visibility state.
package notifier

import (
	"sync"

	"payment-orchestrator/internal/common/logger"
)

// SessionNotifier broadcasts "session expired" visibility changes to any
// subscriber. Show is idempotent: no matter how many concurrent requests hit
// a 401, subscribers see at most one transition to visible.
type SessionNotifier struct {
	mu      sync.Mutex
	visible bool
	nextID  int
	subs    map[int]func(visible bool)
	logger  logger.Logger
}

func New(log logger.Logger) *SessionNotifier {
	return &SessionNotifier{
		subs:   make(map[int]func(bool)),
		logger: log.WithFields(map[string]interface{}{"component": "session-notifier"}),
	}
}

// Subscribe registers a callback for visibility changes and returns an
// unsubscribe function. No ordering guarantee between subscribers.
func (n *SessionNotifier) Subscribe(cb func(visible bool)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.subs[id] = cb
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// Show marks the session as expired. Calling it while already visible is a
// no-op so concurrent 401s produce a single broadcast.
func (n *SessionNotifier) Show() {
	n.mu.Lock()
	if n.visible {
		n.mu.Unlock()
		return
	}
	n.visible = true
	cbs := n.snapshotLocked()
	n.mu.Unlock()

	n.logger.Warn("session expired", map[string]interface{}{
		"subscribers": len(cbs),
	})
	for _, cb := range cbs {
		cb(true)
	}
}

// Hide clears the expired state. Cleared only by explicit logout and
// re-authentication.
func (n *SessionNotifier) Hide() {
	n.mu.Lock()
	if !n.visible {
		n.mu.Unlock()
		return
	}
	n.visible = false
	cbs := n.snapshotLocked()
	n.mu.Unlock()

	for _, cb := range cbs {
		cb(false)
	}
}

// Visible reports the current expiry-modal state.
func (n *SessionNotifier) Visible() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.visible
}

func (n *SessionNotifier) snapshotLocked() []func(bool) {
	cbs := make([]func(bool), 0, len(n.subs))
	for _, cb := range n.subs {
		cbs = append(cbs, cb)
	}
	return cbs
}
