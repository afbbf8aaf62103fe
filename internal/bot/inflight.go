package bot

import (
	"context"
	"sync"
)

// inflightGuard enforces at most one outstanding agent call per chat.
// Policy: a message arriving while a call streams is rejected with a
// hint to /cancel, never queued — agent calls have side effects and
// blind queuing could reorder them.
type inflightGuard struct {
	mu     sync.Mutex
	active map[int64]context.CancelFunc
}

func newInflightGuard() *inflightGuard {
	return &inflightGuard{active: make(map[int64]context.CancelFunc)}
}

// tryAcquire registers an in-flight call for the chat. Returns false
// if one is already running.
func (g *inflightGuard) tryAcquire(chatID int64, cancel context.CancelFunc) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[chatID]; busy {
		return false
	}
	g.active[chatID] = cancel
	return true
}

// release clears the chat's in-flight slot. Safe to call when absent.
func (g *inflightGuard) release(chatID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, chatID)
}

// cancel aborts the chat's in-flight call, reporting whether one
// existed. The relay's own cleanup releases the slot.
func (g *inflightGuard) cancel(chatID int64) bool {
	g.mu.Lock()
	cancel, ok := g.active[chatID]
	g.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
