package pipeline

import (
	"sync"
	"time"
)

// runGuard suppresses concurrent pipeline runs for the same thread. It is a
// best-effort window, not a lock: persistence stays idempotent on external
// message id so a residual race is still correct, just wasteful.
type runGuard struct {
	mu     sync.Mutex
	active map[string]time.Time
	window time.Duration
	now    func() time.Time
}

func newRunGuard(window time.Duration) *runGuard {
	return &runGuard{
		active: make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

// tryAcquire reports whether a run may start for the thread. A previous run
// older than the window is treated as finished or dead.
func (g *runGuard) tryAcquire(threadKey string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if started, ok := g.active[threadKey]; ok && g.now().Sub(started) < g.window {
		return false
	}
	g.active[threadKey] = g.now()
	return true
}

func (g *runGuard) release(threadKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, threadKey)
}
