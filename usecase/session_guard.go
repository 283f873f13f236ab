package usecase

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// SessionGuard admits at most one in-flight turn per session
type SessionGuard struct {
	mu      sync.Mutex
	entries map[string]*guardEntry
}

type guardEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// NewSessionGuard creates an empty guard
func NewSessionGuard() *SessionGuard {
	return &SessionGuard{entries: make(map[string]*guardEntry)}
}

// TryAcquire claims the session without blocking. The returned release
// function must be called exactly once when ok is true.
func (g *SessionGuard) TryAcquire(sessionID string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, exists := g.entries[sessionID]
	if !exists {
		entry = &guardEntry{sem: semaphore.NewWeighted(1)}
		g.entries[sessionID] = entry
	}
	if !entry.sem.TryAcquire(1) {
		return nil, false
	}
	entry.refs++

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			entry.sem.Release(1)
			entry.refs--
			if entry.refs == 0 {
				delete(g.entries, sessionID)
			}
		})
	}, true
}

// Active returns the number of sessions with a turn in flight
func (g *SessionGuard) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
