package session

import "sync"

// sessionLocks serializes state-changing operations per session id so
// concurrent matching runs against the same session cannot interleave
// claims. Locks are created lazily and kept for the process lifetime;
// the population is bounded by the number of live sessions.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the session's mutex and returns its unlock function
func (l *sessionLocks) lock(sessionID string) func() {
	l.mu.Lock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
