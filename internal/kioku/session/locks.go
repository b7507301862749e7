package session

import "sync"

// Locks is a registry of per-key read/write locks created on demand.
// An entry lives only while at least one goroutine holds or waits for it, so
// the registry stays proportional to in-flight work rather than to the
// number of sessions ever seen.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.RWMutex
	refs int
}

// NewLocks returns an empty registry.
func NewLocks() *Locks {
	return &Locks{entries: make(map[string]*lockEntry)}
}

// Lock acquires the exclusive lock for key and returns its release func.
func (l *Locks) Lock(key string) (unlock func()) {
	e := l.acquire(key)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.release(key, e)
	}
}

// RLock acquires the shared lock for key and returns its release func.
func (l *Locks) RLock(key string) (unlock func()) {
	e := l.acquire(key)
	e.mu.RLock()
	return func() {
		e.mu.RUnlock()
		l.release(key, e)
	}
}

// Len returns the number of live entries.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Locks) acquire(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Locks) release(key string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}
