package session

import (
	"context"
	"sync"
)

// Backend is the durable storage the Manager persists sessions to. Get and
// Delete return ErrNotFound for unknown IDs; all other errors are treated as
// transient storage failures. Implementations must be safe for concurrent
// use; the Manager serializes writes per session.
type Backend interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context, userID, characterID string) ([]*Session, error)
}

// MemoryBackend keeps sessions in process memory. It is used in tests and
// for the "memory" storage backend in development.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]*Session)}
}

// Get returns a copy of the stored session.
func (b *MemoryBackend) Get(_ context.Context, sessionID string) (*Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Put stores a copy of s, replacing any previous record.
func (b *MemoryBackend) Put(_ context.Context, s *Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := s.Clone()
	cp.LastMessagePair = nil
	b.sessions[s.SessionID] = cp
	return nil
}

// Delete removes the session.
func (b *MemoryBackend) Delete(_ context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(b.sessions, sessionID)
	return nil
}

// List returns copies of every session for the user+character pair in no
// particular order.
func (b *MemoryBackend) List(_ context.Context, userID, characterID string) ([]*Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*Session
	for _, s := range b.sessions {
		if s.UserID == userID && s.CharacterID == characterID {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

// Len returns the number of stored sessions.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

var _ Backend = (*MemoryBackend)(nil)
