package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Kioku/common/retry"
)

// Manager is the session store: ownership-checked CRUD over a Backend.
//
// Every mutation of one session runs under that session's exclusive lock;
// reads take the shared lock. Different sessions never contend. The Manager
// does not compress; callers run the compression engine after appending.
type Manager struct {
	backend   Backend
	locks     *Locks
	logger    *slog.Logger
	readRetry retry.Config

	// now is injectable for tests.
	now func() time.Time
}

// NewManager creates a Manager over backend. If logger is nil, the default
// slog logger is used.
func NewManager(backend Backend, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend:   backend,
		locks:     NewLocks(),
		logger:    logger,
		readRetry: retry.StorageRead,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Locks exposes the registry so tests can assert it drains.
func (m *Manager) Locks() *Locks { return m.locks }

// NewSessionID returns a sortable ID: a millisecond UTC timestamp followed
// by a random suffix, unique even for same-millisecond calls.
func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return now.UTC().Format("20060102T150405.000") + "-" + suffix
}

// CreateSession allocates a fresh, empty, active session.
func (m *Manager) CreateSession(ctx context.Context, userID, characterID string, personaID *string) (*Session, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(characterID) == "" {
		return nil, fmt.Errorf("%w: user and character IDs are required", ErrInvalid)
	}

	now := m.now()
	s := &Session{
		SessionID:   NewSessionID(now),
		UserID:      userID,
		CharacterID: characterID,
		PersonaID:   personaID,
		CreatedAt:   now,
		LastUpdated: now,
		Status:      StatusActive,
		Messages:    []Message{},
	}

	if err := m.backend.Put(ctx, s); err != nil {
		return nil, storageErr("create", err)
	}

	m.logger.Info("session created",
		"session_id", s.SessionID,
		"user_id", userID,
		"character_id", characterID,
	)
	return s.Clone(), nil
}

// AppendMessage appends a message with the next sequential ID, persists the
// session and returns the updated copy.
func (m *Manager) AppendMessage(ctx context.Context, sessionID string, role Role, content, callerUserID string) (*Session, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalid, role)
	}
	return m.Mutate(ctx, sessionID, callerUserID, func(s *Session) (bool, error) {
		now := m.now()
		s.MessageCount++
		s.Messages = append(s.Messages, Message{
			ID:        messageID(s.MessageCount),
			Role:      role,
			Content:   content,
			Timestamp: now,
		})
		s.LastUpdated = now
		return true, nil
	})
}

// LoadSession returns the session with LastMessagePair populated.
func (m *Manager) LoadSession(ctx context.Context, sessionID, callerUserID string) (*Session, error) {
	unlock := m.locks.RLock(sessionID)
	defer unlock()

	s, err := m.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(s, callerUserID, "load"); err != nil {
		return nil, err
	}
	s.LastMessagePair = s.LastPair()
	return s, nil
}

// ListSessions returns every session of the pair, most recently updated
// first. Empty sessions are included.
func (m *Manager) ListSessions(ctx context.Context, userID, characterID string) ([]Summary, error) {
	sessions, err := retry.Value(ctx, m.readRetry, func() ([]*Session, error) {
		return m.backend.List(ctx, userID, characterID)
	})
	if err != nil {
		return nil, storageErr("list", err)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].LastUpdated.Equal(sessions[j].LastUpdated) {
			return sessions[i].LastUpdated.After(sessions[j].LastUpdated)
		}
		return sessions[i].SessionID > sessions[j].SessionID
	})

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summarize())
	}
	return out, nil
}

// DeleteSession hard-deletes the session after an ownership check.
func (m *Manager) DeleteSession(ctx context.Context, sessionID, callerUserID string) error {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	s, err := m.get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := m.authorize(s, callerUserID, "delete"); err != nil {
		return err
	}
	if err := m.backend.Delete(ctx, sessionID); err != nil {
		return storageErr("delete", err)
	}

	m.logger.Info("session deleted",
		"session_id", sessionID,
		"user_id", callerUserID,
		"messages", s.MessageCount,
	)
	return nil
}

// Mutate loads the session under its exclusive lock, checks ownership and
// applies fn to a private copy. When fn reports a change the copy is
// persisted; on any error the stored record is left untouched.
func (m *Manager) Mutate(ctx context.Context, sessionID, callerUserID string, fn func(*Session) (bool, error)) (*Session, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	s, err := m.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(s, callerUserID, "mutate"); err != nil {
		return nil, err
	}

	changed, err := fn(s)
	if err != nil {
		return nil, err
	}
	if changed {
		s.LastMessagePair = nil
		if err := m.backend.Put(ctx, s); err != nil {
			return nil, storageErr("put", err)
		}
	}
	return s.Clone(), nil
}

// SetStatus updates the lifecycle marker.
func (m *Manager) SetStatus(ctx context.Context, sessionID, callerUserID string, status Status) (*Session, error) {
	return m.Mutate(ctx, sessionID, callerUserID, func(s *Session) (bool, error) {
		if s.Status == status {
			return false, nil
		}
		s.Status = status
		s.LastUpdated = m.now()
		return true, nil
	})
}

// get reads a session, retrying once on transient failure. ErrNotFound is
// never retried.
func (m *Manager) get(ctx context.Context, sessionID string) (*Session, error) {
	cfg := m.readRetry
	cfg.ShouldRetry = func(err error) bool { return !errors.Is(err, ErrNotFound) }

	s, err := retry.Value(ctx, cfg, func() (*Session, error) {
		return m.backend.Get(ctx, sessionID)
	})
	if err != nil {
		return nil, storageErr("get", err)
	}
	return s, nil
}

// authorize logs ownership failures without any message content.
func (m *Manager) authorize(s *Session, callerUserID, op string) error {
	if s.UserID == callerUserID {
		return nil
	}
	m.logger.Warn("session access denied",
		"session_id", s.SessionID,
		"caller", callerUserID,
		"op", op,
	)
	return ErrUnauthorized
}
