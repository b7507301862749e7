package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/bdobrica/Kioku/internal/kioku/session"
)

// SessionBackend implements session.Backend on the sessions table.
type SessionBackend struct {
	store *Store
}

// Sessions returns the session backend of s.
func (s *Store) Sessions() *SessionBackend {
	return &SessionBackend{store: s}
}

// Get loads a session record.
func (b *SessionBackend) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	var record string
	err := b.store.db.QueryRowContext(ctx,
		"SELECT record FROM sessions WHERE session_id = ?", sessionID,
	).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return decodeSession(record)
}

// Put inserts or replaces a session record.
func (b *SessionBackend) Put(ctx context.Context, s *session.Session) error {
	cp := *s
	cp.LastMessagePair = nil
	record, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	_, err = b.store.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, character_id, status, record, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			record = excluded.record,
			last_updated = excluded.last_updated
	`, s.SessionID, s.UserID, s.CharacterID, string(s.Status), string(record),
		formatTime(s.CreatedAt), formatTime(s.LastUpdated))
	if err != nil {
		return fmt.Errorf("failed to put session: %w", err)
	}
	return nil
}

// Delete removes a session record.
func (b *SessionBackend) Delete(ctx context.Context, sessionID string) error {
	res, err := b.store.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

// List returns every session of a user+character pair, most recently
// updated first.
func (b *SessionBackend) List(ctx context.Context, userID, characterID string) ([]*session.Session, error) {
	rows, err := b.store.db.QueryContext(ctx, `
		SELECT record FROM sessions
		WHERE user_id = ? AND character_id = ?
		ORDER BY last_updated DESC
	`, userID, characterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s, err := decodeSession(record)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return out, nil
}

func decodeSession(record string) (*session.Session, error) {
	var s session.Session
	if err := json.Unmarshal([]byte(record), &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if s.Messages == nil {
		s.Messages = []session.Message{}
	}
	return &s, nil
}

// formatTime renders t in a lexically sortable UTC form.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

var _ session.Backend = (*SessionBackend)(nil)
