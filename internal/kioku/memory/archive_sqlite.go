package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
)

// SQLiteArchive implements Archive on the compression_archive table
// (created by migration 0003_compression_archive.sql). Messages are stored
// as a JSON array.
type SQLiteArchive struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteArchive creates a SQLiteArchive backed by db. If logger is nil,
// the default slog logger is used.
func NewSQLiteArchive(db *sql.DB, logger *slog.Logger) *SQLiteArchive {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteArchive{db: db, logger: logger}
}

// Store inserts one compression event.
func (s *SQLiteArchive) Store(ctx context.Context, entry ArchiveEntry) error {
	messagesJSON, err := json.Marshal(entry.Messages)
	if err != nil {
		return fmt.Errorf("archive sqlite: marshal messages: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO compression_archive
			(id, session_id, user_id, character_id, summary, messages, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.SessionID,
		entry.UserID,
		entry.CharacterID,
		entry.Summary,
		string(messagesJSON),
		entry.ArchivedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("archive sqlite: insert: %w", err)
	}

	s.logger.Debug("archive sqlite: stored compression event",
		"archive_id", entry.ID,
		"session_id", entry.SessionID,
		"messages", len(entry.Messages),
	)
	return nil
}

// List returns the archived events of a session, oldest first.
func (s *SQLiteArchive) List(ctx context.Context, sessionID string) ([]ArchiveEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, user_id, character_id, summary, messages, archived_at
		FROM compression_archive
		WHERE session_id = ?
		ORDER BY archived_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("archive sqlite: query: %w", err)
	}
	defer rows.Close()

	var entries []ArchiveEntry
	for rows.Next() {
		var (
			e            ArchiveEntry
			messagesJSON string
			archivedAt   string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.CharacterID, &e.Summary, &messagesJSON, &archivedAt); err != nil {
			return nil, fmt.Errorf("archive sqlite: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(messagesJSON), &e.Messages); err != nil {
			s.logger.Warn("archive sqlite: skip malformed row", "archive_id", e.ID, "err", err)
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, archivedAt)
		if err != nil {
			s.logger.Warn("archive sqlite: skip row with bad timestamp", "archive_id", e.ID, "err", err)
			continue
		}
		e.ArchivedAt = t
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive sqlite: iterate rows: %w", err)
	}
	return entries, nil
}

var _ Archive = (*SQLiteArchive)(nil)
