package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/bdobrica/Kioku/internal/kioku/session"
)

// Archive is the pluggable sink for messages removed from a session's live
// history by compression. It lets operators recover the raw transcript the
// summary was derived from. Implementations range from a no-op (default) to
// SQLite.
type Archive interface {
	// Store persists one compression event.
	Store(ctx context.Context, entry ArchiveEntry) error

	// List returns the archived events of a session, oldest first.
	List(ctx context.Context, sessionID string) ([]ArchiveEntry, error)
}

// ArchiveEntry is the raw transcript removed by one compression event.
type ArchiveEntry struct {
	ID          string            // unique archive entry ID (UUID)
	SessionID   string            // session the messages were removed from
	UserID      string            // owner of the session
	CharacterID string            // character of the session
	Summary     string            // summary computed from Messages alone
	Messages    []session.Message // removed messages, oldest first
	ArchivedAt  time.Time         // when the compression ran
}

// NoopArchive discards entries. This is the default when no persistent
// backend is configured.
type NoopArchive struct {
	logger *slog.Logger
}

// NewNoopArchive creates a NoopArchive that logs discarded entries at DEBUG
// level. If logger is nil, the default slog logger is used.
func NewNoopArchive(logger *slog.Logger) *NoopArchive {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopArchive{logger: logger}
}

// Store logs the entry shape and discards it.
func (n *NoopArchive) Store(_ context.Context, entry ArchiveEntry) error {
	n.logger.Debug("archive noop: discarding compressed messages",
		"session_id", entry.SessionID,
		"messages", len(entry.Messages),
		"summary_len", len(entry.Summary),
	)
	return nil
}

// List always returns nothing.
func (n *NoopArchive) List(_ context.Context, _ string) ([]ArchiveEntry, error) {
	return nil, nil
}

var _ Archive = (*NoopArchive)(nil)
