package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Kioku/internal/kioku/metrics"
	"github.com/bdobrica/Kioku/internal/kioku/session"
)

// Compressor runs the compression engine against stored sessions and
// persists the result through the session store:
// load under lock → compress → persist → archive the removed messages.
//
// Archiving is best-effort. A failed archive write is logged and counted
// but the compressed session stays persisted.
type Compressor struct {
	Engine   *Engine
	Sessions *session.Manager
	Archive  Archive
	Logger   *slog.Logger

	now func() time.Time
}

// NewCompressor creates a Compressor. A nil archive means NoopArchive; a nil
// logger means the default slog logger.
func NewCompressor(engine *Engine, sessions *session.Manager, archive Archive, logger *slog.Logger) *Compressor {
	if logger == nil {
		logger = slog.Default()
	}
	if archive == nil {
		archive = NewNoopArchive(logger)
	}
	return &Compressor{
		Engine:   engine,
		Sessions: sessions,
		Archive:  archive,
		Logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// MaybeCompress compresses the session if it has crossed the threshold.
// It returns the session as stored after the call and whether a compression
// happened. Errors come from the session store only; the caller decides
// whether they are fatal.
func (c *Compressor) MaybeCompress(ctx context.Context, sessionID, userID string) (*session.Session, bool, error) {
	var (
		res       Result
		compacted bool
	)
	now := c.now()

	s, err := c.Sessions.Mutate(ctx, sessionID, userID, func(s *session.Session) (bool, error) {
		out, r, ok := c.Engine.Compress(s, now)
		if !ok {
			return false, nil
		}
		*s = *out
		res, compacted = r, true
		return true, nil
	})
	if err != nil {
		metrics.Compressions.WithLabelValues(metrics.ResultError).Inc()
		c.Logger.Warn("compression failed",
			"session_id", sessionID,
			"err", err,
		)
		return nil, false, fmt.Errorf("memory: compress %s: %w", sessionID, err)
	}
	if !compacted {
		metrics.Compressions.WithLabelValues(metrics.ResultSkipped).Inc()
		return s, false, nil
	}

	metrics.Compressions.WithLabelValues(metrics.ResultOK).Inc()
	metrics.CompressedMessages.Add(float64(len(res.Older)))

	c.Logger.Info("session compressed",
		"session_id", s.SessionID,
		"character_id", s.CharacterID,
		"removed", len(res.Older),
		"kept", len(s.Messages),
		"original_message_count", s.CompressionMetadata.OriginalMessageCount,
	)
	c.Logger.Debug("compression: merged history",
		"session_id", s.SessionID,
		"summary_len", len(s.CompressedHistory.ConversationSummary),
		"memorable_moments", len(s.CompressedHistory.StoryContinuity.MemorableMoments),
	)

	entry := ArchiveEntry{
		ID:          uuid.NewString(),
		SessionID:   s.SessionID,
		UserID:      s.UserID,
		CharacterID: s.CharacterID,
		Summary:     res.Fresh.ConversationSummary,
		Messages:    res.Older,
		ArchivedAt:  now,
	}
	if err := c.Archive.Store(ctx, entry); err != nil {
		metrics.ArchiveFailures.Inc()
		c.Logger.Error("compression: archive write failed",
			"session_id", s.SessionID,
			"messages", len(res.Older),
			"err", err,
		)
	}

	return s, true, nil
}
