// Package observability provides structured logging helpers for kioku.
//
// It wraps log/slog with trace ID propagation and content redaction so that
// every log line emitted during a turn carries the trace context and never
// the conversation text itself.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bdobrica/Kioku/common/redact"
	"github.com/bdobrica/Kioku/common/trace"
)

// ParseLevel maps "debug", "warn", "error" to their slog levels; anything
// else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a logger writing to w in the given format ("json" or
// text).
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Setup configures the global slog logger according to the provided level and
// format strings (e.g. level="info", format="json") and returns it.
func Setup(level, format string) *slog.Logger {
	logger := NewLogger(os.Stdout, level, format)
	slog.SetDefault(logger)
	return logger
}

// WithTrace returns a child of base that always includes the trace_id from
// ctx. A nil base means the default logger.
func WithTrace(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	traceID := trace.FromContext(ctx)
	if traceID == "" {
		return base
	}
	return base.With("trace_id", traceID)
}

// RedactSecrets replaces known-sensitive values in a log message with
// "[REDACTED]".
func RedactSecrets(msg string, sensitiveValues ...string) string {
	return redact.String(msg, sensitiveValues...)
}

// ContentAttr describes message content for a log line without revealing
// it: only its length at INFO and above, a short preview at DEBUG.
func ContentAttr(ctx context.Context, logger *slog.Logger, content string) slog.Attr {
	if logger != nil && logger.Enabled(ctx, slog.LevelDebug) {
		return slog.String("content", redact.Preview(content, 40))
	}
	return slog.String("content", redact.Content(content))
}
