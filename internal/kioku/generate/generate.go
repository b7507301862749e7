// Package generate defines the reply-generation backend contract and an
// OpenAI-compatible implementation.
package generate

import (
	"context"
	"errors"
)

// FallbackReply is returned to the user when generation fails. It is
// clearly marked so clients never mistake it for the character speaking,
// and it is never persisted.
const FallbackReply = "[temporarily unavailable] The character cannot answer right now. Please try again in a moment."

var (
	// ErrUnavailable is returned when no generation backend is configured.
	ErrUnavailable = errors.New("generate: backend unavailable")

	// ErrEmptyReply is returned when the backend answers with no text.
	ErrEmptyReply = errors.New("generate: empty reply")
)

// Reply is the text produced for one prompt.
type Reply struct {
	Text         string
	Model        string
	FinishReason string
}

// Generator produces a reply for a fully assembled prompt. Implementations
// must honour ctx cancellation and be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Reply, error)
}

// Unavailable is the Generator used when no backend is configured. Every
// call fails with ErrUnavailable, so turns get the fallback reply.
type Unavailable struct{}

// Generate always fails.
func (Unavailable) Generate(context.Context, string) (Reply, error) {
	return Reply{}, ErrUnavailable
}

var _ Generator = Unavailable{}
