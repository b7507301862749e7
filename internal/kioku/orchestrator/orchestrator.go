// Package orchestrator drives a conversation turn end to end: persist the
// user message, compress when due, gather knowledge, build the prompt,
// generate and persist the reply.
//
// A session moves NEW (no messages) → ACTIVE → COMPRESSED (compressed
// history present) and stays COMPRESSED, compressing again whenever the
// live history outgrows the retained window. Only deletion ends it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/Kioku/common/trace"
	"github.com/bdobrica/Kioku/internal/kioku/character"
	"github.com/bdobrica/Kioku/internal/kioku/generate"
	"github.com/bdobrica/Kioku/internal/kioku/knowledge"
	"github.com/bdobrica/Kioku/internal/kioku/memory"
	"github.com/bdobrica/Kioku/internal/kioku/metrics"
	"github.com/bdobrica/Kioku/internal/kioku/observability"
	"github.com/bdobrica/Kioku/internal/kioku/prompt"
	"github.com/bdobrica/Kioku/internal/kioku/session"
	"github.com/bdobrica/Kioku/internal/kioku/topiccache"
)

// Characters resolves character personas. *character.Registry implements
// it.
type Characters interface {
	Get(id string) (character.Character, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Sessions   *session.Manager
	Compressor *memory.Compressor
	Cache      *topiccache.Cache
	Characters Characters
	Generator  generate.Generator
	Logger     *slog.Logger
}

// Orchestrator is the façade the API layer talks to.
type Orchestrator struct {
	sessions   *session.Manager
	compressor *memory.Compressor
	cache      *topiccache.Cache
	characters Characters
	generator  generate.Generator
	logger     *slog.Logger

	now func() time.Time
}

// New creates an Orchestrator. A nil Generator means generate.Unavailable;
// a nil Logger means the default slog logger.
func New(d Deps) *Orchestrator {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Generator == nil {
		d.Generator = generate.Unavailable{}
	}
	return &Orchestrator{
		sessions:   d.Sessions,
		compressor: d.Compressor,
		cache:      d.Cache,
		characters: d.Characters,
		generator:  d.Generator,
		logger:     d.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// TurnRequest is one user message addressed to a session.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Content   string `json:"content"`
}

// TurnResult is the outcome of a turn.
type TurnResult struct {
	SessionID string          `json:"session_id"`
	Reply     session.Message `json:"reply"`

	// Fallback marks a placeholder reply produced because generation
	// failed. Fallback replies are not stored in the session.
	Fallback bool `json:"fallback"`

	Compressed   bool                    `json:"compressed"`
	MessageCount int                     `json:"message_count"`
	Knowledge    []topiccache.CachedItem `json:"knowledge"`
	TraceID      string                  `json:"trace_id,omitempty"`
}

// StartSession creates a session, stores the character's greeting as its
// first message and seeds the topic cache from it.
func (o *Orchestrator) StartSession(ctx context.Context, userID, characterID string, personaID *string) (*session.Session, error) {
	c, err := o.characters.Get(characterID)
	if err != nil {
		return nil, err
	}

	s, err := o.sessions.CreateSession(ctx, userID, characterID, personaID)
	if err != nil {
		return nil, err
	}
	metrics.SessionsCreated.WithLabelValues(characterID).Inc()

	greeting := strings.TrimSpace(c.Greeting)
	if greeting != "" {
		s, err = o.sessions.AppendMessage(ctx, s.SessionID, session.RoleAssistant, greeting, userID)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: store greeting: %w", err)
		}
		seeded := o.cache.SeedFromGreeting(s.SessionID, greeting, characterID)
		o.logger.Debug("topic cache seeded from greeting",
			"session_id", s.SessionID,
			"items", len(seeded),
		)
	}

	o.logger.Info("session started",
		"session_id", s.SessionID,
		"user_id", userID,
		"character_id", characterID,
	)
	return o.sessions.LoadSession(ctx, s.SessionID, userID)
}

// ResumeSession marks an existing session as continued and returns it with
// its last message pair.
func (o *Orchestrator) ResumeSession(ctx context.Context, sessionID, userID string) (*session.Session, error) {
	if _, err := o.sessions.SetStatus(ctx, sessionID, userID, session.StatusContinued); err != nil {
		return nil, err
	}
	o.logger.Info("session resumed", "session_id", sessionID, "user_id", userID)
	return o.sessions.LoadSession(ctx, sessionID, userID)
}

// LoadSession returns a session with its last message pair.
func (o *Orchestrator) LoadSession(ctx context.Context, sessionID, userID string) (*session.Session, error) {
	return o.sessions.LoadSession(ctx, sessionID, userID)
}

// ListSessions lists a user's sessions with one character, newest first.
func (o *Orchestrator) ListSessions(ctx context.Context, userID, characterID string) ([]session.Summary, error) {
	return o.sessions.ListSessions(ctx, userID, characterID)
}

// DeleteSession removes a session and discards its topic cache.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID, userID string) error {
	if err := o.sessions.DeleteSession(ctx, sessionID, userID); err != nil {
		return err
	}
	o.cache.Drop(sessionID)
	o.logger.Info("session deleted", "session_id", sessionID, "user_id", userID)
	return nil
}

// HandleTurn runs one conversation turn. The user message is stored before
// anything else, so it survives a failed generation. When generation fails
// the result carries generate.FallbackReply with Fallback set and nothing
// is stored for the assistant. A cancelled ctx aborts the turn with its
// error.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	start := time.Now()
	ctx, traceID := trace.Ensure(ctx)
	log := observability.WithTrace(ctx, o.logger)

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: message content is empty", session.ErrInvalid)
	}

	// --- 1. Persist the user message ---------------------------------------
	s, err := o.sessions.AppendMessage(ctx, req.SessionID, session.RoleUser, content, req.UserID)
	if err != nil {
		return nil, err
	}

	// --- 2. Compress when due (best-effort) ---------------------------------
	s, compressed := o.compact(ctx, log, s, req.UserID)

	c, err := o.characters.Get(s.CharacterID)
	if err != nil {
		log.Warn("character missing, using bare identity", "character_id", s.CharacterID, "err", err)
		c = character.Character{ID: s.CharacterID, Name: s.CharacterID}
	}

	// --- 3. Knowledge -------------------------------------------------------
	seeded := false
	if !o.cache.Has(s.SessionID) && strings.TrimSpace(c.Greeting) != "" {
		// First turn, or the cache was evicted: start from the greeting.
		o.cache.SeedFromGreeting(s.SessionID, c.Greeting, s.CharacterID)
		seeded = true
	}
	cached := o.cache.AddIncremental(s.SessionID, content, s.CharacterID)

	// --- 4. Prompt ----------------------------------------------------------
	items := make([]knowledge.Item, len(cached))
	for i, ci := range cached {
		items[i] = ci.Item
	}
	p := prompt.Build(prompt.Input{
		CharacterText:     character.Text(c),
		Knowledge:         items,
		CompressedHistory: s.CompressedHistory,
		Recent:            history(s.Messages),
		CurrentInput:      content,
	})

	result := &TurnResult{
		SessionID:  s.SessionID,
		Compressed: compressed,
		Knowledge:  cached,
		TraceID:    traceID,
	}

	// --- 5. Generate (no session lock held) ----------------------------------
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	genStart := time.Now()
	reply, genErr := o.generator.Generate(ctx, p)
	if genErr != nil {
		metrics.GenerationLatency.WithLabelValues(metrics.ResultError).Observe(time.Since(genStart).Seconds())
		if err := ctx.Err(); err != nil {
			metrics.TurnsTotal.WithLabelValues(s.CharacterID, metrics.ResultError).Inc()
			return nil, err
		}
		log.Error("generation failed, returning fallback reply",
			"session_id", s.SessionID,
			"err", genErr,
		)
		metrics.TurnsTotal.WithLabelValues(s.CharacterID, metrics.ResultFallback).Inc()
		result.Fallback = true
		result.Reply = session.Message{
			Role:      session.RoleAssistant,
			Content:   generate.FallbackReply,
			Timestamp: o.now(),
		}
		result.MessageCount = s.MessageCount
		return result, nil
	}
	metrics.GenerationLatency.WithLabelValues(metrics.ResultOK).Observe(time.Since(genStart).Seconds())

	// --- 6. Persist the reply -----------------------------------------------
	characterID := s.CharacterID
	s, err = o.sessions.AppendMessage(ctx, s.SessionID, session.RoleAssistant, reply.Text, req.UserID)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues(characterID, metrics.ResultError).Inc()
		return nil, fmt.Errorf("orchestrator: store reply: %w", err)
	}
	result.Reply = s.Messages[len(s.Messages)-1]

	// The reply counts toward the threshold too.
	var replyCompressed bool
	s, replyCompressed = o.compact(ctx, log, s, req.UserID)
	compressed = compressed || replyCompressed
	result.Compressed = compressed
	result.MessageCount = s.MessageCount

	metrics.TurnsTotal.WithLabelValues(s.CharacterID, metrics.ResultOK).Inc()
	metrics.TurnLatency.WithLabelValues(s.CharacterID).Observe(time.Since(start).Seconds())

	log.Info("turn handled",
		"session_id", s.SessionID,
		"message_count", s.MessageCount,
		"knowledge_items", len(cached),
		"compressed", compressed,
		"seeded", seeded,
		"elapsed", time.Since(start).String(),
	)
	log.Debug("turn content",
		observability.ContentAttr(ctx, log, content),
		slog.Int("prompt_len", len(p)),
		slog.Int("reply_len", len(reply.Text)),
	)
	return result, nil
}

// compact folds s when its live history is due for compression. Failures
// are logged and leave s as it was; the turn carries on uncompressed.
func (o *Orchestrator) compact(ctx context.Context, log *slog.Logger, s *session.Session, userID string) (*session.Session, bool) {
	if o.compressor == nil || !o.compressor.Engine.ShouldCompress(s) {
		return s, false
	}
	cs, ok, err := o.compressor.MaybeCompress(ctx, s.SessionID, userID)
	switch {
	case err != nil:
		log.Warn("compression skipped for this turn", "session_id", s.SessionID, "err", err)
		return s, false
	case !ok:
		return s, false
	}
	return cs, true
}

// history drops the trailing user message, which the prompt renders as the
// current input.
func history(msgs []session.Message) []session.Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == session.RoleUser {
		return msgs[:n-1]
	}
	return msgs
}

// IsClientError reports whether err stems from the caller's request rather
// than from the service.
func IsClientError(err error) bool {
	return errors.Is(err, session.ErrInvalid) ||
		errors.Is(err, session.ErrNotFound) ||
		errors.Is(err, session.ErrUnauthorized) ||
		errors.Is(err, character.ErrUnknown)
}
