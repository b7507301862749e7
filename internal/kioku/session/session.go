// Package session implements the session store of the conversation engine:
// the Session record and its messages, ownership-checked CRUD over a
// pluggable storage backend, and the per-session lock registry that
// serializes every mutation of one session.
package session

import (
	"fmt"
	"time"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Status is the lifecycle marker of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusContinued Status = "continued"
)

// Message is a single immutable turn. IDs are sequential per session
// ("msg_001", "msg_002", …) and follow insertion order.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// messageID formats the ID of the n-th message ever added to a session.
func messageID(n int) string {
	return fmt.Sprintf("msg_%03d", n)
}

// Session is one bounded conversation thread between one user and one
// character.
//
// MessageCount counts every message ever appended, including the ones later
// folded into CompressedHistory, so it always equals
// len(Messages) + CompressionMetadata.OriginalMessageCount.
type Session struct {
	SessionID           string               `json:"session_id"`
	UserID              string               `json:"user_id"`
	CharacterID         string               `json:"character_id"`
	PersonaID           *string              `json:"persona_id"`
	CreatedAt           time.Time            `json:"created_at"`
	LastUpdated         time.Time            `json:"last_updated"`
	Status              Status               `json:"status"`
	Messages            []Message            `json:"messages"`
	MessageCount        int                  `json:"message_count"`
	CompressedHistory   *CompressedHistory   `json:"compressed_history,omitempty"`
	CompressionMetadata *CompressionMetadata `json:"compression_metadata,omitempty"`

	// LastMessagePair is derived on load and never persisted.
	LastMessagePair *MessagePair `json:"last_message_pair,omitempty"`
}

// CompressedHistory is the fixed-shape digest of messages removed from the
// live history. Later compressions merge into it rather than replace it.
type CompressedHistory struct {
	ConversationSummary string          `json:"conversation_summary"`
	CoreMemories        CoreMemories    `json:"core_memories"`
	StoryContinuity     StoryContinuity `json:"story_continuity"`
}

// CoreMemories are durable heuristics about the user and the relationship.
type CoreMemories struct {
	UserLearningStyle   string   `json:"user_learning_style"`
	RelationshipDynamic string   `json:"relationship_dynamic"`
	UserPreferences     []string `json:"user_preferences"`
	EmotionalContext    string   `json:"emotional_context"`
}

// StoryContinuity tracks how the character and the user evolved.
type StoryContinuity struct {
	CharacterDevelopment string   `json:"character_development"`
	UserProgression      string   `json:"user_progression"`
	EmotionalJourney     string   `json:"emotional_journey"`
	MemorableMoments     []string `json:"memorable_moments"`
}

// CompressionMetadata records the cumulative effect of every compression.
type CompressionMetadata struct {
	OriginalMessageCount int       `json:"original_message_count"`
	CompressionDate      time.Time `json:"compression_date"`
	CompressionRatio     string    `json:"compression_ratio"`
}

// MessagePair holds the most recent user and assistant messages. Either
// side may be nil.
type MessagePair struct {
	User      *Message `json:"user,omitempty"`
	Assistant *Message `json:"assistant,omitempty"`
}

// Summary is the listing view of a session.
type Summary struct {
	SessionID       string       `json:"session_id"`
	CharacterID     string       `json:"character_id"`
	PersonaID       *string      `json:"persona_id"`
	CreatedAt       time.Time    `json:"created_at"`
	LastUpdated     time.Time    `json:"last_updated"`
	Status          Status       `json:"status"`
	MessageCount    int          `json:"message_count"`
	Compressed      bool         `json:"compressed"`
	LastMessagePair *MessagePair `json:"last_message_pair,omitempty"`
}

// CompressedCount returns how many messages were folded away so far.
func (s *Session) CompressedCount() int {
	if s.CompressionMetadata == nil {
		return 0
	}
	return s.CompressionMetadata.OriginalMessageCount
}

// LastPair scans backward from the end and captures the most recent user
// message and the most recent assistant message, each at most once.
func (s *Session) LastPair() *MessagePair {
	pair := &MessagePair{}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		switch {
		case m.Role == RoleUser && pair.User == nil:
			pair.User = &m
		case m.Role == RoleAssistant && pair.Assistant == nil:
			pair.Assistant = &m
		}
		if pair.User != nil && pair.Assistant != nil {
			break
		}
	}
	return pair
}

// Summarize returns the listing view of s.
func (s *Session) Summarize() Summary {
	return Summary{
		SessionID:       s.SessionID,
		CharacterID:     s.CharacterID,
		PersonaID:       s.PersonaID,
		CreatedAt:       s.CreatedAt,
		LastUpdated:     s.LastUpdated,
		Status:          s.Status,
		MessageCount:    s.MessageCount,
		Compressed:      s.CompressedHistory != nil,
		LastMessagePair: s.LastPair(),
	}
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.PersonaID != nil {
		p := *s.PersonaID
		cp.PersonaID = &p
	}
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	if s.CompressedHistory != nil {
		h := s.CompressedHistory.Clone()
		cp.CompressedHistory = &h
	}
	if s.CompressionMetadata != nil {
		m := *s.CompressionMetadata
		cp.CompressionMetadata = &m
	}
	if s.LastMessagePair != nil {
		cp.LastMessagePair = s.LastPair()
	}
	return &cp
}

// Clone returns a deep copy of h.
func (h CompressedHistory) Clone() CompressedHistory {
	cp := h
	cp.CoreMemories.UserPreferences = append([]string(nil), h.CoreMemories.UserPreferences...)
	cp.StoryContinuity.MemorableMoments = append([]string(nil), h.StoryContinuity.MemorableMoments...)
	return cp
}
