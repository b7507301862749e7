package memory

import (
	"fmt"
	"time"

	"github.com/bdobrica/Kioku/internal/kioku/session"
)

// Engine computes compressions. It holds no state beyond its Config and is
// safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine returns an Engine; non-positive Config fields take defaults.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// ShouldCompress reports whether s has reached the compression threshold
// and still holds messages older than the retained window.
func (e *Engine) ShouldCompress(s *session.Session) bool {
	return s.MessageCount >= e.cfg.Threshold && len(s.Messages) > e.cfg.KeepRecent
}

// Result describes one compression event.
type Result struct {
	// Older are the messages removed from the live history.
	Older []session.Message
	// Fresh is the artifact computed from Older alone, before merging.
	Fresh session.CompressedHistory
}

// Compress folds everything but the last KeepRecent messages of s into its
// CompressedHistory, merging with any previous compression. When
// ShouldCompress is false, s itself is returned unchanged and ok is false.
// Otherwise a modified copy is returned; s is never mutated.
func (e *Engine) Compress(s *session.Session, now time.Time) (out *session.Session, res Result, ok bool) {
	if !e.ShouldCompress(s) {
		return s, Result{}, false
	}

	out = s.Clone()
	split := len(out.Messages) - e.cfg.KeepRecent
	older := out.Messages[:split]
	recent := make([]session.Message, e.cfg.KeepRecent)
	copy(recent, out.Messages[split:])

	fresh := session.CompressedHistory{
		ConversationSummary: summarize(older, e.cfg),
		CoreMemories:        coreMemories(older, e.cfg),
		StoryContinuity:     storyContinuity(older, e.cfg),
	}

	merged := fresh.Clone()
	if out.CompressedHistory != nil {
		merged = e.merge(*out.CompressedHistory, fresh)
	}

	total := len(older) + out.CompressedCount()
	out.Messages = recent
	out.CompressedHistory = &merged
	out.CompressionMetadata = &session.CompressionMetadata{
		OriginalMessageCount: total,
		CompressionDate:      now,
		CompressionRatio:     fmt.Sprintf("%d:1", total),
	}

	return out, Result{Older: older, Fresh: fresh}, true
}

// merge combines a previous artifact with a fresh one. The old summary is
// prepended with " | ". For every field, a fresh value wins unless it is
// the default, in which case the previous value is carried forward, so a
// field set by any earlier compression is never reset.
func (e *Engine) merge(prev, fresh session.CompressedHistory) session.CompressedHistory {
	out := fresh.Clone()

	if prev.ConversationSummary != "" {
		out.ConversationSummary = prev.ConversationSummary + " | " + fresh.ConversationSummary
	}

	cm := &out.CoreMemories
	cm.UserLearningStyle = keep(prev.CoreMemories.UserLearningStyle, fresh.CoreMemories.UserLearningStyle, DefaultLearningStyle)
	cm.RelationshipDynamic = keep(prev.CoreMemories.RelationshipDynamic, fresh.CoreMemories.RelationshipDynamic, DefaultRelationshipDynamic)
	cm.EmotionalContext = keep(prev.CoreMemories.EmotionalContext, fresh.CoreMemories.EmotionalContext, DefaultEmotionalContext)
	cm.UserPreferences = union(prev.CoreMemories.UserPreferences, fresh.CoreMemories.UserPreferences, e.cfg.MaxUserPreferences)

	sc := &out.StoryContinuity
	sc.CharacterDevelopment = keep(prev.StoryContinuity.CharacterDevelopment, fresh.StoryContinuity.CharacterDevelopment, DefaultCharacterDevelopment)
	sc.UserProgression = keep(prev.StoryContinuity.UserProgression, fresh.StoryContinuity.UserProgression, DefaultUserProgression)
	sc.EmotionalJourney = keep(prev.StoryContinuity.EmotionalJourney, fresh.StoryContinuity.EmotionalJourney, DefaultEmotionalJourney)
	sc.MemorableMoments = union(prev.StoryContinuity.MemorableMoments, fresh.StoryContinuity.MemorableMoments, e.cfg.MaxMemorableMoments)

	return out
}

// keep returns fresh unless it is empty or equal to def, in which case prev
// survives.
func keep(prev, fresh, def string) string {
	if fresh == "" || (fresh == def && prev != "") {
		return prev
	}
	return fresh
}

// union appends unseen values of b to a. With limit > 0 only the last
// limit entries are kept.
func union(a, b []string, limit int) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
