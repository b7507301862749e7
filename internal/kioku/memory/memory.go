// Package memory implements history compression for long-running sessions.
// Once a session has accumulated Threshold messages, everything but the
// most recent KeepRecent messages is folded into a fixed-shape
// CompressedHistory (summary, core memories, story continuity) and the
// folded messages are handed to an Archive.
//
// Compression is deterministic and heuristic: no model calls, no I/O other
// than the final persist and archive.
package memory

// Config tunes the compression engine. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// Threshold is the MessageCount at which compression triggers.
	// Default: 100.
	Threshold int

	// KeepRecent is the number of most recent raw messages retained.
	// Default: 20.
	KeepRecent int

	// SummarySnippets caps the signal snippets joined into one summary.
	// Default: 5.
	SummarySnippets int

	// SnippetRunes truncates each summary snippet. Default: 50.
	SnippetRunes int

	// MaxMemorableMoments caps StoryContinuity.MemorableMoments. Default: 3.
	MaxMemorableMoments int

	// MaxUserPreferences caps CoreMemories.UserPreferences, both per pass
	// and across merges. Default: 3.
	MaxUserPreferences int
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:           100,
		KeepRecent:          20,
		SummarySnippets:     5,
		SnippetRunes:        50,
		MaxMemorableMoments: 3,
		MaxUserPreferences:  3,
	}
}

// withDefaults fills non-positive fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.KeepRecent <= 0 {
		c.KeepRecent = d.KeepRecent
	}
	if c.SummarySnippets <= 0 {
		c.SummarySnippets = d.SummarySnippets
	}
	if c.SnippetRunes <= 0 {
		c.SnippetRunes = d.SnippetRunes
	}
	if c.MaxMemorableMoments <= 0 {
		c.MaxMemorableMoments = d.MaxMemorableMoments
	}
	if c.MaxUserPreferences <= 0 {
		c.MaxUserPreferences = d.MaxUserPreferences
	}
	return c
}
