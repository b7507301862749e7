// Package topiccache keeps a per-session cache of knowledge items keyed by
// conversation topic, so each turn looks up only topics it has not seen.
//
// Caches live in process memory only. A restart or an idle eviction is
// equivalent to the session starting with an empty cache.
package topiccache

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/bdobrica/Kioku/common/redact"
	"github.com/bdobrica/Kioku/internal/kioku/knowledge"
	"github.com/bdobrica/Kioku/internal/kioku/metrics"
)

// Searcher is the knowledge lookup the cache fills itself from.
type Searcher interface {
	Search(query, characterID string, maxResults int) []knowledge.Item
}

// Config tunes the cache.
type Config struct {
	// MaxItems is the soft cap on cached items per session. Once reached,
	// no new topics are admitted. Default: 50.
	MaxItems int `yaml:"max_items"`

	// PerTopicResults is the search depth for each new topic. Default: 3.
	PerTopicResults int `yaml:"per_topic_results"`

	// MaxRelevant caps GetRelevant results. Default: 5.
	MaxRelevant int `yaml:"max_relevant"`

	// IdleTTL evicts caches not touched for this long. Default: 1h.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxItems:        50,
		PerTopicResults: 3,
		MaxRelevant:     5,
		IdleTTL:         time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxItems <= 0 {
		c.MaxItems = d.MaxItems
	}
	if c.PerTopicResults <= 0 {
		c.PerTopicResults = d.PerTopicResults
	}
	if c.MaxRelevant <= 0 {
		c.MaxRelevant = d.MaxRelevant
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = d.IdleTTL
	}
	return c
}

// Relevance weights and the inclusion threshold.
const (
	weightExtracted  = 0.8
	weightVerbatim   = 0.6
	weightRelated    = 0.3
	weightHistorical = 0.2

	RelevanceThreshold = 0.3
)

// CachedItem is a knowledge item returned from the cache, tagged with the
// topic it was cached under and its relevance to the current message.
type CachedItem struct {
	knowledge.Item
	CacheTopic     string  `json:"cache_topic"`
	RelevanceScore float64 `json:"relevance_score"`
}

// TopicEntry records when a topic was admitted.
type TopicEntry struct {
	Topic          string    `json:"topic"`
	Source         string    `json:"source"` // "greeting" or "message"
	MessageContext string    `json:"message_context"`
	Items          int       `json:"items"`
	AddedAt        time.Time `json:"added_at"`
}

// contextRunes caps TopicEntry.MessageContext.
const contextRunes = 50

// SessionCache is the cached state of one session.
type SessionCache struct {
	KnowledgeBase map[string][]knowledge.Item `json:"knowledge_base"`
	TopicHistory  []TopicEntry                `json:"topic_history"`
	LastUpdated   time.Time                   `json:"last_updated"`
	TotalItems    int                         `json:"total_items"`
}

type entry struct {
	mu    sync.Mutex
	state SessionCache
}

// Cache is the registry of per-session caches. Each session's cache is
// guarded by its own mutex; different sessions never contend.
type Cache struct {
	index   Searcher
	lexicon *Lexicon
	cfg     Config
	logger  *slog.Logger

	mu       sync.Mutex // guards get-or-create on sessions
	sessions *gocache.Cache

	now func() time.Time
}

// New creates a Cache. A nil lexicon means DefaultLexicon; a nil logger
// means the default slog logger.
func New(index Searcher, lexicon *Lexicon, cfg Config, logger *slog.Logger) *Cache {
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	sessions := gocache.New(cfg.IdleTTL, cfg.IdleTTL/2)
	sessions.OnEvicted(func(string, interface{}) {
		metrics.TopicCacheSessions.Dec()
	})

	return &Cache{
		index:    index,
		lexicon:  lexicon,
		cfg:      cfg,
		logger:   logger,
		sessions: sessions,
		now:      time.Now,
	}
}

// Lexicon returns the vocabulary the cache extracts topics with.
func (c *Cache) Lexicon() *Lexicon { return c.lexicon }

// ExtractTopics extracts topics from text with the cache's lexicon.
func (c *Cache) ExtractTopics(text string) []string {
	return c.lexicon.ExtractTopics(text)
}

// lookup returns the session's entry, refreshing its idle timer. With
// create set, a missing entry is created.
func (c *Cache) lookup(sessionID string, create bool) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.sessions.Get(sessionID); ok {
		e := v.(*entry)
		c.sessions.SetDefault(sessionID, e)
		return e
	}
	if !create {
		return nil
	}
	e := &entry{state: SessionCache{KnowledgeBase: map[string][]knowledge.Item{}}}
	c.sessions.SetDefault(sessionID, e)
	metrics.TopicCacheSessions.Inc()
	return e
}

// SeedFromGreeting caches the topics of a character's greeting. It returns
// every newly cached item.
func (c *Cache) SeedFromGreeting(sessionID, greeting, characterID string) []knowledge.Item {
	e := c.lookup(sessionID, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	return c.admit(e, c.lexicon.ExtractTopics(greeting), greeting, characterID, "greeting")
}

// AddIncremental caches the topics of userMessage not cached yet, then
// returns GetRelevant for the message whether or not anything was added.
func (c *Cache) AddIncremental(sessionID, userMessage, characterID string) []CachedItem {
	e := c.lookup(sessionID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	topics := c.lexicon.ExtractTopics(userMessage)
	if added := c.admit(e, topics, userMessage, characterID, "message"); len(added) > 0 {
		c.logger.Debug("topic cache: admitted topics",
			"session_id", sessionID,
			"items", len(added),
			"total_items", e.state.TotalItems,
		)
	}
	return c.relevant(e, topics, userMessage)
}

// admit searches the index for every topic not yet cached and stores the
// non-empty results, noting the text the topics came from. It stops
// admitting once MaxItems is reached. The caller holds e.mu.
func (c *Cache) admit(e *entry, topics []string, text, characterID, source string) []knowledge.Item {
	added := []knowledge.Item{}
	now := c.now()
	msgContext := redact.Truncate(strings.TrimSpace(text), contextRunes)
	for _, topic := range topics {
		if e.state.TotalItems >= c.cfg.MaxItems {
			break
		}
		if _, cached := e.state.KnowledgeBase[topic]; cached {
			continue
		}
		items := c.index.Search(topic, characterID, c.cfg.PerTopicResults)
		if len(items) == 0 {
			continue
		}
		e.state.KnowledgeBase[topic] = items
		e.state.TopicHistory = append(e.state.TopicHistory, TopicEntry{
			Topic:          topic,
			Source:         source,
			MessageContext: msgContext,
			Items:          len(items),
			AddedAt:        now,
		})
		e.state.TotalItems += len(items)
		added = append(added, items...)
	}
	e.state.LastUpdated = now
	return added
}

// GetRelevant returns at most MaxRelevant cached items relevant to
// userMessage, most relevant first. An unknown session yields an empty
// slice.
func (c *Cache) GetRelevant(sessionID, userMessage string) []CachedItem {
	e := c.lookup(sessionID, false)
	if e == nil {
		metrics.TopicCacheLookups.WithLabelValues("miss").Inc()
		return []CachedItem{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return c.relevant(e, c.lexicon.ExtractTopics(userMessage), userMessage)
}

// Relevance scores one cached topic against a message and the topics
// extracted from it. The result is in [0, 1].
func (c *Cache) Relevance(topic string, extracted []string, message string) float64 {
	score := 0.0
	for _, t := range extracted {
		if t == topic {
			score += weightExtracted
			break
		}
	}
	if containsFold(message, topic) {
		score += weightVerbatim
	}
	if c.lexicon.RelatedMentioned(topic, message) {
		score += weightRelated
	}
	if c.lexicon.HasCue(message) && c.lexicon.IsHistorical(topic) {
		score += weightHistorical
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// relevant ranks the cached topics of e. The caller holds e.mu.
func (c *Cache) relevant(e *entry, extracted []string, message string) []CachedItem {
	out := []CachedItem{}
	seen := make(map[string]struct{})
	for _, h := range e.state.TopicHistory {
		score := c.Relevance(h.Topic, extracted, message)
		if score <= RelevanceThreshold {
			continue
		}
		for _, item := range e.state.KnowledgeBase[h.Topic] {
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			out = append(out, CachedItem{Item: item, CacheTopic: h.Topic, RelevanceScore: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RelevanceScore > out[j].RelevanceScore })
	if len(out) > c.cfg.MaxRelevant {
		out = out[:c.cfg.MaxRelevant]
	}

	outcome := "hit"
	if len(out) == 0 {
		outcome = "empty"
	}
	metrics.TopicCacheLookups.WithLabelValues(outcome).Inc()
	return out
}

// Snapshot returns a copy of a session's cache state.
func (c *Cache) Snapshot(sessionID string) (SessionCache, bool) {
	e := c.lookup(sessionID, false)
	if e == nil {
		return SessionCache{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := SessionCache{
		KnowledgeBase: make(map[string][]knowledge.Item, len(e.state.KnowledgeBase)),
		TopicHistory:  append([]TopicEntry(nil), e.state.TopicHistory...),
		LastUpdated:   e.state.LastUpdated,
		TotalItems:    e.state.TotalItems,
	}
	for k, v := range e.state.KnowledgeBase {
		cp.KnowledgeBase[k] = append([]knowledge.Item(nil), v...)
	}
	return cp, true
}

// Has reports whether a cache exists for sessionID.
func (c *Cache) Has(sessionID string) bool {
	_, ok := c.sessions.Get(sessionID)
	return ok
}

// Drop discards a session's cache.
func (c *Cache) Drop(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions.Delete(sessionID)
}

// Len returns the number of live session caches.
func (c *Cache) Len() int {
	return c.sessions.ItemCount()
}

func containsFold(s, sub string) bool {
	return sub != "" && strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
