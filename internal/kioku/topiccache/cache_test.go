package topiccache

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/Kioku/internal/kioku/knowledge"
)

// countingSearcher wraps an index and records every query.
type countingSearcher struct {
	ix *knowledge.Index

	mu      sync.Mutex
	queries []string
}

func (s *countingSearcher) Search(query, characterID string, maxResults int) []knowledge.Item {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	return s.ix.Search(query, characterID, maxResults)
}

func (s *countingSearcher) count(query string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queries {
		if q == query {
			n++
		}
	}
	return n
}

func historyIndex(t *testing.T) *knowledge.Index {
	t.Helper()
	ix := knowledge.NewIndex(nil)
	items := []knowledge.Item{
		{ID: "yu-1", Title: "유관순의 생애", Content: "유관순은 이화학당 학생이었다.", Keywords: []string{"유관순"}, Category: "person"},
		{ID: "yu-2", Title: "아우내 만세운동", Content: "유관순이 주도한 아우내 장터 만세운동.", Keywords: []string{"아우내", "유관순"}, Category: "event"},
		{ID: "sam-1", Title: "3·1 운동", Content: "1919년 3월 1일 시작된 독립운동.", Keywords: []string{"3·1 운동", "독립선언서"}, Category: "event"},
		{ID: "kim-1", Title: "김구", Content: "대한민국 임시정부 주석.", Keywords: []string{"김구", "백범"}, Category: "person"},
	}
	if err := ix.Load("yu_gwansun", items); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return ix
}

func newTestCache(t *testing.T, cfg Config) (*Cache, *countingSearcher) {
	t.Helper()
	s := &countingSearcher{ix: historyIndex(t)}
	return New(s, nil, cfg, nil), s
}

func TestSeedFromGreeting(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())

	added := c.SeedFromGreeting("s-1", "안녕하세요, 저는 유관순입니다.", "yu_gwansun")
	if len(added) == 0 {
		t.Fatal("expected items seeded from the greeting")
	}
	snap, ok := c.Snapshot("s-1")
	if !ok {
		t.Fatal("no cache after seeding")
	}
	if _, cached := snap.KnowledgeBase["유관순"]; !cached {
		t.Errorf("topic 유관순 not cached: %v", snap.KnowledgeBase)
	}
	if snap.TotalItems != len(added) {
		t.Errorf("total items: got %d, want %d", snap.TotalItems, len(added))
	}
	if len(snap.TopicHistory) != 1 || snap.TopicHistory[0].Source != "greeting" {
		t.Errorf("topic history: %+v", snap.TopicHistory)
	}
	if got := snap.TopicHistory[0].MessageContext; got != "안녕하세요, 저는 유관순입니다." {
		t.Errorf("message context: got %q", got)
	}

	// Seeding the same topics again adds nothing.
	if again := c.SeedFromGreeting("s-1", "유관순입니다", "yu_gwansun"); len(again) != 0 {
		t.Errorf("re-seed added %d items", len(again))
	}
}

func TestGetRelevant_UnknownSession(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())

	got := c.GetRelevant("nope", "유관순의 활동")
	if got == nil || len(got) != 0 {
		t.Errorf("cache miss: got %v, want empty slice", got)
	}
	if c.Has("nope") {
		t.Error("a lookup must not create a cache")
	}
}

func TestGetRelevant_OnlyRelatedTopics(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())
	c.SeedFromGreeting("s-1", "저는 유관순입니다.", "yu_gwansun")

	if got := c.GetRelevant("s-1", "오늘 날씨가 좋네요"); len(got) != 0 {
		t.Errorf("unrelated message: got %d items", len(got))
	}

	got := c.GetRelevant("s-1", "유관순의 활동")
	if len(got) == 0 {
		t.Fatal("expected items for a message naming the topic")
	}
	for _, it := range got {
		if it.CacheTopic != "유관순" {
			t.Errorf("cache topic: got %q", it.CacheTopic)
		}
		if it.RelevanceScore != 1.0 {
			t.Errorf("relevance: got %v, want 1.0 (capped)", it.RelevanceScore)
		}
	}
}

func TestRelevance(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())
	lex := c.Lexicon()

	tests := []struct {
		name    string
		topic   string
		message string
		want    float64
	}{
		{"extracted and verbatim", "유관순", "유관순의 활동", 1.0},
		{"related only", "유관순", "이화학당은 어떤 곳이었나요", 0.3},
		{"historical with cue", "3·1 운동", "그 운동은 언제였나요", 0.2},
		{"verbatim and cue", "3·1 운동", "3·1 운동 당시", 1.0},
		{"nothing", "김구", "파이썬 변수", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Relevance(tt.topic, lex.ExtractTopics(tt.message), tt.message)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Relevance(%q, %q): got %v, want %v", tt.topic, tt.message, got, tt.want)
			}
		})
	}
}

func TestAddIncremental_NoDuplicateLookups(t *testing.T) {
	c, s := newTestCache(t, DefaultConfig())
	c.SeedFromGreeting("s-1", "저는 유관순입니다.", "yu_gwansun")

	got := c.AddIncremental("s-1", "유관순은 3·1 운동 때 무엇을 했나요?", "yu_gwansun")
	if len(got) == 0 {
		t.Fatal("expected relevant items")
	}
	if n := s.count("유관순"); n != 1 {
		t.Errorf("유관순 looked up %d times, want 1", n)
	}
	if n := s.count("3·1 운동"); n != 1 {
		t.Errorf("3·1 운동 looked up %d times, want 1", n)
	}

	c.AddIncremental("s-1", "3·1 운동 이야기 더 해주세요", "yu_gwansun")
	if n := s.count("3·1 운동"); n != 1 {
		t.Errorf("3·1 운동 looked up again (%d)", n)
	}
	if len(got) > 5 {
		t.Errorf("got %d items, want at most 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].RelevanceScore > got[i-1].RelevanceScore {
			t.Errorf("results not sorted by relevance at %d", i)
		}
	}
}

func TestAddIncremental_ReturnsRelevantWithoutNewTopics(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())
	c.SeedFromGreeting("s-1", "저는 유관순입니다.", "yu_gwansun")

	got := c.AddIncremental("s-1", "유관순 이야기 계속해 주세요", "yu_gwansun")
	if len(got) == 0 {
		t.Error("expected cached items even though no topic is new")
	}
}

func TestAddIncremental_RecordsMessageContext(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())
	msg := "김구 선생님은 " + strings.Repeat("임시정부에서 어떤 일을 하셨나요? ", 5) + "자세히 알려주세요."
	c.AddIncremental("s-1", msg, "yu_gwansun")

	snap, ok := c.Snapshot("s-1")
	if !ok {
		t.Fatal("no cache after AddIncremental")
	}
	want := string([]rune(msg)[:contextRunes]) + "..."
	found := false
	for _, te := range snap.TopicHistory {
		if te.Topic != "김구" {
			continue
		}
		found = true
		if te.Source != "message" {
			t.Errorf("source: got %q, want %q", te.Source, "message")
		}
		if te.MessageContext != want {
			t.Errorf("message context: got %q, want %q", te.MessageContext, want)
		}
	}
	if !found {
		t.Fatalf("topic 김구 not recorded: %+v", snap.TopicHistory)
	}
}

func TestAdmit_SoftCap(t *testing.T) {
	ix := knowledge.NewIndex(nil)
	var items []knowledge.Item
	for i := 0; i < 10; i++ {
		items = append(items, knowledge.Item{
			ID:       fmt.Sprintf("k-%d", i),
			Title:    fmt.Sprintf("item %d", i),
			Content:  "c",
			Keywords: []string{"유관순", "김구", "안중근"},
			Category: "x",
		})
	}
	if err := ix.Load("c1", items); err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := New(ix, nil, Config{MaxItems: 4, PerTopicResults: 3}, nil)

	c.AddIncremental("s-1", "유관순 김구 안중근", "c1")
	snap, _ := c.Snapshot("s-1")
	// 3 items for the first topic, 3 more for the second push the total
	// over the cap, then admission stops.
	if snap.TotalItems != 6 || len(snap.TopicHistory) != 2 {
		t.Errorf("total %d, topics %d; want 6 and 2", snap.TotalItems, len(snap.TopicHistory))
	}
}

func TestDropAndIdleEviction(t *testing.T) {
	c, _ := newTestCache(t, Config{IdleTTL: 50 * time.Millisecond})
	c.SeedFromGreeting("s-1", "저는 유관순입니다.", "yu_gwansun")
	c.SeedFromGreeting("s-2", "저는 유관순입니다.", "yu_gwansun")

	c.Drop("s-1")
	if c.Has("s-1") {
		t.Error("dropped cache still present")
	}

	time.Sleep(120 * time.Millisecond)
	if c.Has("s-2") {
		t.Error("idle cache not evicted")
	}
	if got := c.GetRelevant("s-2", "유관순의 활동"); len(got) != 0 {
		t.Error("evicted cache must behave as empty")
	}
}

func TestCache_ConcurrentSessions(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i%5)
			c.AddIncremental(id, "유관순은 3·1 운동 때 무엇을 했나요?", "yu_gwansun")
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		snap, ok := c.Snapshot(fmt.Sprintf("s-%d", i))
		if !ok {
			t.Fatalf("s-%d missing", i)
		}
		if len(snap.TopicHistory) != 2 {
			t.Errorf("s-%d: %d topics, want 2", i, len(snap.TopicHistory))
		}
	}
}
