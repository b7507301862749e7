package topiccache

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Lexicon is the domain vocabulary topic extraction runs on. It is data,
// not logic: a deployment for another domain or language swaps the file.
type Lexicon struct {
	// Entities are named entities matched verbatim (case-insensitive).
	Entities []string `yaml:"entities"`

	// Suffixes mark compound historical terms such as "<word> 운동". Any
	// word directly followed by one of them (an optional space between)
	// is extracted as a topic.
	Suffixes []string `yaml:"suffixes"`

	// Cues are temporal or interrogative words ("언제", "누구").
	Cues []string `yaml:"cues"`

	// Related maps a topic to terms whose presence in a message makes the
	// topic relevant even when it is not named.
	Related map[string][]string `yaml:"related"`

	suffixRe *regexp.Regexp
}

// compile builds the suffix pattern. It must be called before use.
func (l *Lexicon) compile() error {
	if len(l.Suffixes) == 0 {
		l.suffixRe = nil
		return nil
	}
	quoted := make([]string, 0, len(l.Suffixes))
	for _, s := range l.Suffixes {
		if s = strings.TrimSpace(s); s != "" {
			quoted = append(quoted, regexp.QuoteMeta(s))
		}
	}
	re, err := regexp.Compile(`[0-9A-Za-z가-힣·]+\s?(?:` + strings.Join(quoted, "|") + `)`)
	if err != nil {
		return fmt.Errorf("topiccache: compile suffix pattern: %w", err)
	}
	l.suffixRe = re
	return nil
}

// ParseLexicon decodes a YAML lexicon.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var l Lexicon
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("topiccache: parse lexicon: %w", err)
	}
	if err := l.compile(); err != nil {
		return nil, err
	}
	return &l, nil
}

// LoadLexicon reads a YAML lexicon file.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("topiccache: read lexicon: %w", err)
	}
	return ParseLexicon(data)
}

// ExtractTopics returns the entities, suffix compounds and cue words found
// in text, deduplicated in first-seen order: entities first, then
// compounds, then cues. Text with no match yields an empty slice.
func (l *Lexicon) ExtractTopics(text string) []string {
	out := []string{}
	if strings.TrimSpace(text) == "" {
		return out
	}
	seen := make(map[string]struct{})
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" {
			return
		}
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	lower := strings.ToLower(text)
	for _, e := range l.Entities {
		if e != "" && strings.Contains(lower, strings.ToLower(e)) {
			add(e)
		}
	}
	if l.suffixRe != nil {
		for _, m := range l.suffixRe.FindAllString(text, -1) {
			add(m)
		}
	}
	for _, c := range l.Cues {
		if c != "" && strings.Contains(lower, strings.ToLower(c)) {
			add(c)
		}
	}
	return out
}

// HasCue reports whether text contains a temporal or interrogative cue.
func (l *Lexicon) HasCue(text string) bool {
	lower := strings.ToLower(text)
	for _, c := range l.Cues {
		if c != "" && strings.Contains(lower, strings.ToLower(c)) {
			return true
		}
	}
	return false
}

// IsHistorical reports whether topic carries a historical suffix.
func (l *Lexicon) IsHistorical(topic string) bool {
	for _, s := range l.Suffixes {
		if s != "" && strings.Contains(topic, s) {
			return true
		}
	}
	return false
}

// RelatedMentioned reports whether any related term of topic appears in
// text.
func (l *Lexicon) RelatedMentioned(topic, text string) bool {
	lower := strings.ToLower(text)
	for _, r := range l.Related[topic] {
		if r != "" && strings.Contains(lower, strings.ToLower(r)) {
			return true
		}
	}
	return false
}

// DefaultLexicon returns the built-in vocabulary for modern Korean history.
func DefaultLexicon() *Lexicon {
	l := &Lexicon{
		Entities: []string{
			"유관순", "안중근", "김구", "윤봉길", "이봉창", "안창호", "신채호",
			"이화학당", "아우내", "대한민국 임시정부", "임시정부", "광복군",
			"독립선언서", "일제강점기", "을사늑약", "태극기", "광복",
		},
		Suffixes: []string{"시대", "운동", "전쟁", "사건", "혁명", "의거", "조약"},
		Cues:     []string{"언제", "몇 년", "몇년", "당시", "그때", "누구", "왜", "어떻게", "무엇"},
		Related: map[string][]string{
			"유관순":       {"3·1 운동", "이화학당", "아우내", "독립운동"},
			"안중근":       {"이토 히로부미", "하얼빈", "의거"},
			"김구":        {"임시정부", "백범", "한인애국단"},
			"윤봉길":       {"훙커우", "도시락 폭탄", "한인애국단"},
			"3·1 운동":    {"유관순", "독립선언서", "만세", "1919"},
			"대한민국 임시정부": {"상하이", "김구", "1919"},
			"광복":        {"1945", "해방", "8·15"},
		},
	}
	// The built-in suffixes are plain words; compile cannot fail.
	_ = l.compile()
	return l
}
