package memory

import (
	"fmt"
	"strings"

	"github.com/bdobrica/Kioku/common/redact"
	"github.com/bdobrica/Kioku/internal/kioku/session"
)

// Defaults written into fields no heuristic fired for.
const (
	DefaultLearningStyle        = "Not yet determined"
	DefaultRelationshipDynamic  = "Getting acquainted"
	DefaultEmotionalContext     = "Neutral"
	DefaultCharacterDevelopment = "Character maintaining consistent personality"
	DefaultUserProgression      = "Steady engagement"
	DefaultEmotionalJourney     = "Stable"
)

// Keyword families. Matching is case-insensitive substring on the lowered
// message text; Korean and English cues are mixed in one list.
var (
	requestCues     = []string{"help", "teach", "explain", "how do", "how can", "도와", "가르쳐", "알려", "설명"}
	visualCues      = []string{"show me", "picture", "diagram", "visual", "example", "보여", "그림", "예시", "예를"}
	methodicalCues  = []string{"step by step", "step-by-step", "one by one", "in order", "차근차근", "단계", "하나씩", "순서"}
	confusedCues    = []string{"confused", "don't understand", "dont understand", "do not understand", "헷갈", "모르겠", "이해가 안", "이해 안"}
	thankCues       = []string{"thank", "고마", "감사"}
	helpCues        = []string{"help", "도와", "도움"}
	frustrationCues = []string{"frustrat", "annoy", "difficult", "too hard", "give up", "짜증", "어려워", "힘들", "포기"}
	positiveCues    = []string{"great", "love", "fun", "awesome", "excited", "좋아", "재밌", "재미있", "신나", "최고"}
	preferenceCues  = []string{"i prefer", "i like", "i love", "좋아해", "좋아하는", "선호"}
	praiseCues      = []string{"great job", "good job", "well done", "excellent", "perfect", "잘했", "훌륭", "대단", "멋져", "완벽"}
	breakthroughs   = []string{"finally", "success", "worked", "got it", "드디어", "성공", "됐다", "됐어", "해냈"}
	prideCues       = []string{"proud", "자랑스", "뿌듯"}
)

func containsAny(text string, cues []string) bool {
	for _, c := range cues {
		if strings.Contains(text, c) {
			return true
		}
	}
	return false
}

func countAll(text string, cues []string) int {
	n := 0
	for _, c := range cues {
		n += strings.Count(text, c)
	}
	return n
}

func byRole(msgs []session.Message, role session.Role) []session.Message {
	var out []session.Message
	for _, m := range msgs {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

// summarize joins up to cfg.SummarySnippets signal snippets: requests for
// help/teaching/explanation and anything phrased as a question.
func summarize(older []session.Message, cfg Config) string {
	var snippets []string
	for _, m := range older {
		if len(snippets) >= cfg.SummarySnippets {
			break
		}
		lower := strings.ToLower(m.Content)
		if !containsAny(lower, requestCues) && !strings.ContainsAny(m.Content, "?？") {
			continue
		}
		snippet := strings.Join(strings.Fields(m.Content), " ")
		snippets = append(snippets, redact.Truncate(snippet, cfg.SnippetRunes))
	}
	if len(snippets) == 0 {
		return fmt.Sprintf("Conversation covered %d messages with various topics.", len(older))
	}
	return strings.Join(snippets, "; ")
}

// coreMemories scans user messages for learning style, relationship and
// emotional cues. A later positive signal overrides an earlier frustration
// signal for EmotionalContext.
func coreMemories(older []session.Message, cfg Config) session.CoreMemories {
	cm := session.CoreMemories{
		UserLearningStyle:   DefaultLearningStyle,
		RelationshipDynamic: DefaultRelationshipDynamic,
		UserPreferences:     []string{},
		EmotionalContext:    DefaultEmotionalContext,
	}

	var styles, relations []string
	var frustrated, positive bool
	addUnique := func(list []string, v string) []string {
		for _, x := range list {
			if x == v {
				return list
			}
		}
		return append(list, v)
	}

	for _, m := range byRole(older, session.RoleUser) {
		text := strings.ToLower(m.Content)
		if containsAny(text, visualCues) {
			styles = addUnique(styles, "visual learner")
		}
		if containsAny(text, methodicalCues) {
			styles = addUnique(styles, "methodical, step-by-step")
		}
		if containsAny(text, confusedCues) {
			styles = addUnique(styles, "needs patience")
		}
		if containsAny(text, thankCues) {
			relations = addUnique(relations, "appreciative")
		}
		if containsAny(text, helpCues) {
			relations = addUnique(relations, "mentor and learner")
		}
		if containsAny(text, frustrationCues) {
			frustrated = true
		}
		if containsAny(text, positiveCues) {
			positive = true
		}
		if containsAny(text, preferenceCues) && len(cm.UserPreferences) < cfg.MaxUserPreferences {
			pref := redact.Truncate(strings.Join(strings.Fields(m.Content), " "), cfg.SnippetRunes)
			cm.UserPreferences = addUnique(cm.UserPreferences, pref)
		}
	}

	if len(styles) > 0 {
		cm.UserLearningStyle = strings.Join(styles, ", ")
	}
	if len(relations) > 0 {
		cm.RelationshipDynamic = strings.Join(relations, ", ")
	}
	if frustrated {
		cm.EmotionalContext = "needs encouragement"
	}
	if positive {
		cm.EmotionalContext = "positive and engaged"
	}
	return cm
}

// storyContinuity derives character development, user progression, the
// emotional arc and up to cfg.MaxMemorableMoments memorable moments.
func storyContinuity(older []session.Message, cfg Config) session.StoryContinuity {
	sc := session.StoryContinuity{
		CharacterDevelopment: DefaultCharacterDevelopment,
		UserProgression:      DefaultUserProgression,
		EmotionalJourney:     DefaultEmotionalJourney,
		MemorableMoments:     []string{},
	}

	praise := 0
	for _, m := range byRole(older, session.RoleAssistant) {
		praise += countAll(strings.ToLower(m.Content), praiseCues)
	}
	if praise >= 3 {
		sc.CharacterDevelopment = "Character has been consistently encouraging and supportive"
	}

	users := byRole(older, session.RoleUser)
	if len(users) > 0 {
		first := averageWords(users[:min(5, len(users))])
		last := averageWords(users[max(0, len(users)-5):])
		if first > 0 && last >= first*1.2 {
			sc.UserProgression = "User questions growing in complexity"
		}
	}

	var frustrated, positive bool
	for _, m := range users {
		text := strings.ToLower(m.Content)
		frustrated = frustrated || containsAny(text, frustrationCues)
		positive = positive || containsAny(text, positiveCues)
	}
	switch {
	case frustrated && positive:
		sc.EmotionalJourney = "Worked through frustration toward positive engagement"
	case positive:
		sc.EmotionalJourney = "Consistently positive"
	case frustrated:
		sc.EmotionalJourney = "Facing ongoing challenges"
	}

	for _, m := range older {
		if len(sc.MemorableMoments) >= cfg.MaxMemorableMoments {
			break
		}
		text := strings.ToLower(m.Content)
		snippet := redact.Truncate(strings.Join(strings.Fields(m.Content), " "), cfg.SnippetRunes)
		switch {
		case m.Role == session.RoleUser && containsAny(text, breakthroughs):
			sc.MemorableMoments = append(sc.MemorableMoments, "Breakthrough: "+snippet)
		case m.Role == session.RoleAssistant && containsAny(text, prideCues):
			sc.MemorableMoments = append(sc.MemorableMoments, "Character expressed pride: "+snippet)
		}
	}
	return sc
}

func averageWords(msgs []session.Message) float64 {
	if len(msgs) == 0 {
		return 0
	}
	total := 0
	for _, m := range msgs {
		total += len(strings.Fields(m.Content))
	}
	return float64(total) / float64(len(msgs))
}
