// Package redact keeps conversation content and credentials out of log
// output.
//
// Chat messages are user data. Log lines carry their shape (length, a short
// preview at DEBUG) and never the full text; generator API keys are replaced
// outright.
package redact

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Content describes a message body without revealing it, e.g. "[42 chars]".
func Content(s string) string {
	return fmt.Sprintf("[%d chars]", utf8.RuneCountInString(s))
}

// Preview returns at most n runes of s followed by an ellipsis when
// truncated. Newlines are flattened so previews stay on one log line.
func Preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if n <= 0 {
		return Content(s)
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}

// Truncate cuts s to at most n runes, marking the cut with "...". Unlike
// Preview it keeps the original whitespace.
func Truncate(s string, n int) string {
	if n < 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
