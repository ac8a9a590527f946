package store

import (
	"strings"
	"unicode/utf8"
)

// snippetWidth is the target snippet length in bytes.
const snippetWidth = 200

// Snippet returns a window of text around the first occurrence of any of
// terms, or the start of text when none occurs. Whitespace is collapsed.
func Snippet(text string, terms []string) string {
	lower := strings.ToLower(text)
	at := -1
	for _, t := range terms {
		if t == "" {
			continue
		}
		if i := strings.Index(lower, strings.ToLower(t)); i >= 0 && (at < 0 || i < at) {
			at = i
		}
	}

	start := 0
	if at > snippetWidth/4 {
		start = at - snippetWidth/4
	}
	end := start + snippetWidth
	if end > len(text) {
		end = len(text)
	}
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}

	out := strings.Join(strings.Fields(text[start:end]), " ")
	if start > 0 {
		out = "..." + out
	}
	if end < len(text) {
		out += "..."
	}
	return out
}
