package store

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// EnglishStopWords are dropped from indexed text and queries.
var EnglishStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "for",
	"if", "in", "into", "is", "it", "no", "not", "of", "on", "or",
	"such", "that", "the", "their", "then", "there", "these", "they",
	"this", "to", "was", "will", "with",
}

// Token is a lowercased term and its byte range in the source text.
type Token struct {
	Term  string
	Start int
	End   int
}

// Tokenize splits text into letter/digit runs. Runs written in camelCase
// or PascalCase also yield their parts, so "fileIndexer" matches both
// "fileindexer" and "indexer". Single-letter terms are dropped.
func Tokenize(text string) []Token {
	var tokens []Token
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		word := text[start:end]
		parts := splitCamelCase(word)
		if len(parts) > 1 {
			tokens = appendToken(tokens, word, start, end)
		}
		off := start
		for _, p := range parts {
			tokens = appendToken(tokens, p, off, off+len(p))
			off += len(p)
		}
		start = -1
	}

	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(text))
	return tokens
}

func appendToken(tokens []Token, word string, start, end int) []Token {
	first, _ := utf8.DecodeRuneInString(word)
	if utf8.RuneCountInString(word) < 2 && !unicode.IsDigit(first) {
		return tokens
	}
	return append(tokens, Token{Term: strings.ToLower(word), Start: start, End: end})
}

// Terms returns the lowercased terms of text with stop words removed.
func Terms(text string, stopWords map[string]struct{}) []string {
	var terms []string
	for _, t := range Tokenize(text) {
		if _, stop := stopWords[t.Term]; !stop {
			terms = append(terms, t.Term)
		}
	}
	return terms
}

// splitCamelCase splits camelCase and PascalCase words. Acronyms stay
// together: "parseHTTPRequest" -> ["parse", "HTTP", "Request"].
func splitCamelCase(s string) []string {
	runes := []rune(s)
	var result []string
	begin := 0
	for i := 1; i < len(runes); i++ {
		if !unicode.IsUpper(runes[i]) {
			continue
		}
		prevLower := unicode.IsLower(runes[i-1])
		nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1])
		if prevLower || nextLower {
			result = append(result, string(runes[begin:i]))
			begin = i
		}
	}
	return append(result, string(runes[begin:]))
}

// BuildStopWordMap converts a stop word list to a lookup set.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
