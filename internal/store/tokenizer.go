package store

import (
	"regexp"
	"strings"
)

// tokenRegex matches word sequences: letters and digits, with embedded
// apostrophes so contractions stay whole ("doesn't" -> "doesn't").
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+(?:'[a-zA-Z]+)?`)

// TokenizeText splits prose into lowercase tokens for BM25 indexing.
// Punctuation is dropped and tokens shorter than 2 characters are filtered.
// Unlike code tokenizers there is no camelCase splitting: document text is
// natural language, and splitting product names like "PowerPoint" would
// scatter their signal.
func TokenizeText(text string) []string {
	var tokens []string

	words := tokenRegex.FindAllString(text, -1)
	for _, word := range words {
		lower := strings.ToLower(word)
		if len(lower) >= 2 {
			tokens = append(tokens, lower)
		}
	}

	return tokens
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		lower := strings.ToLower(token)
		if _, isStop := stopWords[lower]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a map for efficient lookup.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
