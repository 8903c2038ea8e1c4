package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "simple sentence",
			input:    "The refund policy applies",
			expected: []string{"the", "refund", "policy", "applies"},
		},
		{
			name:     "punctuation dropped",
			input:    "Refunds, returns; exchanges.",
			expected: []string{"refunds", "returns", "exchanges"},
		},
		{
			name:     "short tokens filtered",
			input:    "a I of an ok",
			expected: []string{"of", "an", "ok"},
		},
		{
			name:     "digits kept",
			input:    "Q3 2024 revenue grew 12%",
			expected: []string{"q3", "2024", "revenue", "grew", "12"},
		},
		{
			name:     "hyphenated words split",
			input:    "long-term on-site",
			expected: []string{"long", "term", "on", "site"},
		},
		{
			name:     "contractions stay whole",
			input:    "doesn't shouldn't",
			expected: []string{"doesn't", "shouldn't"},
		},
		{
			name:     "empty input",
			input:    "",
			expected: nil,
		},
		{
			name:     "whitespace only",
			input:    "   \t\n  ",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TokenizeText(tt.input))
		})
	}
}

// Product and file names must stay one token. A camelCase splitter would
// scatter "PowerPoint" into "power" and "point" and dilute its signal.
func TestTokenizeText_KeepsProductNamesWhole(t *testing.T) {
	tokens := TokenizeText("Install PowerPoint and OneDrive")
	assert.Equal(t, []string{"install", "powerpoint", "and", "onedrive"}, tokens)
}

func TestFilterStopWords(t *testing.T) {
	stopWords := BuildStopWordMap(DefaultStopWords)

	tokens := []string{"the", "refund", "policy", "for", "enterprise", "customers"}
	filtered := FilterStopWords(tokens, stopWords)

	assert.Equal(t, []string{"refund", "policy", "enterprise", "customers"}, filtered)
}

func TestFilterStopWords_PreservesCase(t *testing.T) {
	stopWords := BuildStopWordMap([]string{"the"})

	// Matching is case-insensitive but surviving tokens keep their case.
	filtered := FilterStopWords([]string{"The", "Refund"}, stopWords)
	assert.Equal(t, []string{"Refund"}, filtered)
}

func TestFilterStopWords_AllStopWords(t *testing.T) {
	stopWords := BuildStopWordMap(DefaultStopWords)

	filtered := FilterStopWords([]string{"the", "and", "of"}, stopWords)
	assert.Empty(t, filtered)
}

func TestBuildStopWordMap(t *testing.T) {
	m := BuildStopWordMap([]string{"The", "AND"})

	_, hasThe := m["the"]
	_, hasAnd := m["and"]
	assert.True(t, hasThe, "keys should be lowercased")
	assert.True(t, hasAnd, "keys should be lowercased")
	assert.Len(t, m, 2)
}
