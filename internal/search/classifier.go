package search

import (
	"context"
	"regexp"
	"strings"
)

// Query shape patterns. Compiled once; classification happens on every
// search so this path stays allocation-light.
var (
	// Ticket, error, and product codes: ERR-1042, SKU_9981, RFC 7231.
	codePattern = regexp.MustCompile(`\b[A-Z]{2,}[-_ ]?\d{2,}\b`)

	// Quoted phrases signal exact-match intent.
	quotedPattern = regexp.MustCompile(`"[^"]+"|'[^']+'`)

	// Path-like tokens: policies/refunds.md, /etc/config.yaml.
	pathPattern = regexp.MustCompile(`(^|\s)\S*/\S+(\s|$)|\.\w{1,5}(\s|$)`)

	// Identifiers that would be mangled by stemming: camelCase,
	// snake_case, SCREAMING_SNAKE.
	identifierPattern = regexp.MustCompile(`\b[a-z]+[A-Z]\w*\b|\b\w+_\w+\b|\b[A-Z][A-Z0-9]*_[A-Z0-9_]+\b`)

	// Question openers mark natural-language queries.
	questionPattern = regexp.MustCompile(`^(how|what|where|why|when|who|which|can|does|do|is|are|should|will|explain|describe|show|find|list|tell)\b`)
)

// PatternClassifier classifies queries by shape using regular expressions.
// It is deterministic and requires no model calls, so it can run on the
// hot path of every query.
type PatternClassifier struct{}

var _ Classifier = (*PatternClassifier)(nil)

// NewPatternClassifier creates a pattern-based classifier.
func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{}
}

// Classify inspects the query shape. Exact-match signals (codes, quotes,
// paths, identifiers) win over length heuristics: a long sentence that
// quotes a phrase still wants the lexical branch favored.
func (c *PatternClassifier) Classify(_ context.Context, query string) (QueryType, Weights, error) {
	qt := classifyPattern(query)
	return qt, WeightsForQueryType(qt), nil
}

func classifyPattern(query string) QueryType {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return QueryTypeMixed
	}

	if quotedPattern.MatchString(trimmed) ||
		codePattern.MatchString(trimmed) ||
		pathPattern.MatchString(trimmed) {
		return QueryTypeLexical
	}

	words := strings.Fields(trimmed)

	// A bare identifier is a lookup, not a question.
	if len(words) <= 2 && identifierPattern.MatchString(trimmed) {
		return QueryTypeLexical
	}

	if questionPattern.MatchString(strings.ToLower(trimmed)) {
		return QueryTypeSemantic
	}
	if len(words) >= 3 {
		return QueryTypeSemantic
	}
	return QueryTypeMixed
}
