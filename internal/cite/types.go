// Package cite maps answer references back to verifiable source locations.
// A citation is only ever produced for a chunk that was in the candidate
// set the answer was generated from; everything else is rejected with a
// warning, never guessed.
package cite

import (
	"fmt"
	"strings"
)

// AnswerSpan is one reference emitted by the generation step: a chunk the
// answer drew from, optionally narrowed to a range within the chunk text.
// Start and End are rune offsets relative to the chunk; both zero means
// the whole chunk.
type AnswerSpan struct {
	ChunkID string
	Start   int
	End     int
}

// WholeChunk reports whether the span references the entire chunk.
func (s AnswerSpan) WholeChunk() bool {
	return s.Start == 0 && s.End == 0
}

// CharRange is a half-open [Start, End) rune range into the normalized
// source document text.
type CharRange struct {
	Start int
	End   int
}

// Overlaps reports whether two ranges share at least one rune. Adjacent
// ranges do not overlap.
func (r CharRange) Overlaps(other CharRange) bool {
	return r.Start < other.End && other.Start < r.End
}

// union returns the smallest range covering both. Only meaningful for
// overlapping ranges.
func (r CharRange) union(other CharRange) CharRange {
	out := r
	if other.Start < out.Start {
		out.Start = other.Start
	}
	if other.End > out.End {
		out.End = other.End
	}
	return out
}

// Citation is a resolved source location. CharRange is absolute into the
// source document, so a reviewer can open the document and find the exact
// text the answer cited.
type Citation struct {
	ChunkID       string
	DocumentID    string
	DocumentName  string
	Page          int
	ParagraphPath []string
	CharRange     CharRange
}

// Format renders the citation for display:
// "Refund Policy, Page 3, Section: Returns > Refunds".
func (c Citation) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s, Page %d", c.DocumentName, c.Page)
	if len(c.ParagraphPath) > 0 {
		fmt.Fprintf(&b, ", Section: %s", strings.Join(c.ParagraphPath, " > "))
	}
	return b.String()
}

// Warning stage and codes attached to rejected spans.
const (
	Stage = "cite"

	// WarnOutOfSet flags a reference to a chunk that was not in the
	// candidate set. This is the citation-integrity case: the answer
	// names a source it was not shown.
	WarnOutOfSet = "citation_out_of_set"

	// WarnUnmappable flags a candidate whose metadata no longer maps to
	// a document location.
	WarnUnmappable = "citation_unmappable"

	// WarnInvalidSpan flags a span whose range does not fit its chunk.
	WarnInvalidSpan = "citation_invalid_span"
)

// spanState tracks a reference through resolution. Citations are emitted
// only from stateResolved.
type spanState int

const (
	stateUnresolved spanState = iota
	stateMatched
	stateResolved
	stateRejected
)

func (s spanState) String() string {
	switch s {
	case stateUnresolved:
		return "unresolved"
	case stateMatched:
		return "matched"
	case stateResolved:
		return "resolved"
	case stateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}
