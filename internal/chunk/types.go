package chunk

import "fmt"

// Chunk size defaults. These correspond to roughly 1000 characters per
// chunk with 200 characters of overlap at the four-chars-per-token
// approximation used across the pipeline.
const (
	DefaultMaxTokens     = 250 // ~1000 chars, keeps sections addressable
	DefaultOverlapTokens = 50  // ~20% overlap between consecutive chunks
	DefaultMinTokens     = 25  // Minimum viable chunk, smaller tails are merged
	TokensPerChar        = 4   // Rough approximation: 4 chars = 1 token
)

// Strategy selects how a document tree is cut into chunks.
type Strategy string

const (
	// StrategyFixed slides fixed-size windows over the raw text and
	// ignores document structure entirely.
	StrategyFixed Strategy = "fixed"

	// StrategyStructure packs whole structural blocks (paragraphs, lists,
	// tables) and never cuts inside a sentence. Blocks that no separator
	// can reduce are emitted oversized.
	StrategyStructure Strategy = "structure"

	// StrategyHybrid behaves like StrategyStructure but falls back to
	// fixed windows for blocks that cannot be split on any separator.
	StrategyHybrid Strategy = "hybrid"
)

// Chunk is a retrievable unit of document content.
//
// Text is always the exact substring of the source document between
// StartOffset and EndOffset, so a chunk can be located in its document
// (and cited) without re-running the chunker.
type Chunk struct {
	ID            string   // "<document_id>_chunk_<sequence_index>"
	DocumentID    string   // Owning document
	Text          string   // Exact substring of the document text
	StartOffset   int      // Byte offset into the document text, inclusive
	EndOffset     int      // Byte offset into the document text, exclusive
	HierarchyPath []string // Section titles from outermost to innermost
	Page          int      // 1-indexed page at StartOffset
	SequenceIndex int      // Position within the document, 0-indexed
	Truncated     bool     // A fixed-window cut landed mid-sentence
	TokenCount    int      // Estimated tokens in Text
}

// Options configures the chunking engine.
type Options struct {
	Strategy      Strategy // Default: StrategyHybrid
	MaxTokens     int      // Maximum tokens per chunk (default: DefaultMaxTokens)
	OverlapTokens int      // Overlap between consecutive chunks (default: DefaultOverlapTokens)
	MinTokens     int      // Trailing chunks below this are merged back (default: DefaultMinTokens)
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Strategy:      StrategyHybrid,
		MaxTokens:     DefaultMaxTokens,
		OverlapTokens: DefaultOverlapTokens,
		MinTokens:     DefaultMinTokens,
	}
}

func (o Options) withDefaults() Options {
	if o.Strategy == "" {
		o.Strategy = StrategyHybrid
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.OverlapTokens == 0 {
		o.OverlapTokens = DefaultOverlapTokens
	}
	if o.MinTokens == 0 {
		o.MinTokens = DefaultMinTokens
	}
	return o
}

func (o Options) validate() error {
	switch o.Strategy {
	case StrategyFixed, StrategyStructure, StrategyHybrid:
	default:
		return fmt.Errorf("unknown chunking strategy %q", o.Strategy)
	}
	if o.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be positive, got %d", o.MaxTokens)
	}
	if o.OverlapTokens < 0 {
		return fmt.Errorf("overlap tokens must not be negative, got %d", o.OverlapTokens)
	}
	if o.OverlapTokens >= o.MaxTokens {
		return fmt.Errorf("overlap tokens (%d) must be smaller than max tokens (%d)", o.OverlapTokens, o.MaxTokens)
	}
	if o.MinTokens > o.MaxTokens {
		return fmt.Errorf("min tokens (%d) must not exceed max tokens (%d)", o.MinTokens, o.MaxTokens)
	}
	return nil
}

// ChunkID builds the stable identifier for a chunk. IDs are derived from
// the document ID and the chunk's position, so re-ingesting an unchanged
// document yields the same IDs.
func ChunkID(documentID string, sequenceIndex int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, sequenceIndex)
}

// EstimateTokens estimates the number of tokens in text, rounding up so
// that short fragments still count as at least one token.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + TokensPerChar - 1) / TokensPerChar
}
