package mcp

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query       string   `json:"query" jsonschema:"the search query to execute"`
	Limit       int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10, max 50"`
	Documents   []string `json:"documents,omitempty" jsonschema:"restrict to document paths or IDs (OR logic)"`
	Section     string   `json:"section,omitempty" jsonschema:"restrict to a heading path prefix, segments joined by >"`
	PageMin     int      `json:"page_min,omitempty" jsonschema:"restrict to pages at or after this 1-indexed page"`
	PageMax     int      `json:"page_max,omitempty" jsonschema:"restrict to pages at or before this 1-indexed page"`
	LexicalOnly bool     `json:"lexical_only,omitempty" jsonschema:"skip the semantic branch, exact keyword matching only"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results  []SearchResultOutput `json:"results" jsonschema:"ranked results, best first"`
	Degraded bool                 `json:"degraded,omitempty" jsonschema:"true when one retrieval branch failed and results come from the other"`
	Warnings []string             `json:"warnings,omitempty" jsonschema:"non-fatal issues encountered while searching"`
}

// SearchResultOutput defines a single search result with its provenance.
type SearchResultOutput struct {
	ChunkID        string   `json:"chunk_id" jsonschema:"stable chunk identifier, usable as a citation reference"`
	Document       string   `json:"document" jsonschema:"document display name"`
	DocumentPath   string   `json:"document_path,omitempty" jsonschema:"document path relative to the corpus root"`
	Page           int      `json:"page" jsonschema:"1-indexed page the chunk starts on"`
	Section        string   `json:"section,omitempty" jsonschema:"heading trail from the document root, segments joined by >"`
	Content        string   `json:"content" jsonschema:"matched content"`
	Score          float64  `json:"score" jsonschema:"fused relevance score between 0 and 1"`
	MatchedTerms   []string `json:"matched_terms,omitempty" jsonschema:"query terms that matched this result"`
	InBothBranches bool     `json:"in_both_branches,omitempty" jsonschema:"true if both keyword and semantic retrieval agreed on this chunk"`
}

// CiteInput defines the input schema for the cite tool.
type CiteInput struct {
	Query string      `json:"query" jsonschema:"the query whose results the spans reference"`
	Spans []SpanInput `json:"spans" jsonschema:"answer spans to resolve into citations"`
	Limit int         `json:"limit,omitempty" jsonschema:"how many results to retrieve as the candidate set, default 10"`
}

// SpanInput references a chunk from a prior search, optionally narrowed to
// a rune range within the chunk.
type SpanInput struct {
	ChunkID string `json:"chunk_id" jsonschema:"chunk identifier from a search result"`
	Start   int    `json:"start,omitempty" jsonschema:"rune offset into the chunk text, 0 for whole chunk"`
	End     int    `json:"end,omitempty" jsonschema:"exclusive rune offset, 0 for whole chunk"`
}

// CiteOutput defines the output schema for the cite tool.
type CiteOutput struct {
	Citations []CitationOutput `json:"citations" jsonschema:"resolved citations in document order"`
	Warnings  []string         `json:"warnings,omitempty" jsonschema:"spans that could not be resolved, with reasons"`
}

// CitationOutput is a resolved citation with full provenance.
type CitationOutput struct {
	Formatted string `json:"formatted" jsonschema:"display form, e.g. Refund Policy, Page 3, Section: Returns > Refunds"`
	ChunkID   string `json:"chunk_id"`
	Document  string `json:"document" jsonschema:"document display name"`
	Page      int    `json:"page"`
	Section   string `json:"section,omitempty" jsonschema:"heading trail, segments joined by >"`
	CharStart int    `json:"char_start" jsonschema:"rune offset into the normalized document text"`
	CharEnd   int    `json:"char_end" jsonschema:"exclusive rune offset"`
}

// CorpusStatusInput defines the input schema for the corpus_status tool (no parameters).
type CorpusStatusInput struct{}

// CorpusStatusOutput defines the output schema for the corpus_status tool.
type CorpusStatusOutput struct {
	Corpus     CorpusInfo    `json:"corpus"`
	Stats      CorpusStats   `json:"stats"`
	Embeddings EmbeddingInfo `json:"embeddings"`
}

// CorpusInfo identifies the corpus the server is answering for.
type CorpusInfo struct {
	Name     string `json:"name"`
	RootPath string `json:"root_path"`
}

// CorpusStats contains statistics about the index.
type CorpusStats struct {
	DocumentCount int    `json:"document_count"`
	ChunkCount    int    `json:"chunk_count"`
	VectorCount   int    `json:"vector_count"`
	LastIngest    string `json:"last_ingest,omitempty"`
}

// EmbeddingInfo describes the embedding configuration and runtime state.
// AI clients use the runtime fields to adjust search strategy: static
// embeddings mean semantic recall is poor and lexical_only is a better bet.
type EmbeddingInfo struct {
	// Config values
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Status   string `json:"status"`

	// Runtime state
	ActualModel      string `json:"actual_model"`
	Dimensions       int    `json:"dimensions"`
	IsFallbackActive bool   `json:"is_fallback_active" jsonschema:"true if using static hash embeddings"`
	SemanticQuality  string `json:"semantic_quality" jsonschema:"high (service embeddings) or low (static fallback)"`
}
