package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	// DocumentTokenizerName is the name of our prose tokenizer.
	DocumentTokenizerName = "document_tokenizer"

	// DocumentStopFilterName is the name of our stop word filter.
	DocumentStopFilterName = "document_stop"

	// DocumentAnalyzerName is the name of our prose analyzer.
	DocumentAnalyzerName = "document_analyzer"
)

func init() {
	// Register custom tokenizer
	_ = registry.RegisterTokenizer(DocumentTokenizerName, documentTokenizerConstructor)

	// Register custom stop word filter
	_ = registry.RegisterTokenFilter(DocumentStopFilterName, documentStopFilterConstructor)
}

// BleveLexicalIndex wraps Bleve v2 for BM25 keyword search.
type BleveLexicalIndex struct {
	mu        sync.RWMutex
	index     bleve.Index
	path      string
	config    LexicalConfig
	closed    bool
	stopWords map[string]struct{}
}

// bleveChunk is the document structure for Bleve indexing. Provenance fields
// use keyword or numeric mappings so filters can match them exactly.
type bleveChunk struct {
	Content    string `json:"content"`
	DocumentID string `json:"document_id"`
	Hierarchy  string `json:"hierarchy"`
	Page       int    `json:"page"`
}

// validateBleveIntegrity checks if a Bleve index is valid before opening.
// Returns nil if valid, error describing corruption if not. Corruption shows
// up in practice after a process is killed mid-write.
func validateBleveIntegrity(path string) error {
	// Check if index directory exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Index doesn't exist, will be created
	}

	// Check 1: index_meta.json exists and is non-empty
	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		// index_meta.json missing means index is incomplete/corrupted
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	// Check 2: Validate JSON is parseable
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}

	return nil
}

// isBleveCorruptionError checks if an error indicates Bleve index corruption.
func isBleveCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		strings.Contains(errStr, "no such file or directory") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewBleveLexicalIndex creates a new Bleve-backed lexical index.
// If path is empty, creates an in-memory index.
// Validates index integrity before opening and auto-recovers from corruption.
func NewBleveLexicalIndex(path string, config LexicalConfig) (*BleveLexicalIndex, error) {
	indexMapping, err := createLexicalMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		// In-memory index for testing
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		// Create directory if needed
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateBleveIntegrity(path); validErr != nil {
			slog.Warn("lexical_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			// Auto-clear corrupted index
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("lexical index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			slog.Info("lexical_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reingest"))
		}

		// Try to open existing index first
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			// Create new index
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isBleveCorruptionError(err) {
			slog.Warn("lexical_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))

			// Clear and recreate
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("lexical index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			slog.Info("lexical_index_cleared",
				slog.String("path", path),
				slog.String("reason", "open failed with corruption, please reingest"))

			// Create fresh index
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveLexicalIndex{
		index:     idx,
		path:      path,
		config:    config,
		stopWords: BuildStopWordMap(config.StopWords),
	}, nil
}

// createLexicalMapping creates the Bleve index mapping. Content goes through
// the prose analyzer; provenance fields are mapped keyword/numeric so term,
// prefix, and range queries match them without analysis.
func createLexicalMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	// Register custom analyzer
	err := indexMapping.AddCustomAnalyzer(DocumentAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": DocumentTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			DocumentStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	indexMapping.DefaultAnalyzer = DocumentAnalyzerName

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = DocumentAnalyzerName

	docIDField := bleve.NewKeywordFieldMapping()
	hierarchyField := bleve.NewKeywordFieldMapping()
	pageField := bleve.NewNumericFieldMapping()

	chunkMapping := bleve.NewDocumentMapping()
	chunkMapping.AddFieldMappingsAt("content", contentField)
	chunkMapping.AddFieldMappingsAt("document_id", docIDField)
	chunkMapping.AddFieldMappingsAt("hierarchy", hierarchyField)
	chunkMapping.AddFieldMappingsAt("page", pageField)
	indexMapping.DefaultMapping = chunkMapping

	return indexMapping, nil
}

// Upsert adds entries to the index. Bleve batches replace by ID natively.
func (b *BleveLexicalIndex) Upsert(ctx context.Context, entries []*LexicalEntry) error {
	if len(entries) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, entry := range entries {
		doc := bleveChunk{
			Content:    entry.Text,
			DocumentID: entry.DocumentID,
			Hierarchy:  joinHierarchy(entry.HierarchyPath),
			Page:       entry.Page,
		}
		if err := batch.Index(entry.ChunkID, doc); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", entry.ChunkID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}

	return nil
}

// Query returns chunks matching the query text, scored by BM25.
// Filter predicates become must-clauses of a boolean query so Bleve narrows
// the candidate set before selecting the top hits.
func (b *BleveLexicalIndex) Query(ctx context.Context, queryStr string, topK int, filter *Filter) ([]*LexicalResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if filter == nil {
		filter = &Filter{}
	}

	// Handle empty query
	if topK <= 0 || strings.TrimSpace(queryStr) == "" {
		return []*LexicalResult{}, nil
	}

	// Match query goes through the prose analyzer
	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("content")

	var searchQuery query.Query = matchQuery
	if !filter.IsZero() {
		boolQuery := bleve.NewBooleanQuery()
		boolQuery.AddMust(matchQuery)

		if len(filter.DocumentIDs) > 0 {
			anyDoc := bleve.NewDisjunctionQuery()
			for _, id := range filter.DocumentIDs {
				tq := bleve.NewTermQuery(id)
				tq.SetField("document_id")
				anyDoc.AddQuery(tq)
			}
			boolQuery.AddMust(anyDoc)
		}
		if len(filter.HierarchyPrefix) > 0 {
			// Exact trail or any deeper trail. The separator byte keeps
			// element boundaries intact.
			joined := joinHierarchy(filter.HierarchyPrefix)
			exact := bleve.NewTermQuery(joined)
			exact.SetField("hierarchy")
			deeper := bleve.NewPrefixQuery(joined + hierarchySep)
			deeper.SetField("hierarchy")
			boolQuery.AddMust(bleve.NewDisjunctionQuery(exact, deeper))
		}
		if filter.PageMin > 0 || filter.PageMax > 0 {
			var lo, hi *float64
			if filter.PageMin > 0 {
				v := float64(filter.PageMin)
				lo = &v
			}
			if filter.PageMax > 0 {
				v := float64(filter.PageMax)
				hi = &v
			}
			incl := true
			pq := bleve.NewNumericRangeInclusiveQuery(lo, hi, &incl, &incl)
			pq.SetField("page")
			boolQuery.AddMust(pq)
		}

		searchQuery = boolQuery
	}

	searchRequest := bleve.NewSearchRequest(searchQuery)
	searchRequest.Size = topK
	searchRequest.IncludeLocations = true // For matched terms

	result, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*LexicalResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &LexicalResult{
			ChunkID:      hit.ID,
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
		})
	}

	return results, nil
}

// Delete removes chunks from the index.
func (b *BleveLexicalIndex) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	return nil
}

// AllIDs returns all chunk IDs in the index.
// Used for consistency checking between stores.
func (b *BleveLexicalIndex) AllIDs() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}

	// Use a MatchAllQuery to get all documents
	query := bleve.NewMatchAllQuery()
	docCount, _ := b.index.DocCount()

	req := bleve.NewSearchRequest(query)
	req.Size = int(docCount)
	req.Fields = []string{} // Only need IDs, not content

	result, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search for all IDs: %w", err)
	}

	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}

	return ids, nil
}

// Stats returns index statistics.
func (b *BleveLexicalIndex) Stats() *LexicalStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return &LexicalStats{}
	}

	docCount, _ := b.index.DocCount()

	return &LexicalStats{
		ChunkCount: int(docCount),
		// Note: Bleve doesn't directly expose term count and avg doc length
	}
}

// Flush is a no-op: Bleve persists batches as they commit.
func (b *BleveLexicalIndex) Flush() error {
	return nil
}

// Close closes the index.
func (b *BleveLexicalIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// extractMatchedTerms extracts matched terms from a search hit.
func extractMatchedTerms(hit *search.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field == "content" {
			for term := range locations {
				terms[term] = struct{}{}
			}
		}
	}

	result := make([]string, 0, len(terms))
	for term := range terms {
		result = append(result, term)
	}
	return result
}

// Verify interface implementation
var _ LexicalIndex = (*BleveLexicalIndex)(nil)

// documentTokenizerConstructor creates the prose tokenizer for Bleve.
func documentTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveDocumentTokenizer{}, nil
}

// bleveDocumentTokenizer implements analysis.Tokenizer over TokenizeText.
type bleveDocumentTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *bleveDocumentTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := TokenizeText(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0

	for _, token := range tokens {
		// Find token position in original text (case-insensitive search)
		start := strings.Index(strings.ToLower(text[offset:]), token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}

	return result
}

// documentStopFilterConstructor creates the stop word filter for Bleve.
func documentStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveStopFilter{
		stopWords: BuildStopWordMap(DefaultStopWords),
	}, nil
}

// bleveStopFilter implements analysis.TokenFilter for English stop words.
type bleveStopFilter struct {
	stopWords map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *bleveStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		term := strings.ToLower(string(token.Term))
		if _, isStop := f.stopWords[term]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
