package pipeline

import (
	"context"
	"strings"

	"github.com/documind-hq/documind/internal/cite"
	"github.com/documind-hq/documind/internal/search"
	"github.com/documind-hq/documind/internal/store"
)

// SearchOptions configures one query.
type SearchOptions struct {
	// Limit caps the number of results (default 10).
	Limit int

	// Documents restricts results to the named document paths or IDs.
	Documents []string

	// Section restricts results to chunks under a heading trail, e.g.
	// "Returns > Refunds".
	Section string

	// PageMin and PageMax bound results by page number (0 means open).
	PageMin int
	PageMax int

	// LexicalOnly skips the vector branch entirely.
	LexicalOnly bool
}

// Result is one ranked hit.
type Result struct {
	ChunkID        string
	DocumentID     string
	Document       string
	DocumentPath   string
	Page           int
	Section        []string
	Content        string
	Score          float64
	MatchedTerms   []string
	InBothBranches bool
}

// Results is the outcome of one query.
type Results struct {
	Items []Result

	// Degraded is true when one retrieval branch was unavailable and
	// ranking fell back to the surviving signal.
	Degraded bool

	// Warnings carries non-fatal conditions in human-readable form.
	Warnings []string
}

// Span is one answer reference to be verified: a chunk the answer drew
// from, optionally narrowed to a rune range within the chunk. Zero
// Start and End means the whole chunk.
type Span struct {
	ChunkID string
	Start   int
	End     int
}

// Citation is a resolved, verifiable source location.
type Citation struct {
	Formatted  string
	ChunkID    string
	DocumentID string
	Document   string
	Page       int
	Section    []string
	CharStart  int
	CharEnd    int
}

// Citations is the outcome of one Cite call. Spans that could not be
// resolved against the retrieved set are reported as warnings, never
// turned into citations.
type Citations struct {
	Items    []Citation
	Warnings []string
}

// Search runs one hybrid query against the corpus.
//
// Both retrieval branches run concurrently and their rankings are
// fused. If one branch fails the other still answers, with
// Results.Degraded set; only when both fail does Search return a
// *search.SearchUnavailableError.
func (p *Pipeline) Search(ctx context.Context, query string, opts SearchOptions) (*Results, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}

	resp, err := p.engine.Search(ctx, query, p.searchOptions(ctx, opts))
	if err != nil {
		return nil, err
	}
	return p.toResults(ctx, resp), nil
}

// Cite retrieves candidates for the query and resolves the given answer
// spans against them. A citation is only produced for a span whose
// chunk was actually retrieved; everything else becomes a warning.
func (p *Pipeline) Cite(ctx context.Context, query string, spans []Span, limit int) (*Citations, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}

	resp, err := p.engine.Search(ctx, query, p.searchOptions(ctx, SearchOptions{Limit: limit}))
	if err != nil {
		return nil, err
	}

	answerSpans := make([]cite.AnswerSpan, len(spans))
	for i, s := range spans {
		answerSpans[i] = cite.AnswerSpan{ChunkID: s.ChunkID, Start: s.Start, End: s.End}
	}

	citations, warnings := p.resolver.Resolve(ctx, answerSpans, resp.Results)

	out := &Citations{}
	for _, c := range citations {
		out.Items = append(out.Items, Citation{
			Formatted:  c.Format(),
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			Document:   c.DocumentName,
			Page:       c.Page,
			Section:    c.ParagraphPath,
			CharStart:  c.CharRange.Start,
			CharEnd:    c.CharRange.End,
		})
	}
	for _, w := range warnings {
		out.Warnings = append(out.Warnings, w.Message)
	}
	return out, nil
}

func (p *Pipeline) searchOptions(ctx context.Context, opts SearchOptions) search.Options {
	o := search.Options{
		TopK:        opts.Limit,
		LexicalOnly: opts.LexicalOnly,
	}

	f := &store.Filter{
		PageMin: opts.PageMin,
		PageMax: opts.PageMax,
	}
	if opts.Section != "" {
		for _, part := range strings.Split(opts.Section, ">") {
			if part = strings.TrimSpace(part); part != "" {
				f.HierarchyPrefix = append(f.HierarchyPrefix, part)
			}
		}
	}
	for _, ref := range opts.Documents {
		id := ref
		if doc, err := p.metadata.GetDocumentByPath(ctx, ref); err == nil && doc != nil {
			id = doc.ID
		}
		f.DocumentIDs = append(f.DocumentIDs, id)
	}
	if !f.IsZero() {
		o.Filter = f
	}
	return o
}

func (p *Pipeline) toResults(ctx context.Context, resp *search.Response) *Results {
	out := &Results{Degraded: resp.Degraded}
	for _, w := range resp.Warnings {
		out.Warnings = append(out.Warnings, w.Message)
	}

	docNames := map[string][2]string{} // id -> {name, path}
	for _, r := range resp.Results {
		if r == nil || r.Chunk == nil {
			continue
		}
		item := Result{
			ChunkID:        r.Chunk.ID,
			DocumentID:     r.Chunk.DocumentID,
			Page:           r.Chunk.Page,
			Section:        r.Chunk.HierarchyPath,
			Content:        r.Chunk.Text,
			Score:          r.Score,
			MatchedTerms:   r.MatchedTerms,
			InBothBranches: r.InBothBranches,
		}
		namePath, ok := docNames[r.Chunk.DocumentID]
		if !ok {
			if doc, err := p.metadata.GetDocument(ctx, r.Chunk.DocumentID); err == nil && doc != nil {
				namePath = [2]string{doc.Name, doc.Path}
			}
			docNames[r.Chunk.DocumentID] = namePath
		}
		item.Document = namePath[0]
		item.DocumentPath = namePath[1]
		out.Items = append(out.Items, item)
	}
	return out
}
