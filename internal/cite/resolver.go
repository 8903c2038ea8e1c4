package cite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/documind-hq/documind/internal/search"
	"github.com/documind-hq/documind/internal/store"
)

// Resolver maps answer spans to citations using the metadata store for
// document names. It is stateless per call.
type Resolver struct {
	metadata store.MetadataStore
}

// NewResolver creates a citation resolver over the metadata store.
func NewResolver(metadata store.MetadataStore) *Resolver {
	return &Resolver{metadata: metadata}
}

// Resolve maps each span to a source location. Spans referencing chunks
// outside the candidate set are rejected, as are spans whose metadata no
// longer maps to a document; each rejection is a warning and resolution
// continues with the remaining spans. Overlapping ranges of the same chunk
// collapse into one citation covering the widest span. Citations come back
// in first-reference order.
func (r *Resolver) Resolve(ctx context.Context, spans []AnswerSpan, candidates []*search.Result) ([]Citation, []search.Warning) {
	byID := make(map[string]*store.ChunkRecord, len(candidates))
	for _, cand := range candidates {
		if cand != nil && cand.Chunk != nil {
			byID[cand.Chunk.ID] = cand.Chunk
		}
	}

	// Document lookups are cached per call; a nil entry records a miss so
	// a document that is gone is only looked up once.
	docCache := make(map[string]*store.Document)

	var citations []*Citation
	var warnings []search.Warning

	for _, span := range spans {
		state := stateUnresolved

		chunk, ok := byID[span.ChunkID]
		if !ok {
			state = stateRejected
			warnings = append(warnings, search.Warning{
				Code:    WarnOutOfSet,
				Stage:   Stage,
				Message: fmt.Sprintf("answer references chunk %q which was not in the candidate set", span.ChunkID),
				ChunkID: span.ChunkID,
			})
			slog.Debug("citation_rejected",
				slog.String("chunk_id", span.ChunkID),
				slog.String("state", state.String()),
				slog.String("reason", "out_of_set"))
			continue
		}
		state = stateMatched

		citation, warn := r.mapSpan(ctx, span, chunk, docCache)
		if warn != nil {
			state = stateRejected
			warnings = append(warnings, *warn)
			slog.Debug("citation_rejected",
				slog.String("chunk_id", span.ChunkID),
				slog.String("state", state.String()),
				slog.String("reason", warn.Code))
			continue
		}
		state = stateResolved
		slog.Debug("citation_resolved",
			slog.String("chunk_id", span.ChunkID),
			slog.String("state", state.String()),
			slog.Int("start", citation.CharRange.Start),
			slog.Int("end", citation.CharRange.End))

		citations = mergeCitation(citations, citation)
	}

	out := make([]Citation, len(citations))
	for i, c := range citations {
		out[i] = *c
	}
	return out, warnings
}

// mapSpan turns a matched span into a citation, or a warning when the
// range or metadata cannot be mapped.
func (r *Resolver) mapSpan(ctx context.Context, span AnswerSpan, chunk *store.ChunkRecord, docCache map[string]*store.Document) (*Citation, *search.Warning) {
	chunkLen := chunk.EndOffset - chunk.StartOffset

	rng := CharRange{Start: chunk.StartOffset, End: chunk.EndOffset}
	if !span.WholeChunk() {
		if span.Start < 0 || span.End < span.Start || span.Start >= chunkLen || span.Start == span.End {
			return nil, &search.Warning{
				Code:    WarnInvalidSpan,
				Stage:   Stage,
				Message: fmt.Sprintf("span [%d, %d) does not fit chunk %q (length %d)", span.Start, span.End, span.ChunkID, chunkLen),
				ChunkID: span.ChunkID,
			}
		}
		end := span.End
		if end > chunkLen {
			// An overshooting end is narrowed to the chunk boundary; the
			// cited text still exists, the range was just too generous.
			end = chunkLen
		}
		rng = CharRange{Start: chunk.StartOffset + span.Start, End: chunk.StartOffset + end}
	}

	doc, cached := docCache[chunk.DocumentID]
	if !cached {
		var err error
		doc, err = r.metadata.GetDocument(ctx, chunk.DocumentID)
		if err != nil {
			slog.Warn("citation_document_lookup_failed",
				slog.String("document_id", chunk.DocumentID),
				slog.String("error", err.Error()))
			doc = nil
		}
		docCache[chunk.DocumentID] = doc
	}
	if doc == nil {
		return nil, &search.Warning{
			Code:    WarnUnmappable,
			Stage:   Stage,
			Message: fmt.Sprintf("chunk %q references document %q which is no longer indexed", span.ChunkID, chunk.DocumentID),
			ChunkID: span.ChunkID,
		}
	}
	if chunk.Page < 1 {
		return nil, &search.Warning{
			Code:    WarnUnmappable,
			Stage:   Stage,
			Message: fmt.Sprintf("chunk %q has no page assignment", span.ChunkID),
			ChunkID: span.ChunkID,
		}
	}

	return &Citation{
		ChunkID:       chunk.ID,
		DocumentID:    chunk.DocumentID,
		DocumentName:  doc.Name,
		Page:          chunk.Page,
		ParagraphPath: chunk.HierarchyPath,
		CharRange:     rng,
	}, nil
}

// mergeCitation folds a new citation into the list. Overlapping ranges of
// the same chunk collapse into the earliest citation, widened to cover
// them all; a span can bridge previously separate citations, which then
// merge too. Non-overlapping ranges of the same chunk stay separate.
func mergeCitation(citations []*Citation, next *Citation) []*Citation {
	merged := next.CharRange
	keep := citations[:0]
	var target *Citation
	for _, existing := range citations {
		if existing.ChunkID == next.ChunkID && existing.CharRange.Overlaps(merged) {
			merged = merged.union(existing.CharRange)
			if target == nil {
				target = existing
			}
			// Later overlapping citations fold into the first; they are
			// dropped from the list.
			if target != existing {
				continue
			}
		}
		keep = append(keep, existing)
	}
	if target == nil {
		return append(keep, next)
	}
	target.CharRange = merged
	return keep
}
