// Package index verifies agreement between the metadata store and the
// search indexes. The metadata store is the source of truth: every chunk
// record should be queryable lexically, and should carry a vector unless
// embedding was unavailable when it was ingested.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/documind-hq/documind/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyOrphanLexical is a lexical entry without a chunk record.
	InconsistencyOrphanLexical InconsistencyType = iota
	// InconsistencyOrphanVector is a vector entry without a chunk record.
	InconsistencyOrphanVector
	// InconsistencyMissingLexical is a chunk record absent from the
	// lexical index. Such chunks are unfindable by keyword search.
	InconsistencyMissingLexical
	// InconsistencyMissingVector is a chunk record absent from the vector
	// index. This is either a lost write or a chunk whose embedding was
	// unavailable at ingest and is served lexically only.
	InconsistencyMissingVector
)

func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanLexical:
		return "orphan_lexical"
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingLexical:
		return "missing_lexical"
	case InconsistencyMissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected cross-store issue.
type Inconsistency struct {
	Type    InconsistencyType
	ChunkID string
	Details string
}

// CheckResult is the outcome of a full consistency check.
type CheckResult struct {
	// Checked is the number of chunk records verified.
	Checked int
	// Inconsistencies lists every detected issue.
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// MissingVectors counts the chunks that have no vector entry. Callers
// deciding whether to recommend a rebuild usually weigh these separately
// from hard orphans.
func (r *CheckResult) MissingVectors() int {
	n := 0
	for _, issue := range r.Inconsistencies {
		if issue.Type == InconsistencyMissingVector {
			n++
		}
	}
	return n
}

// ConsistencyChecker cross-checks chunk membership between the metadata
// store and the two search indexes.
type ConsistencyChecker struct {
	metadata store.MetadataStore
	lexical  store.LexicalIndex
	vector   store.VectorIndex
}

// NewConsistencyChecker creates a checker over the given stores.
func NewConsistencyChecker(metadata store.MetadataStore, lexical store.LexicalIndex, vector store.VectorIndex) *ConsistencyChecker {
	return &ConsistencyChecker{
		metadata: metadata,
		lexical:  lexical,
		vector:   vector,
	}
}

// Check walks every store and reports membership differences. Cost is
// linear in the total number of entries; meant for `documind doctor`,
// not for request paths.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()

	chunkIDs, err := c.metadataChunkIDs(ctx)
	if err != nil {
		return nil, err
	}

	lexicalIDs, err := c.lexical.AllIDs()
	if err != nil {
		return nil, fmt.Errorf("list lexical index: %w", err)
	}
	vectorIDs, err := c.vector.AllIDs()
	if err != nil {
		return nil, fmt.Errorf("list vector index: %w", err)
	}

	var issues []Inconsistency

	for _, id := range lexicalIDs {
		if !chunkIDs[id] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyOrphanLexical,
				ChunkID: id,
				Details: "lexical entry without a chunk record",
			})
		}
	}
	for _, id := range vectorIDs {
		if !chunkIDs[id] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyOrphanVector,
				ChunkID: id,
				Details: "vector entry without a chunk record",
			})
		}
	}

	lexicalSet := make(map[string]bool, len(lexicalIDs))
	for _, id := range lexicalIDs {
		lexicalSet[id] = true
	}
	vectorSet := make(map[string]bool, len(vectorIDs))
	for _, id := range vectorIDs {
		vectorSet[id] = true
	}

	for id := range chunkIDs {
		if !lexicalSet[id] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyMissingLexical,
				ChunkID: id,
				Details: "chunk record missing from the lexical index",
			})
		}
		if !vectorSet[id] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyMissingVector,
				ChunkID: id,
				Details: "chunk record has no vector entry (lost write or lexical-only embedding fallback)",
			})
		}
	}

	return &CheckResult{
		Checked:         len(chunkIDs),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// metadataChunkIDs collects every chunk ID the metadata store knows.
func (c *ConsistencyChecker) metadataChunkIDs(ctx context.Context) (map[string]bool, error) {
	docs, err := c.metadata.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	ids := make(map[string]bool)
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunks, err := c.metadata.GetChunksByDocument(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("list chunks for %s: %w", doc.Path, err)
		}
		for _, chunk := range chunks {
			ids[chunk.ID] = true
		}
	}
	return ids, nil
}

// Repair applies the safe fixes: orphaned index entries are deleted,
// best-effort. Missing entries cannot be reconstructed here and are
// reported with the rebuild hint instead.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) error {
	var orphanLexical, orphanVector []string
	missing := 0

	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanLexical:
			orphanLexical = append(orphanLexical, issue.ChunkID)
		case InconsistencyOrphanVector:
			orphanVector = append(orphanVector, issue.ChunkID)
		case InconsistencyMissingLexical, InconsistencyMissingVector:
			missing++
		}
	}

	if len(orphanLexical) > 0 {
		if err := c.lexical.Delete(ctx, orphanLexical); err != nil {
			slog.Warn("failed to delete orphan lexical entries",
				slog.Int("count", len(orphanLexical)),
				slog.String("error", err.Error()))
		} else {
			slog.Info("deleted orphan lexical entries", slog.Int("count", len(orphanLexical)))
		}
	}

	if len(orphanVector) > 0 {
		if err := c.vector.Delete(ctx, orphanVector); err != nil {
			slog.Warn("failed to delete orphan vector entries",
				slog.Int("count", len(orphanVector)),
				slog.String("error", err.Error()))
		} else {
			slog.Info("deleted orphan vector entries", slog.Int("count", len(orphanVector)))
		}
	}

	if missing > 0 {
		slog.Warn("index has missing entries, run 'documind ingest --rebuild' to restore them",
			slog.Int("missing_count", missing))
	}

	return nil
}

// QuickCheck compares entry counts without loading IDs. The lexical
// index must match the chunk records exactly; the vector index may trail
// them because lexical-only chunks are an accepted degradation, but it
// must never exceed them.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	stats, err := c.metadata.Stats(ctx)
	if err != nil {
		return false, fmt.Errorf("read corpus stats: %w", err)
	}
	chunkCount := stats.ChunkCount

	lexicalCount := 0
	if ls := c.lexical.Stats(); ls != nil {
		lexicalCount = ls.ChunkCount
	}
	vectorCount := c.vector.Count()

	consistent := chunkCount == lexicalCount && vectorCount <= chunkCount
	if !consistent {
		slog.Debug("index counts mismatch",
			slog.Int("metadata", chunkCount),
			slog.Int("lexical", lexicalCount),
			slog.Int("vector", vectorCount))
	}
	return consistent, nil
}
