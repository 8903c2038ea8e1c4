package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/documind-hq/documind/internal/chunk"
	"github.com/documind-hq/documind/internal/doctree"
	"github.com/documind-hq/documind/internal/embed"
	"github.com/documind-hq/documind/internal/scanner"
	"github.com/documind-hq/documind/internal/store"
)

// DocumentID returns the stable identifier for a corpus-relative path.
// Chunk IDs are derived from it, so it must not change across runs.
func DocumentID(relPath string) string {
	h := sha256.Sum256([]byte(relPath))
	return hex.EncodeToString(h[:])[:16]
}

// hashContent hashes the normalized document text for change detection.
func hashContent(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// utf8BOM is the byte order mark some editors prepend to UTF-8 files.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// normalizeText prepares raw file bytes for chunking: strips a UTF-8 BOM
// and converts CRLF and bare CR line endings to LF. Chunk offsets index
// into this normalized text, so every reader of a chunk span must apply
// the same normalization.
func normalizeText(raw []byte) string {
	text := string(bytes.TrimPrefix(raw, utf8BOM))
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return text
}

// docName derives the fallback display name from a relative path: the
// base name without its extension. Documents with a leading heading use
// that heading as their name instead; see displayName.
func docName(relPath string) string {
	base := path.Base(relPath)
	return strings.TrimSuffix(base, path.Ext(base))
}

// displayName picks the stored document name: the document's leading
// heading when it has one, the filename stem otherwise. Citations and
// search results render this name, so "Refund Policy" beats "refunds".
func displayName(tree *doctree.Tree, relPath string) string {
	if title := tree.Title(); title != "" {
		return title
	}
	return docName(relPath)
}

// treeFormat maps a scanner format onto a tree builder. Markdown gets
// the structured builder; everything else (txt, rst, adoc) goes through
// the plain-text builder, whose heading heuristics cover their common
// section markers.
func treeFormat(f scanner.Format) doctree.Format {
	if f == scanner.FormatMarkdown {
		return doctree.FormatMarkdown
	}
	return doctree.FormatText
}

// pageCount counts form-feed separated pages in the normalized text.
func pageCount(text string) int {
	return strings.Count(text, "\f") + 1
}

// docStatus classifies what indexing one document did.
type docStatus int

const (
	// statusIndexed means the document was chunked and written to the indexes.
	statusIndexed docStatus = iota
	// statusSkipped means the document was unchanged since the last run.
	statusSkipped
	// statusRemoved means the document no longer has indexable content and
	// its previous entry was dropped.
	statusRemoved
	// statusFailed means a per-document problem was reported as a warning.
	statusFailed
)

// docOutcome reports the result of indexing one document.
type docOutcome struct {
	status        docStatus
	chunks        int
	embedFailures int
}

// indexer holds the stores and stages shared by the ingest pipeline and
// the watch coordinator. Its methods are safe for concurrent use; the
// underlying stores serialize their own writes.
type indexer struct {
	metadata store.MetadataStore
	lexical  store.LexicalIndex
	vector   store.VectorIndex
	chunker  *chunk.Engine
	gen      *embed.Generator

	// warn reports a per-document problem that should not abort the run.
	warn func(path string, err error)
}

// indexDocument runs the per-document pipeline: read, normalize, chunk,
// embed, then replace whatever the indexes held for the document. Content
// problems (unreadable file, invalid tree) are routed through the warn
// callback and reported as statusFailed; the returned error is reserved
// for storage failures and cancellation.
func (ix *indexer) indexDocument(ctx context.Context, file *scanner.FileInfo, rebuild bool) (docOutcome, error) {
	existing, err := ix.metadata.GetDocumentByPath(ctx, file.Path)
	if err != nil {
		return docOutcome{}, fmt.Errorf("look up document %s: %w", file.Path, err)
	}

	// Fast path: size and mtime agree with the stored record, skip the read.
	// The store keeps second precision, so compare at that granularity.
	if existing != nil && !rebuild &&
		existing.SizeBytes == file.Size &&
		existing.ModTime.Unix() == file.ModTime.Unix() {
		return docOutcome{status: statusSkipped}, nil
	}

	raw, err := os.ReadFile(file.AbsPath)
	if err != nil {
		ix.warn(file.Path, fmt.Errorf("read document: %w", err))
		return docOutcome{status: statusFailed}, nil
	}

	text := normalizeText(raw)
	hash := hashContent(text)

	// The content is unchanged even though size or mtime moved (editor
	// rewrite, line-ending conversion). Refresh the stored stat fields so
	// the fast path works next run, and keep the indexes as they are.
	if existing != nil && !rebuild && existing.ContentHash == hash {
		refreshed := *existing
		refreshed.SizeBytes = file.Size
		refreshed.ModTime = file.ModTime
		if err := ix.metadata.SaveDocument(ctx, &refreshed); err != nil {
			return docOutcome{}, fmt.Errorf("refresh document %s: %w", file.Path, err)
		}
		return docOutcome{status: statusSkipped}, nil
	}

	docID := DocumentID(file.Path)

	tree := doctree.Build(docID, docName(file.Path), file.Path, text, treeFormat(file.Format))
	name := displayName(tree, file.Path)
	chunks, err := ix.chunker.Chunk(ctx, tree)
	if err != nil {
		if ctx.Err() != nil {
			return docOutcome{}, ctx.Err()
		}
		ix.warn(file.Path, fmt.Errorf("chunk document: %w", err))
		return docOutcome{status: statusFailed}, nil
	}

	// Nothing indexable (whitespace-only document). Drop any previous
	// entry so the index does not serve stale text.
	if len(chunks) == 0 {
		if existing != nil {
			if err := ix.removeDocument(ctx, existing); err != nil {
				return docOutcome{}, err
			}
			return docOutcome{status: statusRemoved}, nil
		}
		return docOutcome{status: statusSkipped}, nil
	}

	embeddings, failures, err := ix.gen.EmbedChunks(ctx, chunks)
	if err != nil {
		return docOutcome{}, fmt.Errorf("embed document %s: %w", file.Path, err)
	}
	if len(failures) > 0 {
		ix.warn(file.Path, fmt.Errorf("%d of %d chunks not embedded, lexical search only: %w",
			len(failures), len(chunks), failures[0]))
	}

	// Replace, never merge: remove the old chunks before writing the new
	// ones so a shrinking document leaves no orphans behind.
	if existing != nil {
		if err := ix.removeDocument(ctx, existing); err != nil {
			return docOutcome{}, err
		}
	}

	doc := &store.Document{
		ID:          docID,
		Name:        name,
		Path:        file.Path,
		ContentHash: hash,
		SizeBytes:   file.Size,
		ModTime:     file.ModTime,
		PageCount:   pageCount(text),
		ChunkCount:  len(chunks),
		IndexedAt:   time.Now(),
	}

	// The document row goes in first; chunk rows reference it.
	if err := ix.metadata.SaveDocument(ctx, doc); err != nil {
		return docOutcome{}, fmt.Errorf("save document %s: %w", file.Path, err)
	}

	records := make([]*store.ChunkRecord, len(chunks))
	lexEntries := make([]*store.LexicalEntry, len(chunks))
	byID := make(map[string]*chunk.Chunk, len(chunks))
	for i, c := range chunks {
		records[i] = &store.ChunkRecord{
			ID:            c.ID,
			DocumentID:    c.DocumentID,
			Text:          c.Text,
			StartOffset:   c.StartOffset,
			EndOffset:     c.EndOffset,
			HierarchyPath: c.HierarchyPath,
			Page:          c.Page,
			SequenceIndex: c.SequenceIndex,
			Truncated:     c.Truncated,
			TokenCount:    c.TokenCount,
		}
		lexEntries[i] = &store.LexicalEntry{
			ChunkID:       c.ID,
			DocumentID:    c.DocumentID,
			Text:          c.Text,
			HierarchyPath: c.HierarchyPath,
			Page:          c.Page,
		}
		byID[c.ID] = c
	}

	if err := ix.metadata.SaveChunks(ctx, records); err != nil {
		return docOutcome{}, fmt.Errorf("save chunks for %s: %w", file.Path, err)
	}
	if err := ix.lexical.Upsert(ctx, lexEntries); err != nil {
		return docOutcome{}, fmt.Errorf("index chunks for %s: %w", file.Path, err)
	}

	// Chunks whose embedding failed stay out of the vector index; they
	// remain reachable through lexical search.
	if len(embeddings) > 0 {
		vecEntries := make([]*store.VectorEntry, 0, len(embeddings))
		for _, e := range embeddings {
			c, ok := byID[e.ChunkID]
			if !ok {
				continue
			}
			vecEntries = append(vecEntries, &store.VectorEntry{
				ChunkID:       e.ChunkID,
				Vector:        e.Vector,
				DocumentID:    c.DocumentID,
				HierarchyPath: c.HierarchyPath,
				Page:          c.Page,
			})
		}
		if err := ix.vector.Upsert(ctx, vecEntries); err != nil {
			return docOutcome{}, fmt.Errorf("index vectors for %s: %w", file.Path, err)
		}
	}

	return docOutcome{
		status:        statusIndexed,
		chunks:        len(chunks),
		embedFailures: len(failures),
	}, nil
}

// removeDocument drops a document and its chunks from every index.
func (ix *indexer) removeDocument(ctx context.Context, doc *store.Document) error {
	chunks, err := ix.metadata.GetChunksByDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("list chunks for %s: %w", doc.Path, err)
	}

	if len(chunks) > 0 {
		chunkIDs := make([]string, len(chunks))
		for i, c := range chunks {
			chunkIDs[i] = c.ID
		}
		if err := ix.lexical.Delete(ctx, chunkIDs); err != nil {
			return fmt.Errorf("delete chunks for %s: %w", doc.Path, err)
		}
		if err := ix.vector.Delete(ctx, chunkIDs); err != nil {
			return fmt.Errorf("delete vectors for %s: %w", doc.Path, err)
		}
	}

	// Cascades to the chunk rows.
	if err := ix.metadata.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete document %s: %w", doc.Path, err)
	}

	return nil
}
