package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteLexicalIndex implements LexicalIndex using SQLite FTS5.
// WAL mode allows concurrent readers while an ingest is writing.
type SQLiteLexicalIndex struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	config    LexicalConfig
	closed    bool
	stopWords map[string]struct{}
}

// Verify interface implementation at compile time
var _ LexicalIndex = (*SQLiteLexicalIndex)(nil)

// validateSQLiteIntegrity checks if a SQLite FTS5 index is valid before opening.
// Returns nil if valid, error describing corruption if not.
func validateSQLiteIntegrity(path string) error {
	// Check if database file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Database doesn't exist, will be created
	}

	// Try to open read-only for validation
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	// Quick integrity check
	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	// Verify FTS5 table exists
	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
                       WHERE type='table' AND name='fts_chunks'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("FTS5 table 'fts_chunks' missing")
	}

	return nil
}

// NewSQLiteLexicalIndex creates a new SQLite FTS5-based lexical index at path.
// If path is empty, creates an in-memory index for testing.
// An existing index that fails the integrity check is cleared so the next
// ingest rebuilds it instead of serving corrupt results.
func NewSQLiteLexicalIndex(path string, config LexicalConfig) (*SQLiteLexicalIndex, error) {
	var dsn string
	if path == "" {
		// In-memory index for testing
		dsn = ":memory:"
	} else {
		// Create directory if needed
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateSQLiteIntegrity(path); validErr != nil {
			slog.Warn("sqlite_lexical_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			// Auto-clear corrupted index
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("lexical index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			// Also remove WAL and SHM files
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("sqlite_lexical_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reingest"))
		}

		// WAL mode for concurrent access
		// _busy_timeout handles lock contention gracefully
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for SQLite
	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Don't expire connections

	// Set pragmas via statements (DSN params may be ignored by modernc.org/sqlite)
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",  // 5 second timeout for lock contention
		"PRAGMA synchronous = NORMAL", // Balance durability and performance
		"PRAGMA cache_size = -65536",  // 64MB cache (negative = KB)
		"PRAGMA temp_store = MEMORY",  // Keep temp tables in memory
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	idx := &SQLiteLexicalIndex{
		db:        db,
		path:      path,
		config:    config,
		stopWords: BuildStopWordMap(config.StopWords),
	}

	// Initialize FTS5 schema
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return idx, nil
}

// initSchema creates the FTS5 virtual table and the metadata side table.
// The side table carries the provenance columns filters push down on; FTS5
// itself only sees the tokenized text.
func (s *SQLiteLexicalIndex) initSchema() error {
	schema := `
	-- Schema version tracking
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- FTS5 virtual table for full-text search with BM25 scoring
	-- chunk_id is UNINDEXED (stored but not searchable)
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_chunks USING fts5(
		chunk_id UNINDEXED,
		content,
		tokenize='unicode61'
	);

	-- Provenance side table, joined into filtered queries. Also serves as
	-- the chunk ID registry for AllIDs: FTS5 doesn't expose rowids reliably.
	CREATE TABLE IF NOT EXISTS chunk_meta (
		chunk_id    TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		hierarchy   TEXT NOT NULL DEFAULT '',
		page        INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_chunk_meta_document ON chunk_meta(document_id);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Upsert adds entries to the index.
// Content is pre-tokenized with the prose tokenizer and stop words removed.
// If a chunk ID already exists, it is updated (delete + insert).
func (s *SQLiteLexicalIndex) Upsert(ctx context.Context, entries []*LexicalEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Prepare statements for batch operations
	// NOTE: FTS5 virtual tables don't support REPLACE, so we delete first
	deleteStmt, err := tx.PrepareContext(ctx,
		`DELETE FROM fts_chunks WHERE chunk_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fts_chunks(chunk_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare FTS statement: %w", err)
	}
	defer insertStmt.Close()

	metaStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunk_meta(chunk_id, document_id, hierarchy, page) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare meta statement: %w", err)
	}
	defer metaStmt.Close()

	for _, entry := range entries {
		tokens := TokenizeText(entry.Text)
		tokens = FilterStopWords(tokens, s.stopWords)
		processedContent := strings.Join(tokens, " ")

		// Delete existing entry first (FTS5 doesn't support REPLACE)
		if _, err := deleteStmt.ExecContext(ctx, entry.ChunkID); err != nil {
			return fmt.Errorf("failed to delete existing chunk %s: %w", entry.ChunkID, err)
		}

		if _, err := insertStmt.ExecContext(ctx, entry.ChunkID, processedContent); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", entry.ChunkID, err)
		}
		if _, err := metaStmt.ExecContext(ctx, entry.ChunkID, entry.DocumentID, joinHierarchy(entry.HierarchyPath), entry.Page); err != nil {
			return fmt.Errorf("failed to track chunk %s: %w", entry.ChunkID, err)
		}
	}

	return tx.Commit()
}

// Query returns chunks matching the query text, scored by BM25.
// The query is pre-tokenized using the same tokenization as indexing.
// Filters are compiled into the SQL so non-matching chunks never reach the
// scorer or compete for the LIMIT.
func (s *SQLiteLexicalIndex) Query(ctx context.Context, queryStr string, topK int, filter *Filter) ([]*LexicalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if filter == nil {
		filter = &Filter{}
	}

	// Handle empty query
	if topK <= 0 || strings.TrimSpace(queryStr) == "" {
		return []*LexicalResult{}, nil
	}

	// Pre-process query with same tokenization as indexing
	tokens := TokenizeText(queryStr)
	tokens = FilterStopWords(tokens, s.stopWords)
	if len(tokens) == 0 {
		return []*LexicalResult{}, nil
	}

	// FTS5 uses space-separated terms for AND matching by default
	processedQuery := strings.Join(tokens, " ")

	// FTS5 bm25() returns negative values where lower = better match
	// ORDER BY score puts best matches first (most negative)
	var sb strings.Builder
	sb.WriteString("SELECT fts_chunks.chunk_id, bm25(fts_chunks) AS score FROM fts_chunks")
	if !filter.IsZero() {
		sb.WriteString(" JOIN chunk_meta ON chunk_meta.chunk_id = fts_chunks.chunk_id")
	}
	sb.WriteString(" WHERE fts_chunks MATCH ?")
	args := []any{processedQuery}

	if len(filter.DocumentIDs) > 0 {
		placeholders := make([]string, len(filter.DocumentIDs))
		for i, id := range filter.DocumentIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		sb.WriteString(" AND chunk_meta.document_id IN (")
		sb.WriteString(strings.Join(placeholders, ","))
		sb.WriteString(")")
	}
	if len(filter.HierarchyPrefix) > 0 {
		// Exact trail or any deeper trail. The separator byte keeps element
		// boundaries intact: "Guide" must not match "Guidelines".
		joined := joinHierarchy(filter.HierarchyPrefix)
		sb.WriteString(` AND (chunk_meta.hierarchy = ? OR chunk_meta.hierarchy LIKE ? ESCAPE '\')`)
		args = append(args, joined, escapeLike(joined)+hierarchySep+"%")
	}
	if filter.PageMin > 0 {
		sb.WriteString(" AND chunk_meta.page >= ?")
		args = append(args, filter.PageMin)
	}
	if filter.PageMax > 0 {
		sb.WriteString(" AND chunk_meta.page <= ?")
		args = append(args, filter.PageMax)
	}

	sb.WriteString(" ORDER BY score LIMIT ?")
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		// FTS5 returns error for invalid match queries, treat as no results
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*LexicalResult{}, nil
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var results []*LexicalResult
	for rows.Next() {
		var chunkID string
		var score float64
		if err := rows.Scan(&chunkID, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		// Negate score: FTS5 bm25() returns negative values where higher
		// positive = better match
		results = append(results, &LexicalResult{
			ChunkID:      chunkID,
			Score:        -score,
			MatchedTerms: tokens, // Return preprocessed query tokens
		})
	}

	return results, rows.Err()
}

// Delete removes chunks from the index.
func (s *SQLiteLexicalIndex) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Build parameterized query for batch delete
	placeholders := make([]string, len(chunkIDs))
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	inClause := strings.Join(placeholders, ",")

	ftsQuery := fmt.Sprintf("DELETE FROM fts_chunks WHERE chunk_id IN (%s)", inClause)
	if _, err := tx.ExecContext(ctx, ftsQuery, args...); err != nil {
		return fmt.Errorf("failed to delete from FTS: %w", err)
	}

	metaQuery := fmt.Sprintf("DELETE FROM chunk_meta WHERE chunk_id IN (%s)", inClause)
	if _, err := tx.ExecContext(ctx, metaQuery, args...); err != nil {
		return fmt.Errorf("failed to delete from chunk_meta: %w", err)
	}

	return tx.Commit()
}

// AllIDs returns all chunk IDs in the index.
// Used for consistency checking between stores.
func (s *SQLiteLexicalIndex) AllIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	query := `SELECT chunk_id FROM chunk_meta ORDER BY chunk_id`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ID: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Stats returns index statistics.
func (s *SQLiteLexicalIndex) Stats() *LexicalStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return &LexicalStats{}
	}

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chunk_meta`).Scan(&count)
	if err != nil {
		return &LexicalStats{}
	}

	return &LexicalStats{
		ChunkCount: count,
		// Note: TermCount and AvgDocLength not readily available in FTS5
		// without querying internal tables
	}
}

// Flush forces a WAL checkpoint so all changes reach the main database file.
func (s *SQLiteLexicalIndex) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}
	if s.path == "" {
		return nil // In-memory index has nothing to persist
	}

	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Close closes the index.
// Forces a WAL checkpoint before closing.
func (s *SQLiteLexicalIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil // Idempotent
	}

	s.closed = true
	if s.db != nil {
		// Checkpoint before close to ensure durability
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

// escapeLike escapes LIKE metacharacters so user-supplied heading text is
// matched literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
