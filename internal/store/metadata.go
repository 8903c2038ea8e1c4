package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// hierarchySep joins heading trails into a single column value. The ASCII
// unit separator is a control byte no real heading contains, so joined
// trails split back losslessly and prefix matches never cross an element
// boundary.
const hierarchySep = "\x1f"

// joinHierarchy flattens a heading trail for storage.
func joinHierarchy(path []string) string {
	return strings.Join(path, hierarchySep)
}

// splitHierarchy restores a heading trail. An empty value means the chunk
// sits above any heading.
func splitHierarchy(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, hierarchySep)
}

// SQLiteStore implements MetadataStore using SQLite.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Verify interface implementation at compile time
var _ MetadataStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a metadata store at the given path.
// If path is empty, creates an in-memory store for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Set pragmas via statements (DSN params may be ignored by modernc.org/sqlite)
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536", // 64MB cache (negative = KB)
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON", // Needed for document -> chunk cascade
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{
		db:   db,
		path: path,
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the metadata tables.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		path         TEXT NOT NULL UNIQUE,
		content_hash TEXT NOT NULL,
		size_bytes   INTEGER NOT NULL DEFAULT 0,
		mod_time     INTEGER NOT NULL DEFAULT 0,
		page_count   INTEGER NOT NULL DEFAULT 1,
		chunk_count  INTEGER NOT NULL DEFAULT 0,
		indexed_at   INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id             TEXT PRIMARY KEY,
		document_id    TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		text           TEXT NOT NULL,
		start_offset   INTEGER NOT NULL,
		end_offset     INTEGER NOT NULL,
		hierarchy      TEXT NOT NULL DEFAULT '',
		page           INTEGER NOT NULL DEFAULT 1,
		sequence_index INTEGER NOT NULL,
		truncated      INTEGER NOT NULL DEFAULT 0,
		token_count    INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, sequence_index);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// timeToDB stores timestamps as Unix nanoseconds; the zero time maps to 0 so
// it round-trips cleanly.
func timeToDB(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func timeFromDB(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// SaveDocument inserts or updates a document.
// Uses ON CONFLICT DO UPDATE instead of REPLACE: REPLACE deletes the old row
// first, which would cascade-delete the document's chunks.
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, name, path, content_hash, size_bytes, mod_time, page_count, chunk_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			path = excluded.path,
			content_hash = excluded.content_hash,
			size_bytes = excluded.size_bytes,
			mod_time = excluded.mod_time,
			page_count = excluded.page_count,
			chunk_count = excluded.chunk_count,
			indexed_at = excluded.indexed_at`,
		doc.ID, doc.Name, doc.Path, doc.ContentHash, doc.SizeBytes,
		timeToDB(doc.ModTime), doc.PageCount, doc.ChunkCount, timeToDB(doc.IndexedAt))
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}

	return nil
}

func scanDocument(row *sql.Row) (*Document, error) {
	var doc Document
	var modTime, indexedAt int64
	err := row.Scan(&doc.ID, &doc.Name, &doc.Path, &doc.ContentHash, &doc.SizeBytes,
		&modTime, &doc.PageCount, &doc.ChunkCount, &indexedAt)
	if err == sql.ErrNoRows {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	doc.ModTime = timeFromDB(modTime)
	doc.IndexedAt = timeFromDB(indexedAt)
	return &doc, nil
}

const documentColumns = `id, name, path, content_hash, size_bytes, mod_time, page_count, chunk_count, indexed_at`

// GetDocument retrieves a document by ID. Returns (nil, nil) if not found.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return doc, nil
}

// GetDocumentByPath retrieves a document by its corpus-relative path.
// Returns (nil, nil) if not found.
func (s *SQLiteStore) GetDocumentByPath(ctx context.Context, path string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE path = ?`, path)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get document by path %s: %w", path, err)
	}
	return doc, nil
}

// ListDocuments returns all documents ordered by path.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var doc Document
		var modTime, indexedAt int64
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.Path, &doc.ContentHash, &doc.SizeBytes,
			&modTime, &doc.PageCount, &doc.ChunkCount, &indexedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.ModTime = timeFromDB(modTime)
		doc.IndexedAt = timeFromDB(indexedAt)
		docs = append(docs, &doc)
	}

	return docs, rows.Err()
}

// DeleteDocument removes a document; its chunks go with it via the foreign
// key cascade.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// SaveChunks inserts or replaces chunk records in a single transaction.
func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
			(id, document_id, text, start_offset, end_offset, hierarchy, page, sequence_index, truncated, token_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		truncated := 0
		if c.Truncated {
			truncated = 1
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Text, c.StartOffset, c.EndOffset,
			joinHierarchy(c.HierarchyPath), c.Page, c.SequenceIndex, truncated, c.TokenCount); err != nil {
			return fmt.Errorf("failed to save chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

const chunkColumns = `id, document_id, text, start_offset, end_offset, hierarchy, page, sequence_index, truncated, token_count`

func scanChunkRow(scan func(dest ...any) error) (*ChunkRecord, error) {
	var c ChunkRecord
	var hierarchy string
	var truncated int
	if err := scan(&c.ID, &c.DocumentID, &c.Text, &c.StartOffset, &c.EndOffset,
		&hierarchy, &c.Page, &c.SequenceIndex, &truncated, &c.TokenCount); err != nil {
		return nil, err
	}
	c.HierarchyPath = splitHierarchy(hierarchy)
	c.Truncated = truncated != 0
	return &c, nil
}

// GetChunk retrieves a chunk by ID. Returns (nil, nil) if not found.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*ChunkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	c, err := scanChunkRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk %s: %w", id, err)
	}
	return c, nil
}

// GetChunks retrieves chunks by ID in a single query.
// Results come back in input order; IDs with no record are skipped.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*ChunkRecord, error) {
	if len(ids) == 0 {
		return []*ChunkRecord{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`SELECT `+chunkColumns+` FROM chunks WHERE id IN (%s)`,
		strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*ChunkRecord, len(ids))
	for rows.Next() {
		c, err := scanChunkRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]*ChunkRecord, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			result = append(result, c)
		}
	}
	return result, nil
}

// GetChunksByDocument returns a document's chunks in sequence order.
func (s *SQLiteStore) GetChunksByDocument(ctx context.Context, documentID string) ([]*ChunkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = ? ORDER BY sequence_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks for document %s: %w", documentID, err)
	}
	defer rows.Close()

	var chunks []*ChunkRecord
	for rows.Next() {
		c, err := scanChunkRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}

	return chunks, rows.Err()
}

// DeleteChunksByDocument removes all chunks belonging to a document.
func (s *SQLiteStore) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks for document %s: %w", documentID, err)
	}
	return nil
}

// GetState retrieves a state value. Returns "" if the key is not set.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", fmt.Errorf("store is closed")
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return value, nil
}

// SetState stores a state value.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)`, key, value); err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}

// Stats returns corpus-wide counts.
func (s *SQLiteStore) Stats(ctx context.Context) (*CorpusStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	var stats CorpusStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM documents`).
		Scan(&stats.DocumentCount, &stats.TotalBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&stats.ChunkCount); err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	return &stats, nil
}

// DB returns the underlying database handle. The telemetry store shares
// this connection so query metrics live in the same file as the metadata.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the store.
// Forces a WAL checkpoint before closing.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil // Idempotent
	}

	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
