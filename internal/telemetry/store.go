package telemetry

import (
	"database/sql"
	"fmt"
	"time"
)

// MetricsStore persists query metrics between runs.
type MetricsStore interface {
	// SaveQueryTypeCounts adds counts to the per-day query type totals.
	SaveQueryTypeCounts(date string, counts map[string]int64) error

	// GetQueryTypeCounts sums type counts over an inclusive date range.
	GetQueryTypeCounts(from, to string) (map[string]int64, error)

	// UpsertTermCounts adds counts to the term frequency table.
	UpsertTermCounts(terms map[string]int64) error

	// GetTopTerms returns the most searched terms, highest count first.
	GetTopTerms(limit int) ([]TermCount, error)

	// AddZeroResultQueries appends to the zero-result log, keeping only
	// the most recent entries.
	AddZeroResultQueries(entries []ZeroResultQuery) error

	// GetZeroResultQueries returns recent zero-result queries, newest first.
	GetZeroResultQueries(limit int) ([]ZeroResultQuery, error)

	// SaveLatencyCounts adds counts to the per-day latency histogram.
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error

	// GetLatencyCounts sums the latency histogram over an inclusive
	// date range.
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)

	// Close releases resources.
	Close() error
}

// zeroResultRetention caps the zero-result log. Old entries are trimmed
// as new ones arrive.
const zeroResultRetention = 100

// SQLiteMetricsStore implements MetricsStore on the metadata database, so
// query metrics travel with the index they describe.
type SQLiteMetricsStore struct {
	db *sql.DB
}

var _ MetricsStore = (*SQLiteMetricsStore)(nil)

// NewSQLiteMetricsStore wraps an open database handle, usually the one
// returned by the metadata store's DB method, and creates the telemetry
// tables when they do not exist yet.
func NewSQLiteMetricsStore(db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	schema := `
	CREATE TABLE IF NOT EXISTS query_type_stats (
		date TEXT NOT NULL,
		query_type TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, query_type)
	);

	CREATE TABLE IF NOT EXISTS query_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		asked_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS query_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create telemetry schema: %w", err)
	}

	return &SQLiteMetricsStore{db: db}, nil
}

// SaveQueryTypeCounts adds counts to the per-day query type totals.
func (s *SQLiteMetricsStore) SaveQueryTypeCounts(date string, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO query_type_stats (date, query_type, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, query_type) DO UPDATE SET count = count + excluded.count
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for qt, count := range counts {
		if _, err := stmt.Exec(date, qt, count); err != nil {
			return fmt.Errorf("upsert query type count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetQueryTypeCounts sums type counts over an inclusive date range.
func (s *SQLiteMetricsStore) GetQueryTypeCounts(from, to string) (map[string]int64, error) {
	rows, err := s.db.Query(`
		SELECT query_type, SUM(count)
		FROM query_type_stats
		WHERE date >= ? AND date <= ?
		GROUP BY query_type
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query type counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var qt string
		var count int64
		if err := rows.Scan(&qt, &count); err != nil {
			return nil, fmt.Errorf("scan query type count: %w", err)
		}
		counts[qt] = count
	}
	return counts, rows.Err()
}

// UpsertTermCounts adds counts to the term frequency table.
func (s *SQLiteMetricsStore) UpsertTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO query_terms (term, count, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = excluded.last_seen
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for term, count := range terms {
		if _, err := stmt.Exec(term, count, now); err != nil {
			return fmt.Errorf("upsert term count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetTopTerms returns the most searched terms, highest count first.
func (s *SQLiteMetricsStore) GetTopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`
		SELECT term, count
		FROM query_terms
		ORDER BY count DESC, term ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan term count: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// AddZeroResultQueries appends to the zero-result log and trims it to the
// retention cap.
func (s *SQLiteMetricsStore) AddZeroResultQueries(entries []ZeroResultQuery) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO zero_result_queries (query, asked_at) VALUES (?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(e.Query, e.Timestamp.Unix()); err != nil {
			return fmt.Errorf("insert zero-result query: %w", err)
		}
	}

	if _, err := tx.Exec(`
		DELETE FROM zero_result_queries
		WHERE id NOT IN (
			SELECT id FROM zero_result_queries
			ORDER BY id DESC
			LIMIT ?
		)
	`, zeroResultRetention); err != nil {
		return fmt.Errorf("trim zero-result queries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetZeroResultQueries returns recent zero-result queries, newest first.
func (s *SQLiteMetricsStore) GetZeroResultQueries(limit int) ([]ZeroResultQuery, error) {
	rows, err := s.db.Query(`
		SELECT query, asked_at
		FROM zero_result_queries
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	var entries []ZeroResultQuery
	for rows.Next() {
		var query string
		var askedAt int64
		if err := rows.Scan(&query, &askedAt); err != nil {
			return nil, fmt.Errorf("scan zero-result query: %w", err)
		}
		entries = append(entries, ZeroResultQuery{
			Query:     query,
			Timestamp: time.Unix(askedAt, 0),
		})
	}
	return entries, rows.Err()
}

// SaveLatencyCounts adds counts to the per-day latency histogram.
func (s *SQLiteMetricsStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	if len(counts) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO query_latency_stats (date, bucket, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for bucket, count := range counts {
		if _, err := stmt.Exec(date, string(bucket), count); err != nil {
			return fmt.Errorf("upsert latency count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetLatencyCounts sums the latency histogram over an inclusive date range.
func (s *SQLiteMetricsStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	rows, err := s.db.Query(`
		SELECT bucket, SUM(count)
		FROM query_latency_stats
		WHERE date >= ? AND date <= ?
		GROUP BY bucket
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[LatencyBucket]int64)
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("scan latency count: %w", err)
		}
		counts[LatencyBucket(bucket)] = count
	}
	return counts, rows.Err()
}

// Close is a no-op. The handle belongs to the metadata store, which closes
// it.
func (s *SQLiteMetricsStore) Close() error {
	return nil
}
