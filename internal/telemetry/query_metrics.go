// Package telemetry aggregates query usage metrics for search tuning.
// Everything stays in the local index database, nothing leaves the machine.
package telemetry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/documind-hq/documind/internal/search"
)

// LatencyBucket is one bar of the query latency histogram. The bucket
// strings are stored verbatim in SQLite and rendered by the stats command.
type LatencyBucket string

const (
	Bucket10ms  LatencyBucket = "<10ms"
	Bucket50ms  LatencyBucket = "10-50ms"
	Bucket100ms LatencyBucket = "50-100ms"
	Bucket500ms LatencyBucket = "100-500ms"
	BucketSlow  LatencyBucket = ">=500ms"
)

// LatencyBuckets returns the buckets in display order, fastest first.
func LatencyBuckets() []LatencyBucket {
	return []LatencyBucket{Bucket10ms, Bucket50ms, Bucket100ms, Bucket500ms, BucketSlow}
}

// LatencyToBucket places a query duration in its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return Bucket10ms
	case ms < 50:
		return Bucket50ms
	case ms < 100:
		return Bucket100ms
	case ms < 500:
		return Bucket500ms
	default:
		return BucketSlow
	}
}

// TermCount pairs a query term with how often it was searched.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// ZeroResultQuery is one entry of the zero-result log.
type ZeroResultQuery struct {
	Query     string    `json:"query"`
	Timestamp time.Time `json:"timestamp"`
}

// termPunctuation is stripped from the edges of query terms before counting.
const termPunctuation = ",.;:!?\"'`()[]{}"

// ExtractTerms splits a query into countable terms. Terms are lowercased,
// stripped of edge punctuation, and dropped when shorter than three bytes.
func ExtractTerms(query string) []string {
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		f = strings.Trim(f, termPunctuation)
		if len(f) < 3 {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// ring is a fixed-capacity FIFO of the most recent values. The caller
// synchronizes access.
type ring[T any] struct {
	items []T
	head  int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &ring[T]{items: make([]T, capacity)}
}

// add appends a value, evicting the oldest when full.
func (r *ring[T]) add(v T) {
	r.items[r.head] = v
	r.head = (r.head + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	}
}

// values returns the buffered values, oldest first.
func (r *ring[T]) values() []T {
	out := make([]T, 0, r.size)
	if r.size < len(r.items) {
		return append(out, r.items[:r.size]...)
	}
	out = append(out, r.items[r.head:]...)
	return append(out, r.items[:r.head]...)
}

// Snapshot is a point-in-time copy of the metrics accumulated since the
// collector started. Counts persisted by earlier runs are not included;
// the stats command reads those from SQLite.
type Snapshot struct {
	QueryTypeCounts     map[string]int64        `json:"query_type_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResults         []ZeroResultQuery       `json:"zero_results"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	DegradedCount       int64                   `json:"degraded_count"`
	RerankedCount       int64                   `json:"reranked_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of queries that found nothing.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Config sizes the collector's in-memory state.
type Config struct {
	// TopTermsCapacity bounds the term frequency cache. Default 100.
	TopTermsCapacity int

	// ZeroResultsCapacity bounds the in-memory zero-result log. Default 100.
	ZeroResultsCapacity int

	// FlushInterval is how often accrued counts are written to the store.
	// Zero disables the background flush; Flush and Close still persist.
	FlushInterval time.Duration
}

// DefaultConfig returns the capacities used by the server and the CLI.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:    100,
		ZeroResultsCapacity: 100,
		FlushInterval:       60 * time.Second,
	}
}

// QueryMetrics aggregates completed queries in memory and periodically
// writes the accrued counts to a MetricsStore. It implements
// search.QueryObserver, so it plugs straight into the engine via
// search.WithObserver. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	// Lifetime aggregates, reported by Snapshot.
	types      map[string]int64
	latencies  map[LatencyBucket]int64
	total      int64
	zeroCount  int64
	degraded   int64
	reranked   int64
	topTerms   *lru.Cache[string, int64]
	recentZero *ring[ZeroResultQuery]
	since      time.Time

	// Accrued since the last flush. Drained by Flush so repeated flushes
	// never write the same count twice.
	pendingTypes     map[string]int64
	pendingLatencies map[LatencyBucket]int64
	pendingTerms     map[string]int64
	pendingZero      []ZeroResultQuery

	store  MetricsStore
	ticker *time.Ticker
	stop   chan struct{}
	closed bool
}

var _ search.QueryObserver = (*QueryMetrics)(nil)

// NewQueryMetrics creates a collector with default capacities. A nil store
// keeps the metrics in memory only.
func NewQueryMetrics(store MetricsStore) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, DefaultConfig())
}

// NewQueryMetricsWithConfig creates a collector with explicit capacities.
func NewQueryMetricsWithConfig(store MetricsStore, cfg Config) *QueryMetrics {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)

	m := &QueryMetrics{
		types:            make(map[string]int64),
		latencies:        make(map[LatencyBucket]int64),
		topTerms:         topTerms,
		recentZero:       newRing[ZeroResultQuery](cfg.ZeroResultsCapacity),
		since:            time.Now(),
		pendingTypes:     make(map[string]int64),
		pendingLatencies: make(map[LatencyBucket]int64),
		pendingTerms:     make(map[string]int64),
		store:            store,
		stop:             make(chan struct{}),
	}

	if store != nil && cfg.FlushInterval > 0 {
		m.ticker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}

	return m
}

func (m *QueryMetrics) flushLoop() {
	for {
		select {
		case <-m.ticker.C:
			if err := m.Flush(); err != nil {
				slog.Warn("telemetry flush failed", slog.String("error", err.Error()))
			}
		case <-m.stop:
			return
		}
	}
}

// Observe records one completed query. Called by the search engine after
// every request; it never blocks on the store.
func (m *QueryMetrics) Observe(ev search.QueryEvent) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	qt := strings.ToLower(string(ev.Type))
	terms := ExtractTerms(ev.Query)
	bucket := LatencyToBucket(ev.Latency)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.types[qt]++
	m.latencies[bucket]++
	m.total++
	if ev.Degraded {
		m.degraded++
	}
	if ev.Reranked {
		m.reranked++
	}
	for _, term := range terms {
		n, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, n+1)
	}
	zero := ev.ResultCount == 0
	if zero {
		m.zeroCount++
		m.recentZero.add(ZeroResultQuery{Query: ev.Query, Timestamp: ts})
	}

	if m.store == nil {
		return
	}
	m.pendingTypes[qt]++
	m.pendingLatencies[bucket]++
	for _, term := range terms {
		m.pendingTerms[term]++
	}
	if zero {
		m.pendingZero = append(m.pendingZero, ZeroResultQuery{Query: ev.Query, Timestamp: ts})
	}
}

// Snapshot copies the current aggregates for reporting.
func (m *QueryMetrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make(map[string]int64, len(m.types))
	for k, v := range m.types {
		types[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	var topTerms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(topTerms, func(i, j int) bool {
		if topTerms[i].Count != topTerms[j].Count {
			return topTerms[i].Count > topTerms[j].Count
		}
		return topTerms[i].Term < topTerms[j].Term
	})

	return &Snapshot{
		QueryTypeCounts:     types,
		TopTerms:            topTerms,
		ZeroResults:         m.recentZero.values(),
		LatencyDistribution: latencies,
		TotalQueries:        m.total,
		ZeroResultCount:     m.zeroCount,
		DegradedCount:       m.degraded,
		RerankedCount:       m.reranked,
		Since:               m.since,
	}
}

// Flush writes the counts accrued since the previous flush to the store.
// A flush that fails drops that interval's counts rather than retrying.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	types := m.pendingTypes
	latencies := m.pendingLatencies
	terms := m.pendingTerms
	zero := m.pendingZero
	m.pendingTypes = make(map[string]int64)
	m.pendingLatencies = make(map[LatencyBucket]int64)
	m.pendingTerms = make(map[string]int64)
	m.pendingZero = nil
	m.mu.Unlock()

	if len(types) == 0 && len(latencies) == 0 && len(terms) == 0 && len(zero) == 0 {
		return nil
	}

	date := time.Now().Format("2006-01-02")
	if err := m.store.SaveQueryTypeCounts(date, types); err != nil {
		return fmt.Errorf("flush query type counts: %w", err)
	}
	if err := m.store.UpsertTermCounts(terms); err != nil {
		return fmt.Errorf("flush term counts: %w", err)
	}
	if err := m.store.SaveLatencyCounts(date, latencies); err != nil {
		return fmt.Errorf("flush latency counts: %w", err)
	}
	if err := m.store.AddZeroResultQueries(zero); err != nil {
		return fmt.Errorf("flush zero-result queries: %w", err)
	}
	return nil
}

// Close stops the background flush and persists whatever is pending.
// Idempotent.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.ticker != nil {
		m.ticker.Stop()
	}
	close(m.stop)

	return m.Flush()
}
