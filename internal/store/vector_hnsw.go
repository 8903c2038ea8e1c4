package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWVectorIndex implements VectorIndex using the coder/hnsw pure Go HNSW
// implementation (no CGO).
type HNSWVectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorIndexConfig
	path   string

	// ID mapping (string <-> uint64)
	idMap   map[string]uint64 // chunk ID -> internal key
	keyMap  map[uint64]string // internal key -> chunk ID
	nextKey uint64            // next available key

	// Per-key provenance and normalized vector. Filtered queries scan this
	// instead of the graph: the filter selects candidates first, then only
	// those are scored.
	entries map[uint64]hnswEntry

	closed bool
}

// hnswEntry carries what a filtered query needs per vector. Fields are
// exported for gob.
type hnswEntry struct {
	DocumentID string
	Hierarchy  []string
	Page       int
	Vector     []float32
}

// hnswMetadata is the gob sidecar persisted next to the graph file.
type hnswMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorIndexConfig
	Entries map[uint64]hnswEntry
}

// Verify interface implementation at compile time
var _ VectorIndex = (*HNSWVectorIndex)(nil)

// NewHNSWVectorIndex creates an HNSW-based vector index persisted at path.
// If path is empty, the index is in-memory only. If the path holds an
// existing index it is loaded; an index that fails to load is cleared so the
// next ingest rebuilds it.
func NewHNSWVectorIndex(path string, cfg VectorIndexConfig) (*HNSWVectorIndex, error) {
	// Apply defaults
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16 // coder/hnsw default recommendation
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20 // coder/hnsw default
	}

	s := &HNSWVectorIndex{
		graph:   newHNSWGraph(cfg),
		config:  cfg,
		path:    path,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		entries: make(map[uint64]hnswEntry),
		nextKey: 0,
	}

	if path == "" {
		return s, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return s, nil // Fresh index
	}

	if err := s.load(path); err != nil {
		slog.Warn("vector_index_corrupted",
			slog.String("path", path),
			slog.String("error", err.Error()))

		// Auto-clear corrupted index
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return nil, fmt.Errorf("vector index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, err)
		}
		_ = os.Remove(path + ".meta")

		slog.Info("vector_index_cleared",
			slog.String("path", path),
			slog.String("reason", "corruption detected, please reingest"))

		// Start over with an empty graph
		s.graph = newHNSWGraph(cfg)
		s.config = cfg
		s.idMap = make(map[string]uint64)
		s.keyMap = make(map[uint64]string)
		s.entries = make(map[uint64]hnswEntry)
		s.nextKey = 0
		return s, nil
	}

	// A caller-specified dimension must agree with the stored index.
	if cfg.Dimensions > 0 && s.config.Dimensions != cfg.Dimensions {
		return nil, ErrDimensionMismatch{
			Expected: s.config.Dimensions,
			Got:      cfg.Dimensions,
		}
	}

	return s, nil
}

func newHNSWGraph(cfg VectorIndexConfig) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()

	switch cfg.Metric {
	case "cos":
		graph.Distance = hnsw.CosineDistance
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}

	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25 // default level generation factor (1/ln(M))

	return graph
}

// Upsert inserts vectors with their chunk IDs.
// If an ID already exists, it is updated (lazy delete + add).
func (s *HNSWVectorIndex) Upsert(ctx context.Context, entries []*VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	// Validate dimensions
	for _, e := range entries {
		if len(e.Vector) != s.config.Dimensions {
			return ErrDimensionMismatch{
				Expected: s.config.Dimensions,
				Got:      len(e.Vector),
			}
		}
	}

	for _, e := range entries {
		// If the ID exists, use lazy deletion (just drop the mappings).
		// Removing nodes from a coder/hnsw graph can break it when the last
		// node goes, so the old node stays as an orphan.
		if existingKey, exists := s.idMap[e.ChunkID]; exists {
			delete(s.keyMap, existingKey) // orphan the old key
			delete(s.entries, existingKey)
			delete(s.idMap, e.ChunkID)
		}

		key := s.nextKey
		s.nextKey++

		// Normalize vector for cosine similarity
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}

		node := hnsw.MakeNode(key, vec)
		s.graph.Add(node)

		s.idMap[e.ChunkID] = key
		s.keyMap[key] = e.ChunkID
		s.entries[key] = hnswEntry{
			DocumentID: e.DocumentID,
			Hierarchy:  append([]string(nil), e.HierarchyPath...),
			Page:       e.Page,
			Vector:     vec,
		}
	}

	return nil
}

// Query finds the topK nearest neighbors to the query vector.
// Unfiltered queries use graph traversal. Filtered queries scan only the
// chunks that pass the filter and score exactly: coder/hnsw has no filtered
// traversal, and a filter usually selects a slice of the corpus small enough
// that an exact scan is the honest choice anyway.
func (s *HNSWVectorIndex) Query(ctx context.Context, vector []float32, topK int, filter *Filter) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	if len(vector) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{
			Expected: s.config.Dimensions,
			Got:      len(vector),
		}
	}

	if topK <= 0 || len(s.idMap) == 0 {
		return []*VectorResult{}, nil
	}

	// Normalize query for cosine similarity
	normalizedQuery := make([]float32, len(vector))
	copy(normalizedQuery, vector)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(normalizedQuery)
	}

	var results []*VectorResult
	if filter.IsZero() {
		nodes := s.graph.Search(normalizedQuery, topK)

		results = make([]*VectorResult, 0, len(nodes))
		for _, node := range nodes {
			id, exists := s.keyMap[node.Key]
			if !exists {
				continue // lazy-deleted orphan
			}

			distance := s.graph.Distance(normalizedQuery, node.Value)
			results = append(results, &VectorResult{
				ChunkID:  id,
				Distance: distance,
				Score:    distanceToScore(distance, s.config.Metric),
			})
		}
	} else {
		for id, key := range s.idMap {
			meta := s.entries[key]
			if !filter.Match(meta.DocumentID, meta.Hierarchy, meta.Page) {
				continue
			}

			distance := s.graph.Distance(normalizedQuery, meta.Vector)
			results = append(results, &VectorResult{
				ChunkID:  id,
				Distance: distance,
				Score:    distanceToScore(distance, s.config.Metric),
			})
		}
	}

	// Equal distances sort by ID so results are stable across runs.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

// Delete removes vectors by chunk ID.
// Uses lazy deletion: the node stays in the graph but stops appearing in
// results. Orphans are rebuilt away on the next full ingest.
func (s *HNSWVectorIndex) Delete(ctx context.Context, chunkIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, id := range chunkIDs {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.entries, key)
			delete(s.idMap, id)
		}
	}

	return nil
}

// AllIDs returns all chunk IDs in the store.
// Used for consistency checking between stores.
func (s *HNSWVectorIndex) AllIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids, nil
}

// Contains checks if a chunk ID exists.
func (s *HNSWVectorIndex) Contains(chunkID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	_, exists := s.idMap[chunkID]
	return exists
}

// Count returns the number of vectors.
func (s *HNSWVectorIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}

	return len(s.idMap)
}

// HNSWStats contains HNSW index statistics including orphan count.
type HNSWStats struct {
	ValidIDs   int // Number of valid ID mappings (active vectors)
	GraphNodes int // Total nodes in HNSW graph (includes orphans)
	Orphans    int // GraphNodes - ValidIDs (lazy-deleted nodes)
}

// GraphStats reports how many lazy-deleted orphans the graph carries.
// The doctor command surfaces this so users know when a rebuild pays off.
func (s *HNSWVectorIndex) GraphStats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return HNSWStats{}
	}

	validIDs := len(s.idMap)
	graphNodes := s.graph.Len()

	return HNSWStats{
		ValidIDs:   validIDs,
		GraphNodes: graphNodes,
		Orphans:    graphNodes - validIDs,
	}
}

// Flush persists the graph and its sidecar to disk.
// Uses atomic save (temp file + rename).
func (s *HNSWVectorIndex) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if s.path == "" {
		return nil // In-memory index has nothing to persist
	}

	// Create directory if needed
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Save HNSW graph to temp file
	tmpIndexPath := s.path + ".tmp"
	file, err := os.Create(tmpIndexPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}

	// Rename to final path (atomic on most filesystems)
	if err := os.Rename(tmpIndexPath, s.path); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	if err := s.saveMetadata(s.path + ".meta"); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}

	return nil
}

// saveMetadata saves ID mappings and provenance to a gob file.
func (s *HNSWVectorIndex) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := hnswMetadata{
		IDMap:   s.idMap,
		NextKey: s.nextKey,
		Config:  s.config,
		Entries: s.entries,
	}

	encoder := gob.NewEncoder(file)
	if err := encoder.Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// load restores the graph and sidecar written by Flush.
func (s *HNSWVectorIndex) load(path string) error {
	// Load ID mappings first to get config
	if err := s.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	// Use bufio.Reader because coder/hnsw Import requires io.ByteReader
	reader := bufio.NewReader(file)
	if err := s.graph.Import(reader); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	return nil
}

// loadMetadata loads ID mappings and provenance from a gob file.
func (s *HNSWVectorIndex) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata

	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&meta); err != nil {
		return fmt.Errorf("decode hnsw metadata: %w", err)
	}

	// Rebuild mappings
	s.idMap = meta.IDMap
	s.keyMap = make(map[uint64]string)
	s.nextKey = meta.NextKey
	s.config = meta.Config
	s.entries = meta.Entries
	if s.entries == nil {
		s.entries = make(map[uint64]hnswEntry)
	}

	for id, key := range s.idMap {
		s.keyMap[key] = id
	}

	return nil
}

// Close releases resources.
func (s *HNSWVectorIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	// coder/hnsw Graph doesn't need explicit cleanup
	s.graph = nil

	return nil
}

// ReadHNSWDimensions reads the dimensions from an existing HNSW index's
// metadata. Returns 0 if the metadata file doesn't exist (fresh start).
// The path should be the index path (e.g., "vectors.hnsw"), not the meta
// file path.
func ReadHNSWDimensions(vectorPath string) (int, error) {
	metaPath := vectorPath + ".meta"

	file, err := os.Open(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil // Fresh start
		}
		return 0, fmt.Errorf("failed to open hnsw metadata: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close hnsw metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata
	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&meta); err != nil {
		return 0, fmt.Errorf("failed to decode hnsw metadata: %w", err)
	}

	return meta.Config.Dimensions, nil
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts a distance value to a similarity score.
// For cosine distance: score = 1 - distance/2 (distance ranges 0-2)
// For L2 distance: score = 1 / (1 + distance)
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "cos":
		return 1.0 - distance/2.0
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
