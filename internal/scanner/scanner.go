package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/documind-hq/documind/internal/ignore"
)

// ignoreCacheSize bounds the number of per-corpus ignore matchers kept
// alive. A process usually works with one corpus, but a long-lived server
// can touch several.
const ignoreCacheSize = 32

// resultBuffer is the scan channel depth. The walk itself is sequential;
// the buffer keeps it from stalling while the ingest pool drains results.
const resultBuffer = 64

// Scanner discovers indexable documents in a corpus directory.
type Scanner struct {
	// ignoreCache caches the composite ignore matcher per corpus root.
	// Exclude globs are assumed stable for a given root over the life of
	// the process; call InvalidateIgnoreCache when rules change on disk.
	ignoreCache *lru.Cache[string, *ignore.Matcher]
	cacheMu     sync.RWMutex
}

// New creates a new Scanner instance.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *ignore.Matcher](ignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create ignore cache: %w", err)
	}
	return &Scanner{ignoreCache: cache}, nil
}

// Scan discovers all indexable documents under the corpus root.
// It returns a channel of ScanResult that streams files as they are
// found. The channel is closed when scanning is complete.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}

	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}

	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat corpus root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus root is not a directory: %s", absRoot)
	}

	rules, err := s.corpusMatcher(absRoot, opts.ExcludeGlobs)
	if err != nil {
		return nil, fmt.Errorf("failed to load ignore rules: %w", err)
	}
	include := includeMatcher(opts.IncludeGlobs)

	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}

	results := make(chan ScanResult, resultBuffer)

	go func() {
		defer close(results)
		s.scan(ctx, absRoot, opts, rules, include, maxFileSize, results)
	}()

	return results, nil
}

// scan performs the actual directory traversal.
func (s *Scanner) scan(ctx context.Context, absRoot string, opts *ScanOptions, rules, include *ignore.Matcher, maxFileSize int64, results chan<- ScanResult) {
	emitted := 0
	err := filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return nil // Skip files we can't access
		}

		relPath, err := filepath.Rel(absRoot, p)
		if err != nil {
			return nil
		}

		// Skip the root directory itself
		if relPath == "." {
			return nil
		}
		rel := filepath.ToSlash(relPath)

		if d.IsDir() {
			if rules.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}

		isSymlink := d.Type()&fs.ModeSymlink != 0
		if isSymlink && !opts.FollowSymlinks {
			return nil
		}

		format, ok := FormatForPath(rel)
		if !ok {
			return nil
		}

		if rules.Match(rel, false) {
			return nil
		}
		if include != nil && !include.Match(rel, false) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if isSymlink {
			// Resolve the target so size and mtime describe the
			// document, not the link. Dangling links and links to
			// directories are skipped.
			info, err = os.Stat(p)
			if err != nil || info.IsDir() {
				return nil
			}
		}

		if info.Size() > maxFileSize {
			slog.Debug("skipping oversized document",
				slog.String("path", rel),
				slog.Int64("size", info.Size()))
			return nil
		}

		if isBinary(p) {
			return nil
		}

		fileInfo := &FileInfo{
			Path:    rel,
			AbsPath: p,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Format:  format,
		}

		select {
		case results <- ScanResult{File: fileInfo}:
		case <-ctx.Done():
			return ctx.Err()
		}

		emitted++
		if opts.MaxFiles > 0 && emitted >= opts.MaxFiles {
			slog.Warn("document cap reached, skipping the rest of the corpus",
				slog.Int("max_files", opts.MaxFiles))
			return filepath.SkipAll
		}
		return nil
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		select {
		case results <- ScanResult{Error: err}:
		case <-ctx.Done():
		}
	}
}

// ScanFile evaluates a single path against the same policy Scan applies
// during a walk. It returns (nil, nil) when the file is missing, excluded
// or not a supported document, so callers can treat nil as "drop from the
// index if present".
func (s *Scanner) ScanFile(root, relPath string, opts *ScanOptions) (*FileInfo, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	rel := filepath.ToSlash(filepath.Clean(relPath))
	if filepath.IsAbs(relPath) || rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return nil, fmt.Errorf("path outside corpus root: %s", relPath)
	}

	format, ok := FormatForPath(rel)
	if !ok {
		return nil, nil
	}

	rules, err := s.corpusMatcher(absRoot, opts.ExcludeGlobs)
	if err != nil {
		return nil, fmt.Errorf("failed to load ignore rules: %w", err)
	}
	if rules.Match(rel, false) {
		return nil, nil
	}
	// An ignored parent directory excludes the file too. The walk gets
	// this for free from SkipDir; here it needs an explicit check.
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if rules.Match(dir, true) {
			return nil, nil
		}
	}

	if include := includeMatcher(opts.IncludeGlobs); include != nil && !include.Match(rel, false) {
		return nil, nil
	}

	absPath := filepath.Join(absRoot, filepath.FromSlash(rel))
	info, err := os.Lstat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat %s: %w", rel, err)
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		if !opts.FollowSymlinks {
			return nil, nil
		}
		info, err = os.Stat(absPath)
		if err != nil {
			return nil, nil
		}
	}
	if info.IsDir() {
		return nil, nil
	}

	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	if info.Size() > maxFileSize {
		return nil, nil
	}

	if isBinary(absPath) {
		return nil, nil
	}

	return &FileInfo{
		Path:    rel,
		AbsPath: absPath,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Format:  format,
	}, nil
}

// corpusMatcher gets or builds the composite ignore matcher for a root.
func (s *Scanner) corpusMatcher(absRoot string, excludes []string) (*ignore.Matcher, error) {
	s.cacheMu.RLock()
	m, ok := s.ignoreCache.Get(absRoot)
	s.cacheMu.RUnlock()
	if ok {
		return m, nil
	}

	m, err := ignore.ForCorpus(absRoot, excludes)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.ignoreCache.Add(absRoot, m)
	s.cacheMu.Unlock()

	return m, nil
}

// InvalidateIgnoreCache clears the cached ignore matchers.
// Call this when a corpus ignore file changes so fresh rules are used.
// This is thread-safe and can be called concurrently.
func (s *Scanner) InvalidateIgnoreCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.ignoreCache.Purge()
}

// includeMatcher compiles include globs into a matcher, or nil when the
// list is empty.
func includeMatcher(globs []string) *ignore.Matcher {
	if len(globs) == 0 {
		return nil
	}
	m := ignore.New()
	for _, g := range globs {
		m.Add(g)
	}
	return m
}

// isBinary checks if a file is binary by looking for null bytes.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	// Read first 512 bytes
	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}

	// Check for null bytes
	return bytes.Contains(buf[:n], []byte{0})
}
