// Package scanner discovers indexable documents under a corpus root.
// It streams files that pass the format allow-list, ignore rules, size
// cap and binary check, in the order the walk finds them.
package scanner

import (
	"path/filepath"
	"strings"
	"time"
)

// Format identifies the markup family of a document.
type Format string

const (
	// FormatMarkdown covers .md and .markdown files.
	FormatMarkdown Format = "markdown"
	// FormatText covers plain .txt files.
	FormatText Format = "text"
	// FormatRST covers reStructuredText files.
	FormatRST Format = "rst"
	// FormatAsciiDoc covers .adoc and .asciidoc files.
	FormatAsciiDoc Format = "asciidoc"
)

// FileInfo contains metadata about a discovered document.
type FileInfo struct {
	Path    string    // Relative to the corpus root, slash-separated
	AbsPath string    // Absolute path
	Size    int64     // File size in bytes
	ModTime time.Time // Last modification time
	Format  Format    // markdown, text, rst, asciidoc
}

// ScanOptions configures the scanner behavior.
type ScanOptions struct {
	// RootDir is the corpus root directory to scan.
	RootDir string

	// IncludeGlobs restricts results to matching paths (empty = all).
	// Entries may be directory names or gitignore-style globs.
	IncludeGlobs []string

	// ExcludeGlobs extends the built-in ignore rules and the corpus
	// ignore file.
	ExcludeGlobs []string

	// MaxFileSize is the largest document to admit in bytes (0 = 20MB default).
	MaxFileSize int64

	// MaxFiles stops the walk after this many documents (0 = unlimited).
	MaxFiles int

	// FollowSymlinks enables following symbolic links (default: false).
	FollowSymlinks bool
}

// ScanResult is returned from the scanner channel.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// DefaultMaxFileSize is the default maximum document size (20MB).
const DefaultMaxFileSize = 20 * 1024 * 1024

// formatByExt maps recognized document extensions to their format.
// Paths with any other extension are never indexed.
var formatByExt = map[string]Format{
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".txt":      FormatText,
	".text":     FormatText,
	".rst":      FormatRST,
	".adoc":     FormatAsciiDoc,
	".asciidoc": FormatAsciiDoc,
}

// FormatForPath reports the document format for a path. The second
// return is false when the extension is not a supported document type.
func FormatForPath(path string) (Format, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	f, ok := formatByExt[ext]
	return f, ok
}
