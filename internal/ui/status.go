package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo contains knowledge base health information.
type StatusInfo struct {
	// Corpus stats
	CorpusName     string    `json:"corpus_name"`
	TotalDocuments int       `json:"total_documents"`
	TotalChunks    int       `json:"total_chunks"`
	LastIngest     time.Time `json:"last_ingest"`

	// Storage sizes (in bytes)
	MetadataSize int64 `json:"metadata_size"`
	LexicalSize  int64 `json:"lexical_size"`
	VectorSize   int64 `json:"vector_size"`
	TotalSize    int64 `json:"total_size"`

	// Backends
	LexicalBackend string `json:"lexical_backend"` // "sqlite" or "bleve"
	VectorBackend  string `json:"vector_backend"`  // "hnsw" or "qdrant"

	// Component status
	EmbedderProvider string `json:"embedder_provider"`
	EmbedderStatus   string `json:"embedder_status"` // "ready", "offline", "error"
	EmbedderModel    string `json:"embedder_model,omitempty"`
	WatcherStatus    string `json:"watcher_status"` // "running", "stopped", "n/a"
}

// StatusRenderer displays knowledge base status.
type StatusRenderer struct {
	out     io.Writer
	styles  Styles
	noColor bool
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:     out,
		styles:  GetStyles(noColor),
		noColor: noColor,
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Knowledge Base: "+info.CorpusName))

	_, _ = fmt.Fprintf(r.out, "  Documents:   %d\n", info.TotalDocuments)
	_, _ = fmt.Fprintf(r.out, "  Chunks:      %d\n", info.TotalChunks)
	if !info.LastIngest.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last ingest: %s\n", formatTime(info.LastIngest))
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Metadata: %s\n", FormatBytes(info.MetadataSize))
	_, _ = fmt.Fprintf(r.out, "    Lexical:  %s%s\n", FormatBytes(info.LexicalSize), backendSuffix(info.LexicalBackend))
	_, _ = fmt.Fprintf(r.out, "    Vectors:  %s%s\n", FormatBytes(info.VectorSize), backendSuffix(info.VectorBackend))
	_, _ = fmt.Fprintf(r.out, "    Total:    %s\n", FormatBytes(info.TotalSize))
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Embedder:")
	_, _ = fmt.Fprintf(r.out, "    Provider: %s\n", info.EmbedderProvider)
	_, _ = fmt.Fprintf(r.out, "    Status:   %s\n", r.renderStatus(info.EmbedderStatus))
	if info.EmbedderModel != "" {
		_, _ = fmt.Fprintf(r.out, "    Model:    %s\n", info.EmbedderModel)
	}
	_, _ = fmt.Fprintln(r.out)

	if info.WatcherStatus != "" && info.WatcherStatus != "n/a" {
		_, _ = fmt.Fprintf(r.out, "  Watcher: %s\n", r.renderStatus(info.WatcherStatus))
	}

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderStatus formats a status string with color.
func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready", "running":
		return r.styles.Success.Render(status)
	case "offline", "stopped":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// backendSuffix formats the backend annotation for storage lines.
func backendSuffix(backend string) string {
	if backend == "" {
		return ""
	}
	return fmt.Sprintf(" (%s)", backend)
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	now := time.Now()
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats bytes to human-readable form.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
