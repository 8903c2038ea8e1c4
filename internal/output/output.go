// Package output formats command results for the terminal. Commands print
// human-readable text through Writer and switch to machine-readable JSON
// with the same values via Writer.JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/documind-hq/documind/internal/ui"
)

// Writer provides formatted CLI output.
type Writer struct {
	out    io.Writer
	styles ui.Styles
}

// New creates a Writer. Styling follows the shared palette; pass
// color=false for pipes and --no-color runs.
func New(out io.Writer, color bool) *Writer {
	return &Writer{
		out:    out,
		styles: ui.GetStyles(!color),
	}
}

// Status prints a message behind an icon column. An empty icon indents the
// message to keep it aligned with iconed lines. Write errors are ignored,
// this is console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "  %s\n", msg)
	}
}

// Statusf prints a formatted status message.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a message behind a green check.
func (w *Writer) Success(msg string) {
	w.Status(w.styles.Success.Render("✓"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a message behind a yellow mark.
func (w *Writer) Warning(msg string) {
	w.Status(w.styles.Warning.Render("!"), msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints a message behind a red cross.
func (w *Writer) Error(msg string) {
	w.Status(w.styles.Error.Render("✗"), msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Header prints a section heading.
func (w *Writer) Header(msg string) {
	_, _ = fmt.Fprintf(w.out, "%s\n", w.styles.Header.Render(msg))
}

// Field prints an aligned label/value row, for status-style listings.
func (w *Writer) Field(label, value string) {
	padded := fmt.Sprintf("%-16s", label)
	_, _ = fmt.Fprintf(w.out, "  %s %s\n", w.styles.Label.Render(padded), value)
}

// Quote prints an indented block, used for cited passages.
func (w *Writer) Quote(content string) {
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", w.styles.Dim.Render("|")+" "+line)
	}
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// JSON writes v as indented JSON followed by a newline.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Bar renders count against max as a fixed-width block bar for histogram
// rows. A non-zero count always shows at least one filled cell.
func Bar(count, max int64, width int) string {
	if width <= 0 {
		width = 30
	}
	if max <= 0 {
		return strings.Repeat("░", width)
	}

	filled := int(float64(count) / float64(max) * float64(width))
	if filled > width {
		filled = width
	}
	if count > 0 && filled < 1 {
		filled = 1
	}
	if filled < 0 {
		filled = 0
	}

	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// Sparkline renders one block character per value, scaled to the largest
// value. All-zero input renders the baseline character.
func Sparkline(values []int64) string {
	var max int64
	for _, v := range values {
		if v > max {
			max = v
		}
	}

	var sb strings.Builder
	sb.Grow(len(values) * 3)
	for _, v := range values {
		idx := 0
		if max > 0 {
			idx = int(float64(v) / float64(max) * float64(len(ui.SparklineChars)-1))
		}
		if idx < 0 {
			idx = 0
		}
		if idx >= len(ui.SparklineChars) {
			idx = len(ui.SparklineChars) - 1
		}
		sb.WriteRune(ui.SparklineChars[idx])
	}
	return sb.String()
}
