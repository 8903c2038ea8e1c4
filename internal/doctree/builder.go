package doctree

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Format selects the tree builder for a source document.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// FormatForPath picks a builder format from a file extension.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return FormatMarkdown
	default:
		return FormatText
	}
}

// Build parses text into a document tree using the given format.
func Build(docID, name, sourcePath, text string, format Format) *Tree {
	switch format {
	case FormatMarkdown:
		return BuildMarkdown(docID, name, sourcePath, text)
	default:
		return BuildPlainText(docID, name, sourcePath, text)
	}
}

var (
	atxHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	listItemRe   = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)

	numberedHeadingRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)[.)]?\s+\S`)
	keywordHeadingRe  = regexp.MustCompile(`(?i)^(section|chapter|part|article|appendix)\b`)
)

// line is a source line with its byte span (newline excluded).
type line struct {
	start, end int
	text       string
	page       int
}

// splitLines scans text into lines with byte offsets and page numbers.
// Form feeds advance the page counter for subsequent lines.
func splitLines(text string) []line {
	var lines []line
	page := 1
	start := 0
	for start <= len(text) {
		nl := strings.IndexByte(text[start:], '\n')
		end := len(text)
		next := len(text) + 1
		if nl >= 0 {
			end = start + nl
			next = end + 1
		}
		lines = append(lines, line{start: start, end: end, text: text[start:end], page: page})
		page += strings.Count(text[start:end], "\f")
		if nl < 0 {
			break
		}
		start = next
	}
	return lines
}

// builder accumulates arena nodes while scanning lines.
type builder struct {
	tree  *Tree
	stack []int // open section indices, outermost first
}

func newBuilder(docID, name, sourcePath, text string) *builder {
	return &builder{
		tree: &Tree{
			DocumentID: docID,
			Name:       name,
			SourcePath: sourcePath,
			Text:       text,
		},
	}
}

// add appends a node under the current parent and extends ancestor spans.
func (b *builder) add(n Node) int {
	idx := len(b.tree.Nodes)
	if n.Parent >= 0 {
		b.tree.Nodes[n.Parent].Children = append(b.tree.Nodes[n.Parent].Children, idx)
		for p := n.Parent; p >= 0; p = b.tree.Nodes[p].Parent {
			if b.tree.Nodes[p].End < n.End {
				b.tree.Nodes[p].End = n.End
			}
		}
	} else {
		b.tree.Roots = append(b.tree.Roots, idx)
	}
	b.tree.Nodes = append(b.tree.Nodes, n)
	return idx
}

// parent returns the innermost open section, or -1.
func (b *builder) parent() int {
	if len(b.stack) == 0 {
		return -1
	}
	return b.stack[len(b.stack)-1]
}

// openSection closes sections at or below level and opens a new one.
func (b *builder) openSection(title string, level int, start, end, page int) {
	for len(b.stack) > 0 && b.tree.Nodes[b.stack[len(b.stack)-1]].Level >= level {
		b.stack = b.stack[:len(b.stack)-1]
	}
	idx := b.add(Node{
		Kind:   KindSection,
		Title:  title,
		Level:  level,
		Start:  start,
		End:    end,
		Page:   page,
		Parent: b.parent(),
	})
	b.stack = append(b.stack, idx)
}

// addBlock appends a content node spanning lines[from:to].
func (b *builder) addBlock(kind NodeKind, lines []line, from, to int) {
	if from >= to {
		return
	}
	b.add(Node{
		Kind:   kind,
		Start:  lines[from].start,
		End:    lines[to-1].end,
		Page:   lines[from].page,
		Parent: b.parent(),
	})
}

// BuildMarkdown parses Markdown into a document tree. ATX headings open
// sections, fenced code blocks and pipe tables become atomic nodes, list
// runs become list nodes, and everything else groups into paragraphs on
// blank-line boundaries.
func BuildMarkdown(docID, name, sourcePath, text string) *Tree {
	b := newBuilder(docID, name, sourcePath, text)
	lines := splitLines(text)

	blockKind := KindParagraph
	blockFrom := -1
	flush := func(upTo int) {
		if blockFrom >= 0 {
			b.addBlock(blockKind, lines, blockFrom, upTo)
			blockFrom = -1
		}
	}

	i := 0
	for i < len(lines) {
		ln := lines[i]
		trimmed := strings.TrimSpace(ln.text)

		// Blank line ends any open block
		if trimmed == "" {
			flush(i)
			i++
			continue
		}

		// Heading
		if m := atxHeadingRe.FindStringSubmatch(ln.text); m != nil {
			flush(i)
			b.openSection(strings.TrimSpace(m[2]), len(m[1]), ln.start, ln.end, ln.page)
			i++
			continue
		}

		// Fenced code block: scan to the closing fence (or EOF)
		if fence := fenceMarker(ln.text); fence != "" {
			flush(i)
			j := i + 1
			for j < len(lines) && fenceMarker(lines[j].text) != fence {
				j++
			}
			if j < len(lines) {
				j++ // include the closing fence line
			}
			b.addBlock(KindCodeBlock, lines, i, j)
			i = j
			continue
		}

		// Pipe table: consecutive lines starting with "|"
		if strings.HasPrefix(trimmed, "|") {
			if blockFrom >= 0 && blockKind != KindTable {
				flush(i)
			}
			if blockFrom < 0 {
				blockKind = KindTable
				blockFrom = i
			}
			i++
			continue
		}

		// List item run
		if listItemRe.MatchString(ln.text) {
			if blockFrom >= 0 && blockKind != KindList {
				flush(i)
			}
			if blockFrom < 0 {
				blockKind = KindList
				blockFrom = i
			}
			i++
			continue
		}

		// Plain paragraph line
		if blockFrom >= 0 && blockKind != KindParagraph {
			flush(i)
		}
		if blockFrom < 0 {
			blockKind = KindParagraph
			blockFrom = i
		}
		i++
	}
	flush(len(lines))

	return b.tree
}

// fenceMarker returns the fence token ("```" or "~~~") opening or closing a
// fenced block, or empty when the line is not a fence.
func fenceMarker(text string) string {
	t := strings.TrimLeft(text, " ")
	switch {
	case strings.HasPrefix(t, "```"):
		return "```"
	case strings.HasPrefix(t, "~~~"):
		return "~~~"
	default:
		return ""
	}
}

// BuildPlainText parses unstructured text into a tree. Headings are
// detected heuristically: numbered outlines, Section/Chapter keywords,
// short ALL-CAPS lines, and short colon-terminated lines. Everything else
// groups into paragraph and list nodes on blank-line boundaries.
func BuildPlainText(docID, name, sourcePath, text string) *Tree {
	b := newBuilder(docID, name, sourcePath, text)
	lines := splitLines(text)

	blockKind := KindParagraph
	blockFrom := -1
	flush := func(upTo int) {
		if blockFrom >= 0 {
			b.addBlock(blockKind, lines, blockFrom, upTo)
			blockFrom = -1
		}
	}

	for i, ln := range lines {
		trimmed := strings.TrimSpace(ln.text)

		if trimmed == "" {
			flush(i)
			continue
		}

		// A heading candidate must start its own block
		prevBlank := i == 0 || strings.TrimSpace(lines[i-1].text) == ""
		if prevBlank {
			if level, ok := headingLevel(trimmed); ok {
				flush(i)
				b.openSection(trimmed, level, ln.start, ln.end, ln.page)
				continue
			}
		}

		if listItemRe.MatchString(ln.text) {
			if blockFrom >= 0 && blockKind != KindList {
				flush(i)
			}
			if blockFrom < 0 {
				blockKind = KindList
				blockFrom = i
			}
			continue
		}

		if blockFrom >= 0 && blockKind != KindParagraph {
			flush(i)
		}
		if blockFrom < 0 {
			blockKind = KindParagraph
			blockFrom = i
		}
	}
	flush(len(lines))

	return b.tree
}

// headingLevel applies the plain-text heading heuristics.
// Numbered outlines derive their level from the outline depth; keyword
// headings are level 1, ALL-CAPS headings level 2, colon headings level 3.
func headingLevel(trimmed string) (int, bool) {
	if len(trimmed) > 120 {
		return 0, false
	}

	if m := numberedHeadingRe.FindStringSubmatch(trimmed); m != nil {
		depth := strings.Count(m[1], ".") + 1
		if depth > 6 {
			depth = 6
		}
		return depth, true
	}

	if keywordHeadingRe.MatchString(trimmed) && len(trimmed) <= 80 {
		return 1, true
	}

	if isAllCapsHeading(trimmed) {
		return 2, true
	}

	if strings.HasSuffix(trimmed, ":") && len(strings.Fields(trimmed)) <= 8 {
		return 3, true
	}

	return 0, false
}

// isAllCapsHeading reports short uppercase lines like "REFUND POLICY".
func isAllCapsHeading(s string) bool {
	if len(s) > 80 || strings.HasSuffix(s, ".") {
		return false
	}
	hasLetter := false
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			hasLetter = true
		}
	}
	return hasLetter
}
