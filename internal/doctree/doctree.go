// Package doctree defines the normalized document tree that upstream parsers
// hand to the chunking engine. A tree is an arena of nodes referencing byte
// offsets into the original text; it is immutable once built.
//
// Raw format extraction (PDF, Word, OCR) is an external concern. This package
// only ships builders for the plain-text formats DocuMind ingests directly
// (Markdown and plain text).
package doctree

import (
	"fmt"
)

// NodeKind classifies a tree node.
type NodeKind string

const (
	KindSection   NodeKind = "section"
	KindParagraph NodeKind = "paragraph"
	KindTable     NodeKind = "table"
	KindCodeBlock NodeKind = "code_block"
	KindList      NodeKind = "list"
)

// Atomic reports whether nodes of this kind must never be split across
// chunk boundaries.
func (k NodeKind) Atomic() bool {
	return k == KindTable || k == KindCodeBlock
}

// Node is one element of the document tree arena.
// Start and End are byte offsets into Tree.Text; a node's span always
// contains the spans of its children.
type Node struct {
	Kind     NodeKind
	Title    string // heading text for sections, empty otherwise
	Level    int    // heading level for sections (1-6), 0 otherwise
	Start    int
	End      int
	Page     int // 1-based page at Start (form feeds advance pages)
	Parent   int // arena index of the parent, -1 for roots
	Children []int
}

// Tree is a normalized document: the original text plus an arena of nodes.
type Tree struct {
	DocumentID string
	Name       string
	SourcePath string
	Text       string
	Nodes      []Node
	Roots      []int
}

// InvalidTreeError reports a structurally inconsistent document tree.
// The chunking engine never retries on it; the caller must fix the
// upstream parser output first.
type InvalidTreeError struct {
	DocumentID string
	Node       int // offending arena index, -1 when the whole tree is at fault
	Reason     string
}

func (e *InvalidTreeError) Error() string {
	if e.Node < 0 {
		return fmt.Sprintf("invalid document tree %q: %s", e.DocumentID, e.Reason)
	}
	return fmt.Sprintf("invalid document tree %q: node %d: %s", e.DocumentID, e.Node, e.Reason)
}

// Validate checks arena consistency: offsets in bounds and non-inverted,
// children contained in their parent's span, and sibling spans ordered
// without overlap. Returns *InvalidTreeError on the first violation.
func (t *Tree) Validate() error {
	if t.DocumentID == "" {
		return &InvalidTreeError{DocumentID: t.DocumentID, Node: -1, Reason: "missing document id"}
	}

	for i, n := range t.Nodes {
		if n.Start < 0 || n.End > len(t.Text) {
			return &InvalidTreeError{DocumentID: t.DocumentID, Node: i,
				Reason: fmt.Sprintf("offsets [%d,%d) outside text of length %d", n.Start, n.End, len(t.Text))}
		}
		if n.Start > n.End {
			return &InvalidTreeError{DocumentID: t.DocumentID, Node: i,
				Reason: fmt.Sprintf("decreasing offsets [%d,%d)", n.Start, n.End)}
		}
		if n.Parent >= 0 {
			if n.Parent >= len(t.Nodes) {
				return &InvalidTreeError{DocumentID: t.DocumentID, Node: i,
					Reason: fmt.Sprintf("parent index %d out of range", n.Parent)}
			}
			p := t.Nodes[n.Parent]
			if n.Start < p.Start || n.End > p.End {
				return &InvalidTreeError{DocumentID: t.DocumentID, Node: i,
					Reason: fmt.Sprintf("span [%d,%d) escapes parent span [%d,%d)", n.Start, n.End, p.Start, p.End)}
			}
		}

		prevEnd := -1
		for _, c := range n.Children {
			if c < 0 || c >= len(t.Nodes) {
				return &InvalidTreeError{DocumentID: t.DocumentID, Node: i,
					Reason: fmt.Sprintf("child index %d out of range", c)}
			}
			if c == i {
				return &InvalidTreeError{DocumentID: t.DocumentID, Node: i, Reason: "node is its own child"}
			}
			child := t.Nodes[c]
			if child.Start < prevEnd {
				return &InvalidTreeError{DocumentID: t.DocumentID, Node: c,
					Reason: fmt.Sprintf("sibling spans overlap at offset %d", child.Start)}
			}
			prevEnd = child.End
		}
	}

	prevEnd := -1
	for _, r := range t.Roots {
		if r < 0 || r >= len(t.Nodes) {
			return &InvalidTreeError{DocumentID: t.DocumentID, Node: -1,
				Reason: fmt.Sprintf("root index %d out of range", r)}
		}
		if t.Nodes[r].Start < prevEnd {
			return &InvalidTreeError{DocumentID: t.DocumentID, Node: r,
				Reason: fmt.Sprintf("root spans overlap at offset %d", t.Nodes[r].Start)}
		}
		prevEnd = t.Nodes[r].End
	}

	return nil
}

// Title returns the document's leading heading: the title of the first
// top-level section. Empty when the document has no titled sections.
func (t *Tree) Title() string {
	for _, r := range t.Roots {
		if r < 0 || r >= len(t.Nodes) {
			continue
		}
		if n := t.Nodes[r]; n.Kind == KindSection && n.Title != "" {
			return n.Title
		}
	}
	return ""
}

// HierarchyPath returns the section titles from the outermost ancestor down
// to (and including) the node itself when it is a titled section.
func (t *Tree) HierarchyPath(idx int) []string {
	var rev []string
	for i := idx; i >= 0 && i < len(t.Nodes); i = t.Nodes[i].Parent {
		n := t.Nodes[i]
		if n.Kind == KindSection && n.Title != "" {
			rev = append(rev, n.Title)
		}
	}

	// Reverse into root-first order
	path := make([]string, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, rev[i])
	}
	return path
}

// Walk traverses the tree depth-first in document order. The callback
// returns false to prune a subtree.
func (t *Tree) Walk(fn func(idx int, n *Node) bool) {
	var visit func(idx int)
	visit = func(idx int) {
		if !fn(idx, &t.Nodes[idx]) {
			return
		}
		for _, c := range t.Nodes[idx].Children {
			visit(c)
		}
	}
	for _, r := range t.Roots {
		visit(r)
	}
}

// Span returns the exact source substring a node covers.
func (t *Tree) Span(idx int) string {
	n := t.Nodes[idx]
	return t.Text[n.Start:n.End]
}
