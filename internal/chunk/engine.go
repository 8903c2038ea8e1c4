package chunk

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/documind-hq/documind/internal/doctree"
)

// Engine cuts validated document trees into chunks according to the
// configured strategy. It is stateless and safe for concurrent use.
type Engine struct {
	opts         Options
	maxChars     int
	overlapChars int
	minChars     int
}

// NewEngine creates a chunking engine. Zero-valued options fall back to
// the package defaults before validation.
func NewEngine(opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("chunk options: %w", err)
	}
	return &Engine{
		opts:         opts,
		maxChars:     opts.MaxTokens * TokensPerChar,
		overlapChars: opts.OverlapTokens * TokensPerChar,
		minChars:     opts.MinTokens * TokensPerChar,
	}, nil
}

// Options returns the effective options after defaulting.
func (e *Engine) Options() Options {
	return e.opts
}

// Chunk splits tree into chunks. The tree is validated first; an
// inconsistent tree returns *doctree.InvalidTreeError unchanged and no
// chunks. Whitespace-only documents produce no chunks and no error.
func (e *Engine) Chunk(ctx context.Context, tree *doctree.Tree) ([]*Chunk, error) {
	if tree == nil {
		return nil, fmt.Errorf("chunk: document tree is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tree.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(tree.Text) == "" {
		return nil, nil
	}

	var pieces []piece
	switch e.opts.Strategy {
	case StrategyFixed:
		pieces = e.fixedPieces(tree)
	case StrategyStructure:
		pieces = e.structurePieces(tree, false)
	default:
		pieces = e.structurePieces(tree, true)
	}

	return e.materialize(tree, pieces), nil
}

// piece is a chunk before identity, text, and metadata are attached.
// sealed pieces came from atomic blocks or fixed windows and never take
// part in overlap or tail merging.
type piece struct {
	span
	section   int // owning section node, -1 at document top level
	sealed    bool
	truncated bool
}

// blockGroup is a run of consecutive non-section siblings that are packed
// together. Chunks never cross group boundaries, so a chunk never spans
// two sections and never swallows a nested subsection.
type blockGroup struct {
	section int   // parent section, -1 for top-level content
	blocks  []int // node indices in document order
	leadIn  span  // heading line before the first block, zero when absent
}

// blockGroups collects the packing groups of a tree in document order.
// The first run directly under a section carries the section's heading
// line as lead-in so the title text stays searchable.
func blockGroups(t *doctree.Tree) []blockGroup {
	var groups []blockGroup
	var walk func(section int, children []int)
	walk = func(section int, children []int) {
		firstRun := section >= 0
		var run []int
		flush := func() {
			if len(run) == 0 {
				return
			}
			g := blockGroup{section: section, blocks: run}
			if firstRun {
				g.leadIn = span{t.Nodes[section].Start, t.Nodes[run[0]].Start}
			}
			firstRun = false
			groups = append(groups, g)
			run = nil
		}
		for _, ci := range children {
			n := &t.Nodes[ci]
			if n.Kind == doctree.KindSection {
				flush()
				firstRun = false
				walk(ci, n.Children)
				continue
			}
			run = append(run, ci)
		}
		flush()
	}
	walk(-1, t.Roots)
	return groups
}

func (e *Engine) structurePieces(t *doctree.Tree, allowFallback bool) []piece {
	var pieces []piece
	for _, g := range blockGroups(t) {
		units := e.buildUnits(t, g, allowFallback)
		pieces = append(pieces, e.packUnits(t.Text, g.section, units)...)
	}
	return pieces
}

// unit is a packable slice of a block. sealed units become chunks of
// their own and are never merged with neighbors or extended with overlap.
type unit struct {
	span
	sealed    bool
	truncated bool
}

// buildUnits turns a group's blocks into packable units. Atomic blocks
// (tables, code) stay whole. Oversized prose is reduced on the separator
// cascade; runs that no separator can reduce are either emitted whole or,
// when the fallback is allowed, cut into fixed windows flagged truncated
// at mid-sentence cuts.
func (e *Engine) buildUnits(t *doctree.Tree, g blockGroup, allowFallback bool) []unit {
	var units []unit
	for _, bi := range g.blocks {
		n := &t.Nodes[bi]
		sp := span{n.Start, n.End}
		if sp.size() <= 0 {
			continue
		}
		if n.Kind.Atomic() {
			units = append(units, unit{span: sp, sealed: true})
			continue
		}
		if sp.size() <= e.maxChars {
			units = append(units, unit{span: sp})
			continue
		}
		for _, p := range cascadeSplit(t.Text, sp, e.maxChars) {
			switch {
			case p.size() <= e.maxChars:
				units = append(units, unit{span: p})
			case !allowFallback:
				units = append(units, unit{span: p, sealed: true})
			default:
				for _, w := range fixedSplit(t.Text, p, e.maxChars, e.overlapChars) {
					units = append(units, unit{span: w.span, sealed: true, truncated: w.truncated})
				}
			}
		}
	}
	if g.leadIn.size() > 0 && len(units) > 0 && !units[0].sealed {
		units[0].start = g.leadIn.start
	}
	return units
}

// packUnits greedily accumulates units into chunk-sized pieces. When a
// piece is cut, the next one starts back inside the previous piece at a
// sentence boundary so consecutive chunks share an overlap region. The
// overlap is taken from the original text offsets, never re-synthesized.
func (e *Engine) packUnits(text string, section int, units []unit) []piece {
	var pieces []piece
	cur := span{-1, -1}
	prev := span{-1, -1}

	flush := func() {
		if cur.start < 0 {
			return
		}
		pieces = append(pieces, piece{span: cur, section: section})
		prev = cur
		cur = span{-1, -1}
	}

	for _, u := range units {
		if u.sealed {
			flush()
			pieces = append(pieces, piece{span: u.span, section: section, sealed: true, truncated: u.truncated})
			// No overlap across tables, code blocks, or fallback windows.
			prev = span{-1, -1}
			continue
		}
		if cur.start >= 0 && u.end-cur.start > e.maxChars {
			flush()
		}
		if cur.start < 0 {
			cur = span{e.openAt(text, prev, u), u.end}
			continue
		}
		cur.end = u.end
	}
	flush()

	return e.mergeShortTail(pieces)
}

// openAt picks the start offset for a new piece that begins with unit u.
// When a previous piece exists, the start moves back into it to create
// the overlap region, bounded so the new piece still fits the budget.
func (e *Engine) openAt(text string, prev span, u unit) int {
	if prev.start < 0 || e.overlapChars <= 0 {
		return u.start
	}
	min := prev.end - e.overlapChars
	if lo := u.end - e.maxChars; lo > min {
		min = lo
	}
	if b := firstBoundaryAtOrAfter(text, prev, min); b < prev.end {
		return b
	}
	return u.start
}

// mergeShortTail folds a trailing fragment smaller than the minimum into
// the piece before it when both are plain prose. The merged piece may
// exceed the budget by at most the minimum size.
func (e *Engine) mergeShortTail(pieces []piece) []piece {
	n := len(pieces)
	if n < 2 {
		return pieces
	}
	last, prev := pieces[n-1], pieces[n-2]
	if last.size() >= e.minChars || last.sealed || prev.sealed {
		return pieces
	}
	prev.end = last.end
	pieces[n-2] = prev
	return pieces[:n-1]
}

func (e *Engine) fixedPieces(t *doctree.Tree) []piece {
	var pieces []piece
	for _, w := range fixedSplit(t.Text, span{0, len(t.Text)}, e.maxChars, e.overlapChars) {
		pieces = append(pieces, piece{
			span:      w.span,
			section:   sectionAt(t, w.start),
			sealed:    true,
			truncated: w.truncated,
		})
	}
	return pieces
}

// sectionAt returns the deepest section whose span contains off, or -1
// when the offset sits outside every section.
func sectionAt(t *doctree.Tree, off int) int {
	best := -1
	t.Walk(func(idx int, n *doctree.Node) bool {
		if off < n.Start || off >= n.End {
			return false
		}
		if n.Kind == doctree.KindSection {
			best = idx
		}
		return true
	})
	return best
}

func (e *Engine) materialize(t *doctree.Tree, pieces []piece) []*Chunk {
	if len(pieces) == 0 {
		return nil
	}
	ffs := formFeeds(t.Text)
	chunks := make([]*Chunk, 0, len(pieces))
	for i, p := range pieces {
		text := t.Text[p.start:p.end]
		chunks = append(chunks, &Chunk{
			ID:            ChunkID(t.DocumentID, i),
			DocumentID:    t.DocumentID,
			Text:          text,
			StartOffset:   p.start,
			EndOffset:     p.end,
			HierarchyPath: t.HierarchyPath(p.section),
			Page:          pageAt(ffs, p.start),
			SequenceIndex: i,
			Truncated:     p.truncated,
			TokenCount:    EstimateTokens(text),
		})
	}
	return chunks
}

func formFeeds(text string) []int {
	var ffs []int
	for i := 0; i < len(text); i++ {
		if text[i] == '\f' {
			ffs = append(ffs, i)
		}
	}
	return ffs
}

// pageAt returns the 1-indexed page at a byte offset, counting the form
// feeds that precede it.
func pageAt(ffs []int, off int) int {
	return 1 + sort.SearchInts(ffs, off)
}
