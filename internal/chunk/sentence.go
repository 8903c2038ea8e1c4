package chunk

import (
	"sort"
	"strings"
)

// separatorCascade orders the split points tried when a block is larger
// than the chunk budget, from strongest boundary to weakest. The
// separator stays with the text before it, so the pieces always tile the
// original range exactly.
var separatorCascade = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " "}

// sentenceSeparators are the boundaries considered "sentence level" when
// snapping overlap regions and fixed-window cuts.
var sentenceSeparators = []string{"\n", ". ", "? ", "! ", "; "}

// span is a half-open [start, end) byte range into the document text.
type span struct {
	start int
	end   int
}

func (s span) size() int {
	return s.end - s.start
}

// splitOnSeparator splits s at every occurrence of sep that falls
// strictly inside the range. The separator is kept with the left piece.
// Returns nil when sep never occurs inside s.
func splitOnSeparator(text string, s span, sep string) []span {
	var parts []span
	start := s.start
	for start < s.end {
		idx := strings.Index(text[start:s.end], sep)
		if idx < 0 {
			break
		}
		cut := start + idx + len(sep)
		if cut >= s.end {
			break
		}
		parts = append(parts, span{start, cut})
		start = cut
	}
	if parts == nil {
		return nil
	}
	parts = append(parts, span{start, s.end})
	return parts
}

// cascadeSplit reduces s to pieces of at most maxChars by trying each
// separator in the cascade, recursing with weaker separators on pieces
// that are still too large. Adjacent small pieces are merged back up to
// the budget. A piece that no separator can reduce is returned oversized.
func cascadeSplit(text string, s span, maxChars int) []span {
	return mergeSpans(cascadeSplitFrom(text, s, maxChars, 0), maxChars)
}

func cascadeSplitFrom(text string, s span, maxChars, sepIdx int) []span {
	if s.size() <= maxChars {
		return []span{s}
	}
	for i := sepIdx; i < len(separatorCascade); i++ {
		parts := splitOnSeparator(text, s, separatorCascade[i])
		if len(parts) < 2 {
			continue
		}
		var out []span
		for _, p := range parts {
			out = append(out, cascadeSplitFrom(text, p, maxChars, i+1)...)
		}
		return out
	}
	return []span{s}
}

// mergeSpans coalesces adjacent spans while the merged range stays within
// maxChars. The input spans must tile a contiguous range in order.
func mergeSpans(parts []span, maxChars int) []span {
	if len(parts) < 2 {
		return parts
	}
	merged := make([]span, 0, len(parts))
	cur := parts[0]
	for _, p := range parts[1:] {
		if p.end-cur.start <= maxChars {
			cur.end = p.end
			continue
		}
		merged = append(merged, cur)
		cur = p
	}
	return append(merged, cur)
}

// sentenceBoundaries returns the offsets inside s where a new sentence
// begins, in ascending order. The range start itself is not included.
func sentenceBoundaries(text string, s span) []int {
	seen := make(map[int]struct{})
	var bounds []int
	for _, sep := range sentenceSeparators {
		start := s.start
		for start < s.end {
			idx := strings.Index(text[start:s.end], sep)
			if idx < 0 {
				break
			}
			cut := start + idx + len(sep)
			if cut >= s.end {
				break
			}
			if _, ok := seen[cut]; !ok {
				seen[cut] = struct{}{}
				bounds = append(bounds, cut)
			}
			start = cut
		}
	}
	sort.Ints(bounds)
	return bounds
}

// firstBoundaryAtOrAfter returns the earliest sentence boundary inside s
// at or after min, or s.end when none qualifies. Used to pick where the
// next chunk's overlap region starts inside the previous chunk.
func firstBoundaryAtOrAfter(text string, s span, min int) int {
	for _, b := range sentenceBoundaries(text, s) {
		if b >= min {
			return b
		}
	}
	return s.end
}

// fixedWindow is one window produced by the fixed splitter. truncated is
// set when the window's end cut landed mid-sentence.
type fixedWindow struct {
	span
	truncated bool
}

// fixedSplit cuts s into windows of at most maxChars with overlapChars of
// shared text between consecutive windows. Cuts snap back to the latest
// sentence boundary in the second half of the window; when none exists
// the window is cut hard and flagged truncated.
func fixedSplit(text string, s span, maxChars, overlapChars int) []fixedWindow {
	if s.size() <= 0 {
		return nil
	}
	if overlapChars >= maxChars {
		overlapChars = 0
	}

	var windows []fixedWindow
	start := s.start
	for start < s.end {
		end := start + maxChars
		truncated := false
		if end >= s.end {
			end = s.end
		} else if b := lastBoundaryAfter(text, span{start, end}, start+maxChars/2); b > start {
			end = b
		} else {
			truncated = true
		}

		windows = append(windows, fixedWindow{span{start, end}, truncated})
		if end >= s.end {
			break
		}
		next := end - overlapChars
		if next <= start {
			next = end
		}
		start = next
	}
	return windows
}

// lastBoundaryAfter returns the latest sentence boundary in (min, s.end],
// or -1 when none exists. A boundary exactly at s.end is allowed since it
// makes a clean cut.
func lastBoundaryAfter(text string, s span, min int) int {
	best := -1
	for _, sep := range sentenceSeparators {
		start := s.start
		for start < s.end {
			idx := strings.Index(text[start:s.end], sep)
			if idx < 0 {
				break
			}
			cut := start + idx + len(sep)
			if cut > min && cut > best {
				best = cut
			}
			start = cut
		}
	}
	return best
}
