package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireTiling asserts that parts cover s exactly, in order, with no
// gaps. This is what keeps chunk offsets exact after any split.
func requireTiling(t *testing.T, s span, parts []span) {
	t.Helper()
	require.NotEmpty(t, parts)
	require.Equal(t, s.start, parts[0].start)
	require.Equal(t, s.end, parts[len(parts)-1].end)
	for i := 1; i < len(parts); i++ {
		require.Equal(t, parts[i-1].end, parts[i].start)
	}
}

func TestSplitOnSeparator(t *testing.T) {
	t.Run("keeps separator with the left piece", func(t *testing.T) {
		text := "Aaa. Bbb. Ccc"
		parts := splitOnSeparator(text, span{0, len(text)}, ". ")

		require.Equal(t, []span{{0, 5}, {5, 10}, {10, 13}}, parts)
		assert.Equal(t, "Aaa. ", text[parts[0].start:parts[0].end])
		assert.Equal(t, "Ccc", text[parts[2].start:parts[2].end])
		requireTiling(t, span{0, len(text)}, parts)
	})

	t.Run("nil when separator absent", func(t *testing.T) {
		text := "no separator here"
		assert.Nil(t, splitOnSeparator(text, span{0, len(text)}, ". "))
	})

	t.Run("trailing separator does not create an empty piece", func(t *testing.T) {
		text := "Aaa. Bbb. "
		parts := splitOnSeparator(text, span{0, len(text)}, ". ")

		require.Equal(t, []span{{0, 5}, {5, 10}}, parts)
	})

	t.Run("respects the span bounds", func(t *testing.T) {
		text := "xx. yy. zz. ww"
		parts := splitOnSeparator(text, span{4, 10}, ". ")

		require.Equal(t, []span{{4, 8}, {8, 10}}, parts)
	})
}

func TestCascadeSplit(t *testing.T) {
	t.Run("splits on spaces and merges back up to the budget", func(t *testing.T) {
		text := "aaaa bbbb cccc"

		parts := cascadeSplit(text, span{0, len(text)}, 5)
		require.Equal(t, []span{{0, 5}, {5, 10}, {10, 14}}, parts)

		parts = cascadeSplit(text, span{0, len(text)}, 10)
		require.Equal(t, []span{{0, 10}, {10, 14}}, parts)
	})

	t.Run("prefers stronger separators first", func(t *testing.T) {
		text := "First paragraph here.\n\nSecond paragraph there."
		parts := cascadeSplit(text, span{0, len(text)}, 25)

		require.Len(t, parts, 2)
		assert.Equal(t, "First paragraph here.\n\n", text[parts[0].start:parts[0].end])
		assert.Equal(t, "Second paragraph there.", text[parts[1].start:parts[1].end])
		requireTiling(t, span{0, len(text)}, parts)
	})

	t.Run("unsplittable runs come back oversized", func(t *testing.T) {
		text := strings.Repeat("x", 30)
		parts := cascadeSplit(text, span{0, len(text)}, 10)

		require.Equal(t, []span{{0, 30}}, parts)
	})

	t.Run("within budget returns the span unchanged", func(t *testing.T) {
		text := "short"
		parts := cascadeSplit(text, span{0, len(text)}, 100)

		require.Equal(t, []span{{0, 5}}, parts)
	})
}

func TestSentenceBoundaries(t *testing.T) {
	text := "Aa. Bb. Cc."
	bounds := sentenceBoundaries(text, span{0, len(text)})

	assert.Equal(t, []int{4, 8}, bounds, "boundary at the span end is not a split point")
}

func TestFirstBoundaryAtOrAfter(t *testing.T) {
	text := "Aa. Bb. Cc."
	s := span{0, len(text)}

	assert.Equal(t, 4, firstBoundaryAtOrAfter(text, s, 0))
	assert.Equal(t, 8, firstBoundaryAtOrAfter(text, s, 5))
	assert.Equal(t, s.end, firstBoundaryAtOrAfter(text, s, 9), "no boundary left falls back to the span end")
}

func TestFixedSplit(t *testing.T) {
	t.Run("hard cuts are flagged truncated", func(t *testing.T) {
		text := strings.Repeat("x", 25)
		windows := fixedSplit(text, span{0, len(text)}, 10, 3)

		require.Len(t, windows, 4)
		assert.Equal(t, span{0, 10}, windows[0].span)
		assert.Equal(t, span{7, 17}, windows[1].span)
		assert.Equal(t, span{14, 24}, windows[2].span)
		assert.Equal(t, span{21, 25}, windows[3].span)

		assert.True(t, windows[0].truncated)
		assert.True(t, windows[1].truncated)
		assert.True(t, windows[2].truncated)
		assert.False(t, windows[3].truncated, "final window ends at the range end")
	})

	t.Run("cuts snap back to sentence boundaries", func(t *testing.T) {
		text := "Aaaaa bbbbb ccccc. Ddddd eeeee fffff."
		windows := fixedSplit(text, span{0, len(text)}, 30, 5)

		require.Len(t, windows, 2)
		assert.Equal(t, span{0, 19}, windows[0].span)
		assert.Equal(t, "Aaaaa bbbbb ccccc. ", text[windows[0].start:windows[0].end])
		assert.False(t, windows[0].truncated)
		assert.Equal(t, span{14, 37}, windows[1].span)
		assert.False(t, windows[1].truncated)
	})

	t.Run("empty range yields no windows", func(t *testing.T) {
		assert.Nil(t, fixedSplit("abc", span{1, 1}, 10, 2))
	})

	t.Run("single window when range fits", func(t *testing.T) {
		text := "fits easily"
		windows := fixedSplit(text, span{0, len(text)}, 100, 10)

		require.Len(t, windows, 1)
		assert.Equal(t, span{0, len(text)}, windows[0].span)
		assert.False(t, windows[0].truncated)
	})
}

func TestMergeSpans(t *testing.T) {
	parts := []span{{0, 4}, {4, 8}, {8, 12}, {12, 16}}

	merged := mergeSpans(parts, 8)
	assert.Equal(t, []span{{0, 8}, {8, 16}}, merged)

	merged = mergeSpans(parts, 100)
	assert.Equal(t, []span{{0, 16}}, merged)

	merged = mergeSpans(parts, 4)
	assert.Equal(t, parts, merged)
}
