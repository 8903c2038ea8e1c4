package ui

import (
	"strings"
)

// Sparkline renders a text-based throughput chart using Unicode block
// characters. Samples live in a ring buffer so the display always shows
// the most recent window.
type Sparkline struct {
	samples []float64 // Ring buffer of samples
	width   int       // Capacity (number of bars at full width)
	head    int       // Next write position in the ring
	count   int       // Number of samples added
	max     float64   // Maximum value seen, for scaling
}

// SparklineChars are the block characters for rendering, 8 levels from
// lowest to full.
var SparklineChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// NewSparkline creates a sparkline holding width samples.
func NewSparkline(width int) *Sparkline {
	if width <= 0 {
		width = 60
	}
	return &Sparkline{
		samples: make([]float64, width),
		width:   width,
	}
}

// Add appends a sample, evicting the oldest once the buffer is full.
func (s *Sparkline) Add(value float64) {
	s.samples[s.head] = value
	s.head = (s.head + 1) % s.width
	s.count++

	if value > s.max {
		s.max = value
	}

	// Recompute max once per full rotation so a throughput drop
	// eventually rescales the chart
	if s.count%s.width == 0 {
		s.recalculateMax()
	}
}

// recalculateMax finds the current maximum in the buffer.
func (s *Sparkline) recalculateMax() {
	s.max = 0
	for _, v := range s.samples {
		if v > s.max {
			s.max = v
		}
	}
	if s.max < 1 {
		s.max = 1
	}
}

// Render returns the sparkline at full width.
func (s *Sparkline) Render() string {
	return s.render(s.width)
}

// RenderWidth returns the sparkline truncated to the given display width,
// keeping the most recent samples. Zero or oversized widths render the
// full buffer.
func (s *Sparkline) RenderWidth(width int) string {
	if width <= 0 || width > s.width {
		width = s.width
	}
	return s.render(width)
}

// render draws the newest min(count, width) samples right-padded with
// spaces while the buffer is still filling.
func (s *Sparkline) render(width int) string {
	if s.count == 0 {
		return strings.Repeat(string(SparklineChars[0]), width)
	}

	if s.max <= 0 {
		s.recalculateMax()
	}

	// Oldest retained sample position
	numSamples := s.count
	if numSamples > s.width {
		numSamples = s.width
	}
	start := 0
	if s.count >= s.width {
		start = s.head
	}

	// Skip samples that do not fit the requested width
	skip := 0
	if numSamples > width {
		skip = numSamples - width
	}

	var sb strings.Builder
	sb.Grow(width * 3) // Block characters are 3 bytes in UTF-8

	for i := skip; i < numSamples; i++ {
		idx := (start + i) % s.width
		sb.WriteRune(SparklineChars[s.level(s.samples[idx])])
	}
	for rendered := numSamples - skip; rendered < width; rendered++ {
		sb.WriteRune(' ')
	}

	return sb.String()
}

// level maps a sample to a block character index.
func (s *Sparkline) level(value float64) int {
	if s.max <= 0 {
		return 0
	}
	idx := int(value / s.max * float64(len(SparklineChars)-1))
	if idx < 0 {
		return 0
	}
	if idx >= len(SparklineChars) {
		return len(SparklineChars) - 1
	}
	return idx
}

// Clear resets the sparkline.
func (s *Sparkline) Clear() {
	for i := range s.samples {
		s.samples[i] = 0
	}
	s.head = 0
	s.count = 0
	s.max = 0
}

// Count returns the number of samples added.
func (s *Sparkline) Count() int {
	return s.count
}

// Max returns the current maximum value.
func (s *Sparkline) Max() float64 {
	return s.max
}
