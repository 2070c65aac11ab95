package ui

import "strings"

var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline keeps the last N samples and draws them with block characters.
type Sparkline struct {
	samples []float64
	next    int
	filled  int
}

// NewSparkline creates a sparkline holding capacity samples.
func NewSparkline(capacity int) *Sparkline {
	if capacity <= 0 {
		capacity = 60
	}
	return &Sparkline{samples: make([]float64, capacity)}
}

// Add appends a sample, evicting the oldest when full.
func (s *Sparkline) Add(v float64) {
	s.samples[s.next] = v
	s.next = (s.next + 1) % len(s.samples)
	if s.filled < len(s.samples) {
		s.filled++
	}
}

// Clear drops all samples.
func (s *Sparkline) Clear() {
	clear(s.samples)
	s.next = 0
	s.filled = 0
}

// Len returns the number of samples held.
func (s *Sparkline) Len() int {
	return s.filled
}

// recent returns up to n samples, oldest first.
func (s *Sparkline) recent(n int) []float64 {
	n = min(n, s.filled)
	out := make([]float64, 0, n)
	start := s.next - n
	for i := range n {
		out = append(out, s.samples[(start+i+len(s.samples))%len(s.samples)])
	}
	return out
}

// RenderWithWidth draws the newest width samples scaled to the largest
// visible one, left padded with spaces. width <= 0 means the full capacity.
func (s *Sparkline) RenderWithWidth(width int) string {
	if width <= 0 {
		width = len(s.samples)
	}
	vals := s.recent(width)

	peak := 0.0
	for _, v := range vals {
		peak = max(peak, v)
	}

	var sb strings.Builder
	sb.WriteString(strings.Repeat(" ", width-len(vals)))
	for _, v := range vals {
		idx := 0
		if peak > 0 {
			idx = int(v / peak * float64(len(sparkBlocks)-1))
		}
		idx = max(0, min(idx, len(sparkBlocks)-1))
		sb.WriteRune(sparkBlocks[idx])
	}
	return sb.String()
}
