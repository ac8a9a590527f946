package ui

import "strings"

// sparkBars are the eight block heights, lowest first.
var sparkBars = []rune("▁▂▃▄▅▆▇█")

// Sparkline keeps the most recent samples for a throughput chart.
type Sparkline struct {
	samples []float64
	limit   int
}

// NewSparkline keeps up to limit samples. limit <= 0 keeps 60.
func NewSparkline(limit int) *Sparkline {
	if limit <= 0 {
		limit = 60
	}
	return &Sparkline{limit: limit}
}

// Add appends a sample, dropping the oldest when full.
func (s *Sparkline) Add(v float64) {
	if v < 0 {
		v = 0
	}
	s.samples = append(s.samples, v)
	if len(s.samples) > s.limit {
		s.samples = s.samples[len(s.samples)-s.limit:]
	}
}

// Len returns the number of samples held.
func (s *Sparkline) Len() int {
	return len(s.samples)
}

// Render draws the newest width samples scaled to their own maximum,
// left-padded with spaces to width.
func (s *Sparkline) Render(width int) string {
	if width <= 0 {
		return ""
	}
	shown := s.samples
	if len(shown) > width {
		shown = shown[len(shown)-width:]
	}

	peak := 0.0
	for _, v := range shown {
		peak = max(peak, v)
	}

	var sb strings.Builder
	sb.WriteString(strings.Repeat(" ", width-len(shown)))
	for _, v := range shown {
		i := 0
		if peak > 0 {
			i = int(v / peak * float64(len(sparkBars)-1))
		}
		sb.WriteRune(sparkBars[i])
	}
	return sb.String()
}
