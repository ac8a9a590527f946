package ui

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSparkline_Render(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		width   int
		want    string
	}{
		{"empty pads with spaces", nil, 3, "   "},
		{"scaled to peak", []float64{0, 7}, 2, "▁█"},
		{"left padded", []float64{7}, 3, "  █"},
		{"newest samples win", []float64{7, 0, 0}, 2, "▁▁"},
		{"zero width", []float64{1}, 0, ""},
		{"negative clamped", []float64{-5, 7}, 2, "▁█"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSparkline(10)
			for _, v := range tt.samples {
				s.Add(v)
			}
			assert.Equal(t, tt.want, s.Render(tt.width))
		})
	}
}

func TestSparkline_KeepsLimit(t *testing.T) {
	// Given: a sparkline holding three samples
	s := NewSparkline(3)

	// When: five are added
	for i := 1; i <= 5; i++ {
		s.Add(float64(i))
	}

	// Then: only the newest three remain
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 3, utf8.RuneCountInString(s.Render(5))-2)
}
