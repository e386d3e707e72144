package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripAccents(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain ascii", "hello", "hello"},
		{"french accents", "Pâté crème", "Pate creme"},
		{"portuguese", "São Tomé", "Sao Tome"},
		{"empty", "", ""},
		{"mixed", "naïve résumé", "naive resume"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripAccents(tt.input))
		})
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected float64
	}{
		{"identical", "portugal", "portugal", 1.0},
		{"case insensitive", "Portugal", "PORTUGAL", 1.0},
		{"accent insensitive", "São Paulo", "Sao Paulo", 1.0},
		{"both empty", "", "", 1.0},
		{"disjoint", "abc", "xyz", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Similarity(tt.a, tt.b), 0.0001)
		})
	}
}

func TestSimilarityPartial(t *testing.T) {
	// one substitution over eight characters
	got := Similarity("portugal", "portugel")
	assert.InDelta(t, 0.875, got, 0.0001)

	assert.Greater(t, Similarity("france", "frances"), 0.8)
	assert.Less(t, Similarity("france", "germany"), 0.5)
}
