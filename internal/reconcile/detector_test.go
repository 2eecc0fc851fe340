package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNeedsUpdate(t *testing.T) {
	current := "2026-03-01T10:00:00.000Z"

	stored := func(timestamps ...string) []Embedding {
		out := make([]Embedding, len(timestamps))
		for i, ts := range timestamps {
			out[i] = Embedding{
				ID:       "policy_p1_chunk0",
				Metadata: Metadata{UpdatedAt: ts},
			}
		}
		return out
	}

	tests := []struct {
		name     string
		existing []Embedding
		want     bool
	}{
		{
			name:     "no existing embeddings",
			existing: nil,
			want:     true,
		},
		{
			name:     "stored timestamp equals current",
			existing: stored(current),
			want:     false,
		},
		{
			name:     "stored timestamp newer than current",
			existing: stored("2026-03-02T00:00:00.000Z"),
			want:     false,
		},
		{
			name:     "stored timestamp older than current",
			existing: stored("2026-02-28T23:59:59.999Z"),
			want:     true,
		},
		{
			name:     "missing timestamp treated as stale",
			existing: stored(""),
			want:     true,
		},
		{
			name:     "one stale chunk makes the whole set stale",
			existing: stored(current, "2026-01-01T00:00:00.000Z", current),
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsUpdate(tt.existing, current))
		})
	}
}

func TestNeedsUpdateLexicographicOrder(t *testing.T) {
	// The canonical layout is fixed-width, so string comparison must agree
	// with chronological order across day, month and millisecond boundaries.
	pairs := [][2]string{
		{"2025-12-31T23:59:59.999Z", "2026-01-01T00:00:00.000Z"},
		{"2026-03-01T09:59:59.999Z", "2026-03-01T10:00:00.000Z"},
		{"2026-03-01T10:00:00.001Z", "2026-03-01T10:00:00.002Z"},
	}
	for _, pair := range pairs {
		older, newer := pair[0], pair[1]
		assert.True(t, NeedsUpdate([]Embedding{{Metadata: Metadata{UpdatedAt: older}}}, newer),
			"%s should be stale against %s", older, newer)
		assert.False(t, NeedsUpdate([]Embedding{{Metadata: Metadata{UpdatedAt: newer}}}, older),
			"%s should be fresh against %s", newer, older)
	}
}
