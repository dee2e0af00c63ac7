package match

import (
	"testing"

	"github.com/andresmejia3/rollcall/internal/types"
)

// unit returns a 128-d vector with a single 1.0 at position i.
func unit(i int) []float64 {
	v := make([]float64, 128)
	v[i] = 1.0
	return v
}

func TestMatchEmptyRoster(t *testing.T) {
	face := types.DetectedFace{Encoding: unit(0)}
	for _, tol := range []float64{0, 0.5, 1, 1e9} {
		if got := Match(face, nil, tol); got.Matched {
			t.Errorf("Match(empty, tol=%v) matched %q, want unknown", tol, got.IdentityID)
		}
	}
}

func TestMatch(t *testing.T) {
	scaled := unit(0)
	scaled[0] = 0.8 // distance 0.2 from unit(0)
	half := unit(0)
	half[0] = 0.5 // distance exactly 0.5 from unit(0)

	tests := []struct {
		name      string
		roster    []types.RosterEntry
		enc       []float64
		tolerance float64
		wantMatch bool
		wantID    string
	}{
		{
			name:      "Exact match",
			roster:    []types.RosterEntry{{IdentityID: "A", Encoding: unit(0)}},
			enc:       unit(0),
			tolerance: DefaultTolerance,
			wantMatch: true,
			wantID:    "A",
		},
		{
			name:      "Orthogonal is unknown",
			roster:    []types.RosterEntry{{IdentityID: "A", Encoding: unit(0)}},
			enc:       unit(1), // distance ~1.414
			tolerance: DefaultTolerance,
			wantMatch: false,
		},
		{
			name: "Nearest wins",
			roster: []types.RosterEntry{
				{IdentityID: "far", Encoding: unit(1)},
				{IdentityID: "near", Encoding: scaled},
			},
			enc:       unit(0),
			tolerance: DefaultTolerance,
			wantMatch: true,
			wantID:    "near",
		},
		{
			name: "Tie goes to first in roster order",
			roster: []types.RosterEntry{
				{IdentityID: "first", Encoding: unit(0)},
				{IdentityID: "second", Encoding: unit(0)},
			},
			enc:       unit(0),
			tolerance: DefaultTolerance,
			wantMatch: true,
			wantID:    "first",
		},
		{
			name:      "Distance equal to tolerance matches",
			roster:    []types.RosterEntry{{IdentityID: "A", Encoding: half}},
			enc:       unit(0),
			tolerance: 0.5,
			wantMatch: true,
			wantID:    "A",
		},
		{
			name:      "Just outside tolerance is unknown",
			roster:    []types.RosterEntry{{IdentityID: "A", Encoding: half}},
			enc:       unit(0),
			tolerance: 0.49,
			wantMatch: false,
		},
		{
			name:      "Zero tolerance still matches exact",
			roster:    []types.RosterEntry{{IdentityID: "A", Encoding: unit(3)}},
			enc:       unit(3),
			tolerance: 0,
			wantMatch: true,
			wantID:    "A",
		},
		{
			name:      "Dimension mismatch never matches",
			roster:    []types.RosterEntry{{IdentityID: "A", Encoding: unit(0)[:64]}},
			enc:       unit(0),
			tolerance: 100,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match(types.DetectedFace{Encoding: tt.enc}, tt.roster, tt.tolerance)
			if got.Matched != tt.wantMatch {
				t.Fatalf("Matched = %v (dist %.3f), want %v", got.Matched, got.Distance, tt.wantMatch)
			}
			if got.IdentityID != tt.wantID {
				t.Errorf("IdentityID = %q, want %q", got.IdentityID, tt.wantID)
			}
		})
	}
}
