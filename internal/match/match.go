// Package match finds the closest known identity for a detected face.
package match

import (
	"math"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
)

// DefaultTolerance is the largest distance still accepted as the same person.
const DefaultTolerance = 0.5

// Match compares face against every roster entry and returns the nearest one
// if it is within tolerance (lower is stricter).
//
// Entries are scanned in roster order and only a strictly smaller distance
// replaces the current best, so on ties the earliest entry wins. With an
// empty roster the result is always unknown.
func Match(face types.DetectedFace, roster []types.RosterEntry, tolerance float64) types.MatchResult {
	if len(roster) == 0 {
		return types.MatchResult{Distance: math.Inf(1)}
	}

	bestMatch := -1
	minDist := math.Inf(1)
	for i, entry := range roster {
		dist := utils.EuclideanDist(face.Encoding, entry.Encoding)
		if dist < minDist {
			minDist = dist
			bestMatch = i
		}
	}

	if bestMatch == -1 || minDist > tolerance {
		return types.MatchResult{Distance: minDist}
	}

	best := roster[bestMatch]
	return types.MatchResult{
		Matched:     true,
		IdentityID:  best.IdentityID,
		DisplayName: best.DisplayName,
		Distance:    minDist,
	}
}
