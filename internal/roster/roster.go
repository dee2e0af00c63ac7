// Package roster loads the known identities an agent matches against.
package roster

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/andresmejia3/rollcall/internal/types"
)

// MinEncodingDim is the shortest encoding accepted into the roster.
const MinEncodingDim = 128

// Source is the part of the store client the roster needs.
type Source interface {
	ListStudents(ctx context.Context, roomID string) ([]types.Student, error)
}

// Load fetches students (only roomID's when set) and keeps those with an id
// and an encoding of at least minDim values. Incomplete documents are
// dropped, not reported as errors. The result is a snapshot; there is no
// refresh short of calling Load again.
func Load(ctx context.Context, src Source, roomID string, minDim int) ([]types.RosterEntry, error) {
	students, err := src.ListStudents(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("loading roster: %w", err)
	}

	entries := make([]types.RosterEntry, 0, len(students))
	for _, s := range students {
		if s.ID == "" || len(s.Encoding) < minDim {
			slog.Debug("skipping roster entry", "id", s.ID, "name", s.Name, "encoding_len", len(s.Encoding))
			continue
		}
		enc := make([]float64, len(s.Encoding))
		copy(enc, s.Encoding)
		entries = append(entries, types.RosterEntry{
			IdentityID:  s.ID,
			DisplayName: s.Name,
			Encoding:    enc,
		})
	}
	return entries, nil
}
