// Package report submits presence marks and unknown-face snapshots to the
// attendance store on behalf of the capture loop.
package report

import (
	"context"
	"log/slog"

	"github.com/andresmejia3/rollcall/internal/metrics"
	"github.com/andresmejia3/rollcall/internal/types"
)

// Store is the part of the store client the sink calls.
type Store interface {
	MarkAttendance(ctx context.Context, mark types.PresenceMark) (types.Attendance, error)
	LogUnknown(ctx context.Context, report types.UnknownFaceReport) (types.UnknownFace, error)
}

// Sink is best-effort: one attempt per call, no queue, no retry.
// Failures are logged at debug, counted, and returned to the caller.
type Sink struct {
	store Store
}

func NewSink(store Store) *Sink {
	return &Sink{store: store}
}

// SubmitMark sends one presence mark.
func (s *Sink) SubmitMark(ctx context.Context, mark types.PresenceMark) error {
	if mark.Source == "" {
		mark.Source = types.SourceAgent
	}
	rec, err := s.store.MarkAttendance(ctx, mark)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("mark", "error").Inc()
		slog.Debug("mark submission failed", "student_id", mark.IdentityID, "room_id", mark.RoomID, "error", err)
		return err
	}
	metrics.SubmissionsTotal.WithLabelValues("mark", "ok").Inc()
	slog.Debug("mark submitted", "student_id", mark.IdentityID, "room_id", mark.RoomID, "attendance_id", rec.ID)
	return nil
}

// SubmitUnknown uploads one unknown-face snapshot.
func (s *Sink) SubmitUnknown(ctx context.Context, report types.UnknownFaceReport) error {
	rec, err := s.store.LogUnknown(ctx, report)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("unknown", "error").Inc()
		slog.Debug("unknown face submission failed", "room_id", report.RoomID, "bytes", len(report.Snapshot), "error", err)
		return err
	}
	metrics.SubmissionsTotal.WithLabelValues("unknown", "ok").Inc()
	slog.Debug("unknown face logged", "room_id", report.RoomID, "id", rec.ID)
	return nil
}
