// Package capture runs the per-room recognition loop: read a frame, find
// faces, match them against the roster and report what it saw.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/andresmejia3/rollcall/internal/match"
	"github.com/andresmejia3/rollcall/internal/metrics"
	"github.com/andresmejia3/rollcall/internal/presence"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/worker"
)

// ErrCameraDead is returned by Run when MaxReadFailures consecutive reads fail.
var ErrCameraDead = errors.New("camera stopped producing frames")

const (
	DefaultScale     = 0.25
	DefaultReadRetry = 100 * time.Millisecond
	UnknownLabel     = "Unknown"
)

// Frame is one captured image in the camera's native BGR layout.
type Frame interface {
	Size() image.Point
	// DownscaleRGB resizes by scale and converts to packed RGB for detection.
	DownscaleRGB(scale float64) (types.FrameTask, error)
	// EncodeJPEG crops r (full-resolution coordinates) and encodes it.
	EncodeJPEG(r image.Rectangle) ([]byte, error)
	Annotate(r image.Rectangle, label string, known bool)
	Close() error
}

type Camera interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// Detector finds faces and their encodings in a downscaled RGB frame.
type Detector interface {
	Detect(ctx context.Context, task types.FrameTask) ([]types.DetectedFace, error)
}

// Reporter submits marks and unknown-face snapshots. Returned errors are
// informational only; the loop never acts on them.
type Reporter interface {
	SubmitMark(ctx context.Context, mark types.PresenceMark) error
	SubmitUnknown(ctx context.Context, report types.UnknownFaceReport) error
}

// Preview displays an annotated frame and reports whether the operator asked to stop.
type Preview interface {
	Show(f Frame) (stop bool)
}

// Config is the per-room loop configuration.
type Config struct {
	RoomID          string
	Scale           float64
	Tolerance       float64
	ReportUnknown   bool
	ReadRetry       time.Duration
	MaxReadFailures int // 0 retries forever
}

// Outcome describes one face in a processed frame.
type Outcome struct {
	Box    image.Rectangle // full-resolution, clipped to the frame
	Result types.MatchResult
	Marked bool // a mark submission was attempted
}

type Loop struct {
	cfg      Config
	camera   Camera
	detector Detector
	roster   []types.RosterEntry
	cooldown *presence.Cooldown
	reporter Reporter
	preview  Preview

	now func() time.Time
}

// New builds a loop. preview may be nil for headless operation.
func New(cfg Config, cam Camera, det Detector, roster []types.RosterEntry, cooldown *presence.Cooldown, rep Reporter, preview Preview) *Loop {
	if cfg.Scale <= 0 || cfg.Scale > 1 {
		cfg.Scale = DefaultScale
	}
	if cfg.ReadRetry <= 0 {
		cfg.ReadRetry = DefaultReadRetry
	}
	if cooldown == nil {
		cooldown = presence.NewCooldown(presence.DefaultCooldown)
	}
	return &Loop{
		cfg:      cfg,
		camera:   cam,
		detector: det,
		roster:   roster,
		cooldown: cooldown,
		reporter: rep,
		preview:  preview,
		now:      time.Now,
	}
}

// Run loops until ctx is cancelled, the preview asks to stop, the camera is
// declared dead, or the detector breaks. A clean stop returns nil.
func (l *Loop) Run(ctx context.Context) error {
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := l.camera.Read(ctx)
		if err != nil {
			failures++
			metrics.FrameReadFailures.WithLabelValues(l.cfg.RoomID).Inc()
			if l.cfg.MaxReadFailures > 0 && failures >= l.cfg.MaxReadFailures {
				return fmt.Errorf("%w: %d consecutive read failures: %v", ErrCameraDead, failures, err)
			}
			slog.Debug("frame read failed, retrying", "room_id", l.cfg.RoomID, "failures", failures, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(l.cfg.ReadRetry):
			}
			continue
		}
		failures = 0

		stop, err := l.step(ctx, frame)
		frame.Close()
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

func (l *Loop) step(ctx context.Context, frame Frame) (bool, error) {
	outcomes, err := l.ProcessFrame(ctx, frame)
	if err != nil {
		return false, err
	}
	if l.preview == nil {
		return false, nil
	}
	for _, o := range outcomes {
		label := UnknownLabel
		if o.Result.Matched {
			label = o.Result.DisplayName
		}
		frame.Annotate(o.Box, label, o.Result.Matched)
	}
	return l.preview.Show(frame), nil
}

// ProcessFrame detects, matches and reports every face in frame. An error
// reported by the engine for this frame skips it; any other detector error is
// returned and ends the loop.
func (l *Loop) ProcessFrame(ctx context.Context, frame Frame) ([]Outcome, error) {
	task, err := frame.DownscaleRGB(l.cfg.Scale)
	if err != nil {
		slog.Warn("could not prepare frame", "error", err)
		return nil, nil
	}

	faces, err := l.detector.Detect(ctx, task)
	if err != nil {
		if errors.Is(err, worker.ErrEngine) {
			slog.Warn("skipping frame", "error", err)
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("embedding engine failed: %w", err)
	}
	metrics.FramesTotal.WithLabelValues(l.cfg.RoomID).Inc()

	bounds := image.Rectangle{Max: frame.Size()}
	outcomes := make([]Outcome, 0, len(faces))
	for _, face := range faces {
		box := face.Box.Rescale(l.cfg.Scale).Rect().Intersect(bounds)
		res := match.Match(face, l.roster, l.cfg.Tolerance)
		o := Outcome{Box: box, Result: res}

		if res.Matched {
			metrics.FacesTotal.WithLabelValues(l.cfg.RoomID, "matched").Inc()
			now := l.now()
			if l.cooldown.ShouldMark(res.IdentityID, now) {
				_ = l.reporter.SubmitMark(ctx, types.PresenceMark{
					IdentityID: res.IdentityID,
					RoomID:     l.cfg.RoomID,
					Timestamp:  now.UTC(),
					Source:     types.SourceAgent,
				})
				l.cooldown.RecordMark(res.IdentityID, now)
				o.Marked = true
			}
		} else {
			metrics.FacesTotal.WithLabelValues(l.cfg.RoomID, "unknown").Inc()
			if l.cfg.ReportUnknown {
				l.reportUnknown(ctx, frame, box)
			}
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

func (l *Loop) reportUnknown(ctx context.Context, frame Frame, box image.Rectangle) {
	if box.Empty() {
		return
	}
	snap, err := frame.EncodeJPEG(box)
	if err != nil {
		slog.Debug("could not encode unknown face", "error", err)
		return
	}
	_ = l.reporter.SubmitUnknown(ctx, types.UnknownFaceReport{
		RoomID:    l.cfg.RoomID,
		Timestamp: l.now().UTC(),
		Snapshot:  snap,
	})
}
