package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/andresmejia3/rollcall/internal/camera"
	"github.com/andresmejia3/rollcall/internal/capture"
	"github.com/andresmejia3/rollcall/internal/client"
	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/match"
	"github.com/andresmejia3/rollcall/internal/metrics"
	"github.com/andresmejia3/rollcall/internal/presence"
	"github.com/andresmejia3/rollcall/internal/report"
	"github.com/andresmejia3/rollcall/internal/roster"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/andresmejia3/rollcall/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Watch one room's camera and mark recognised students present",
	Long: `Loads the room's roster from the attendance store, then reads frames from the
camera, recognises faces and submits one presence mark per student per cooldown
window. Press q in the preview window or Ctrl+C to stop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAgent(settings)
		if err != nil {
			return err
		}
		if err := validateAgentFlags(&cfg); err != nil {
			return err
		}
		cmd.SilenceUsage = true
		return runAgent(cmd.Context(), cfg)
	},
}

func init() {
	addAgentFlags(agentCmd.Flags())
	rootCmd.AddCommand(agentCmd)
}

func addAgentFlags(fs *pflag.FlagSet) {
	fs.String("room-id", "", "Room this agent reports attendance for")
	fs.String("roster-scope", config.RosterAll, "Students to recognise: all enrolled students, or only those assigned to --room-id (all|room)")
	fs.String("camera", "0", "Camera device index or stream URL")
	fs.Float64("scale", capture.DefaultScale, "Downscale factor applied before detection, in (0, 1]")
	fs.Float64("tolerance", match.DefaultTolerance, "Maximum encoding distance for a match (lower is stricter)")
	fs.Bool("unknown", false, "Upload snapshots of faces that match nobody")
	fs.Duration("cooldown", presence.DefaultCooldown, "Minimum time between marks for the same student")
	fs.Int("min-dim", roster.MinEncodingDim, "Shortest roster encoding accepted")
	fs.Duration("read-retry", capture.DefaultReadRetry, "Pause after a failed camera read")
	fs.Int("max-read-failures", 0, "Consecutive failed reads before giving up (0 retries forever)")
	fs.Bool("preview", true, "Show an annotated preview window")
	fs.Duration("report-timeout", client.DefaultTimeout, "Timeout for each call to the attendance store")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address (empty disables)")
	addWorkerFlags(fs)
}

func addWorkerFlags(fs *pflag.FlagSet) {
	fs.String("python", "python3", "Python interpreter for the embedding engine")
	fs.String("worker-script", "python/worker.py", "Path to the embedding engine script")
	fs.String("model", "hog", "Face detector model: hog (CPU) or cnn (GPU)")
	fs.Duration("worker-timeout", 30*time.Second, "Deadline for one engine response (0 disables)")
}

// validateAgentFlags checks what config validation cannot: the backend URL
// shape and that the engine script exists.
func validateAgentFlags(cfg *config.Agent) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := validateBackend(cfg.Backend); err != nil {
		return err
	}
	return validateWorkerScript(cfg.WorkerScript)
}

func validateBackend(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("--backend must be an http(s) URL, got %q", raw)
	}
	return nil
}

func validateWorkerScript(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("engine script %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("engine script %s is a directory", path)
	}
	return nil
}

func workerConfig(cfg config.Agent) worker.Config {
	return worker.Config{
		Python:      cfg.Python,
		Script:      cfg.WorkerScript,
		Model:       cfg.Model,
		ReadTimeout: cfg.WorkerTimeout,
	}
}

// runAgent opens the camera, loads the roster and starts the engine, in that
// order; any failure there is fatal. It then runs the capture loop.
func runAgent(ctx context.Context, cfg config.Agent) error {
	fmt.Fprintf(os.Stderr, "📷 Opening camera %s...\n", cfg.Camera)
	cam, err := camera.Open(cfg.Camera)
	if err != nil {
		utils.ShowError("Failed to open camera", err, nil)
		return err
	}
	defer cam.Close()

	store := client.New(cfg.Backend, cfg.ReportTimeout)
	if err := checkRoom(ctx, store, cfg.RoomID); err != nil {
		utils.ShowError("Failed to load roster", err, nil)
		return err
	}
	entries, err := roster.Load(ctx, store, cfg.RosterFilter(), cfg.MinDim)
	if err != nil {
		utils.ShowError("Failed to load roster", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "👥 Loaded %d students (%s) for room %s\n", len(entries), cfg.RosterScope, cfg.RoomID)

	fmt.Fprintln(os.Stderr, "🚀 Starting embedding engine...")
	w, err := worker.NewPythonWorker(ctx, 0, workerConfig(cfg))
	if err != nil {
		utils.ShowError("Failed to start embedding engine", err, nil)
		return err
	}
	defer w.Close()

	if cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(cfg.MetricsAddr)
		defer stopMetrics()
	}

	var preview capture.Preview
	if cfg.Preview {
		win := camera.NewWindow("rollcall - " + cfg.RoomID)
		defer win.Close()
		preview = win
	}

	loop := capture.New(capture.Config{
		RoomID:          cfg.RoomID,
		Scale:           cfg.Scale,
		Tolerance:       cfg.Tolerance,
		ReportUnknown:   cfg.Unknown,
		ReadRetry:       cfg.ReadRetry,
		MaxReadFailures: cfg.MaxReadFailures,
	}, cam, w, entries, presence.NewCooldown(cfg.Cooldown), report.NewSink(store), preview)

	fmt.Fprintln(os.Stderr, "👀 Watching. Press q in the preview or Ctrl+C to stop.")
	if err := loop.Run(ctx); err != nil {
		if errors.Is(err, capture.ErrCameraDead) {
			utils.ShowError("Camera stopped", err, nil)
		} else {
			utils.ShowError("Capture loop failed", err, w.Cmd)
		}
		return err
	}
	fmt.Fprintln(os.Stderr, "👋 Stopped.")
	return nil
}

type roomLister interface {
	ListRooms(ctx context.Context) ([]types.Room, error)
}

// checkRoom fails unless roomID is registered in the store. Marks and
// unknown-face reports for an unregistered room are rejected by the store,
// and the loop drops those failures silently.
func checkRoom(ctx context.Context, rl roomLister, roomID string) error {
	rooms, err := rl.ListRooms(ctx)
	if err != nil {
		return fmt.Errorf("listing rooms: %w", err)
	}
	for _, r := range rooms {
		if r.ID == roomID {
			return nil
		}
	}
	return fmt.Errorf("room %q is not registered in the attendance store (see rollcall room list)", roomID)
}

// serveMetrics exposes /metrics in the background and returns a shutdown func.
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "⚠️  Metrics server failed: %v\n", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
