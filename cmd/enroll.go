package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresmejia3/rollcall/internal/camera"
	"github.com/andresmejia3/rollcall/internal/client"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/andresmejia3/rollcall/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true}

type enrollOptions struct {
	Name   string
	RoomID string
	RollNo string
}

var enrollOpts enrollOptions

var enrollCmd = &cobra.Command{
	Use:   "enroll <image_or_dir>",
	Short: "Encode face photos and register them as students",
	Long: `Runs the embedding engine on one image, or on every image in a directory, and
registers a student per image with the encoding of its largest face. The student
name is --name for a single image, otherwise the file name without extension.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := requireBackend()
		if err != nil {
			return err
		}
		files, err := collectImages(args[0])
		if err != nil {
			return err
		}
		if len(files) > 1 && (enrollOpts.Name != "" || enrollOpts.RollNo != "") {
			return errors.New("--name and --roll-no can only be used with a single image")
		}
		wcfg := worker.Config{
			Python:      settings.GetString("python"),
			Script:      settings.GetString("worker-script"),
			Model:       settings.GetString("model"),
			ReadTimeout: settings.GetDuration("worker-timeout"),
		}
		if err := validateWorkerScript(wcfg.Script); err != nil {
			return err
		}
		cmd.SilenceUsage = true
		return runEnroll(cmd.Context(), client.New(backend, 0), wcfg, files, enrollOpts)
	},
}

func init() {
	enrollCmd.Flags().StringVar(&enrollOpts.Name, "name", "", "Student name (single image only; defaults to the file name)")
	enrollCmd.Flags().StringVar(&enrollOpts.RoomID, "room-id", "", "Assign the students to this room")
	enrollCmd.Flags().StringVar(&enrollOpts.RollNo, "roll-no", "", "Roll number (single image only)")
	addWorkerFlags(enrollCmd.Flags())
	rootCmd.AddCommand(enrollCmd)
}

// collectImages returns path itself, or the sorted image files directly inside it.
func collectImages(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", path)
	}
	sort.Strings(files)
	return files, nil
}

// largestFace picks the face with the biggest box area.
func largestFace(faces []types.DetectedFace) (types.DetectedFace, bool) {
	if len(faces) == 0 {
		return types.DetectedFace{}, false
	}
	best := faces[0]
	bestArea := best.Box.Rect().Dx() * best.Box.Rect().Dy()
	for _, f := range faces[1:] {
		if area := f.Box.Rect().Dx() * f.Box.Rect().Dy(); area > bestArea {
			best, bestArea = f, area
		}
	}
	return best, true
}

func studentName(file string, opts enrollOptions) string {
	if opts.Name != "" {
		return opts.Name
	}
	return strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
}

func runEnroll(ctx context.Context, cl *client.Client, wcfg worker.Config, files []string, opts enrollOptions) error {
	fmt.Fprintln(os.Stderr, "🚀 Starting embedding engine...")
	w, err := worker.NewPythonWorker(ctx, 0, wcfg)
	if err != nil {
		utils.ShowError("Failed to start embedding engine", err, nil)
		return err
	}
	defer w.Close()

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("🧑‍🎓 Enrolling"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	var enrolled []types.Student
	var skipped []string
	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		st, err := enrollOne(ctx, cl, w, file, opts)
		bar.Add(1)
		if err != nil {
			if ctx.Err() == nil && !isSkippable(err) {
				bar.Finish()
				utils.ShowError("Enrollment failed on "+file, err, w.Cmd)
				return err
			}
			skipped = append(skipped, fmt.Sprintf("%s: %v", filepath.Base(file), err))
			continue
		}
		enrolled = append(enrolled, st)
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	for _, st := range enrolled {
		fmt.Printf("✅ %s enrolled as %s\n", st.Name, st.ID)
	}
	for _, s := range skipped {
		fmt.Printf("⚠️  Skipped %s\n", s)
	}
	return ctx.Err()
}

// errNoFace marks an image that cannot be enrolled but does not stop a batch.
type errNoFace struct{ reason string }

func (e errNoFace) Error() string { return e.reason }

func isSkippable(err error) bool {
	var nf errNoFace
	return errors.As(err, &nf) || errors.Is(err, worker.ErrEngine)
}

func enrollOne(ctx context.Context, cl *client.Client, w *worker.PythonWorker, file string, opts enrollOptions) (types.Student, error) {
	frame, err := camera.LoadImage(file)
	if err != nil {
		return types.Student{}, errNoFace{reason: err.Error()}
	}
	defer frame.Close()

	task, err := frame.DownscaleRGB(1)
	if err != nil {
		return types.Student{}, errNoFace{reason: err.Error()}
	}
	faces, err := w.Detect(ctx, task)
	if err != nil {
		return types.Student{}, err
	}
	face, ok := largestFace(faces)
	if !ok {
		return types.Student{}, errNoFace{reason: "no face detected"}
	}

	in := types.StudentInput{Name: studentName(file, opts), Encoding: face.Encoding}
	if opts.RoomID != "" {
		in.RoomID = &opts.RoomID
	}
	if opts.RollNo != "" {
		in.RollNo = &opts.RollNo
	}
	return cl.CreateStudent(ctx, in)
}
