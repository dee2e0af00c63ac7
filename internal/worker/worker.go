package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils" // Using the SafeCommand wrapper
)

// ErrEngine wraps an error the Python side reported for a single frame.
// The worker is still healthy and the next frame can be sent.
var ErrEngine = errors.New("python worker error")

const (
	statusOK    = 0
	statusError = 1

	// Sanity bound on a single response; a few hundred faces at most.
	maxResponseBytes = 16 * 1024 * 1024
)

// Config controls how the embedding engine is launched.
type Config struct {
	Python      string        // interpreter, e.g. python3
	Script      string        // path to the worker script
	Model       string        // face detector model passed to the script (hog|cnn)
	ReadTimeout time.Duration // per-frame response deadline, 0 disables
}

// PythonWorker talks to one long-lived embedding engine process.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	cfg      Config
}

// NewPythonWorker starts the engine and wires a side-channel pipe (FD 3) for
// responses so stray prints on stdout cannot corrupt the protocol.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	args := []string{"-u", cfg.Script}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	py := utils.NewSafeCommand(ctx, cfg.Python, args...)

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		cfg:      cfg,
	}, nil
}

// Communicate sends one length-prefixed message and reads one back.
// Protocol: [Length uint32 BE][Data]
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if w.cfg.ReadTimeout > 0 {
		if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok {
			_ = d.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
		}
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponseBytes {
		return nil, fmt.Errorf("response too large: %d bytes", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Detect sends an RGB frame and returns every face the engine located,
// with boxes in the coordinates of that frame.
//
// Request:  [Width uint32][Height uint32][RGB bytes]
// Response: [Status:0][NumFaces uint32] then per face [Box 4xint32][Dim uint32][Vec Dim x float32]
//
//	or [Status:1][MsgLen uint32][Msg]
func (w *PythonWorker) Detect(ctx context.Context, task types.FrameTask) ([]types.DetectedFace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(task.Pix) != task.Width*task.Height*3 {
		return nil, fmt.Errorf("frame is %d bytes, want %dx%dx3", len(task.Pix), task.Width, task.Height)
	}

	req := make([]byte, 8+len(task.Pix))
	binary.BigEndian.PutUint32(req[0:4], uint32(task.Width))
	binary.BigEndian.PutUint32(req[4:8], uint32(task.Height))
	copy(req[8:], task.Pix)

	resp, err := w.Communicate(req)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", w.ID, err)
	}
	return decodeFaces(resp)
}

func decodeFaces(resp []byte) ([]types.DetectedFace, error) {
	rd := bufio.NewReader(bytes.NewReader(resp))

	status, err := rd.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty response: %w", err)
	}

	if status == statusError {
		var msgLen uint32
		if err := binary.Read(rd, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(rd, msg); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrEngine, msg)
	}
	if status != statusOK {
		return nil, fmt.Errorf("unknown status byte %d", status)
	}

	var numFaces uint32
	if err := binary.Read(rd, binary.BigEndian, &numFaces); err != nil {
		return nil, fmt.Errorf("reading face count: %w", err)
	}

	faces := make([]types.DetectedFace, 0, numFaces)
	for i := uint32(0); i < numFaces; i++ {
		var box [4]int32
		if err := binary.Read(rd, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("face %d box: %w", i, err)
		}
		var dim uint32
		if err := binary.Read(rd, binary.BigEndian, &dim); err != nil {
			return nil, fmt.Errorf("face %d dim: %w", i, err)
		}
		if dim > 4096 {
			return nil, fmt.Errorf("face %d: implausible encoding size %d", i, dim)
		}
		vec32 := make([]float32, dim)
		if err := binary.Read(rd, binary.BigEndian, vec32); err != nil {
			return nil, fmt.Errorf("face %d vec: %w", i, err)
		}
		vec := make([]float64, dim)
		for j, v := range vec32 {
			vec[j] = float64(v)
		}
		faces = append(faces, types.DetectedFace{
			Box:      types.Box{Top: int(box[0]), Right: int(box[1]), Bottom: int(box[2]), Left: int(box[3])},
			Encoding: vec,
		})
	}
	return faces, nil
}

// Close shuts the engine down and waits for it to exit.
func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
