package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/andresmejia3/rollcall/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// writeResponse frames payload the way the Python side does on FD 3.
func writeResponse(pipe *MockCloser, payload []byte) {
	binary.Write(pipe, binary.BigEndian, uint32(len(payload)))
	pipe.Write(payload)
}

func TestDetect(t *testing.T) {
	// 1. Setup Mocks
	// stdinMock simulates the pipe TO Python (we write to it)
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	// dataPipeMock simulates the pipe FROM Python (we read from it)
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	// 2. Pre-fill dataPipeMock with a fake response from "Python"
	// Protocol: [Status:0] [NumFaces:1] [Box] [Dim] [Vec]
	payload := new(bytes.Buffer)
	payload.WriteByte(0)                                              // Status OK
	binary.Write(payload, binary.BigEndian, uint32(1))                // 1 Face
	binary.Write(payload, binary.BigEndian, [4]int32{10, 40, 30, 20}) // Box
	binary.Write(payload, binary.BigEndian, uint32(128))              // Dim
	vec := [128]float32{}
	vec[0] = 0.5 // Set one value to verify
	binary.Write(payload, binary.BigEndian, vec)
	writeResponse(dataPipeMock, payload.Bytes())

	// 3. Create Worker with mocks injected
	w := &PythonWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	// 4. Execute the function under test: a 2x1 RGB frame
	task := types.FrameTask{Width: 2, Height: 1, Pix: []byte{1, 2, 3, 4, 5, 6}}
	faces, err := w.Detect(context.Background(), task)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	// 5. Assertions

	// Verify Go sent [len][w][h][pix] TO Python
	sent := stdinMock.Bytes()
	if len(sent) != 4+8+len(task.Pix) {
		t.Fatalf("Expected %d bytes sent, got %d", 4+8+len(task.Pix), len(sent))
	}
	if binary.BigEndian.Uint32(sent[4:8]) != 2 || binary.BigEndian.Uint32(sent[8:12]) != 1 {
		t.Errorf("Frame dimensions not encoded as 2x1: %v", sent[4:12])
	}

	// Verify Go read the correct data FROM Python
	if len(faces) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(faces))
	}
	want := types.Box{Top: 10, Right: 40, Bottom: 30, Left: 20}
	if faces[0].Box != want {
		t.Errorf("Box = %+v, want %+v", faces[0].Box, want)
	}
	if len(faces[0].Encoding) != 128 {
		t.Fatalf("Encoding length = %d, want 128", len(faces[0].Encoding))
	}
	// Use epsilon for float comparison
	if math.Abs(faces[0].Encoding[0]-0.5) > 1e-9 {
		t.Errorf("Expected vector[0] approx 0.5, got %f", faces[0].Encoding[0])
	}
}

func TestDetect_NoFaces(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	payload := new(bytes.Buffer)
	payload.WriteByte(0)
	binary.Write(payload, binary.BigEndian, uint32(0))
	writeResponse(dataPipeMock, payload.Bytes())

	w := &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}
	faces, err := w.Detect(context.Background(), types.FrameTask{Width: 1, Height: 1, Pix: []byte{0, 0, 0}})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("Expected no faces, got %d", len(faces))
	}
}

func TestDetect_Error(t *testing.T) {
	// 1. Setup Mocks
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	// 2. Pre-fill dataPipeMock with an ERROR response from "Python"
	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(1) // Status ERROR

	errMsg := "could not decode frame"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)
	writeResponse(dataPipeMock, payload.Bytes())

	// 3. Create Worker
	w := &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}

	// 4. Execute
	_, err := w.Detect(context.Background(), types.FrameTask{Width: 1, Height: 1, Pix: []byte{0, 0, 0}})

	// 5. Assertions
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrEngine) {
		t.Errorf("Expected ErrEngine, got %v", err)
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestDetect_CrashedWorker(t *testing.T) {
	// Nothing on the data pipe: the process died before answering.
	w := &PythonWorker{
		ID:       2,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &MockCloser{Buffer: new(bytes.Buffer)},
	}
	_, err := w.Detect(context.Background(), types.FrameTask{Width: 1, Height: 1, Pix: []byte{0, 0, 0}})
	if err == nil {
		t.Fatal("Expected error from empty pipe")
	}
	if errors.Is(err, ErrEngine) {
		t.Error("A dead pipe must not look like a per-frame engine error")
	}
}

func TestDetect_BadFrameSize(t *testing.T) {
	w := &PythonWorker{
		ID:       3,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &MockCloser{Buffer: new(bytes.Buffer)},
	}
	if _, err := w.Detect(context.Background(), types.FrameTask{Width: 4, Height: 4, Pix: []byte{1}}); err == nil {
		t.Fatal("Expected size mismatch error")
	}
}
