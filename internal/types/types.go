package types

import (
	"errors"
	"fmt"
	"image"
	"math"
	"time"
)

// Box is a face location as [top, right, bottom, left], the order the
// embedding engine reports it in.
type Box struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Rescale maps a box found on a frame downscaled by scale back onto the
// original frame. The same scale used for detection must be passed here.
func (b Box) Rescale(scale float64) Box {
	up := func(v int) int { return int(math.Round(float64(v) / scale)) }
	return Box{Top: up(b.Top), Right: up(b.Right), Bottom: up(b.Bottom), Left: up(b.Left)}
}

// Rect converts the box to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

// FrameTask represents a single frame sent to a worker for processing.
// Pix holds packed RGB bytes, three per pixel, row-major.
type FrameTask struct {
	Width  int
	Height int
	Pix    []byte
}

// DetectedFace is one face found in a (downscaled) frame.
type DetectedFace struct {
	Box      Box
	Encoding []float64
}

// RosterEntry is a known identity the agent can match against.
type RosterEntry struct {
	IdentityID  string
	DisplayName string
	Encoding    []float64
}

// MatchResult is the outcome of comparing one detected face to the roster.
// When Matched is false the identity fields are empty.
type MatchResult struct {
	Matched     bool
	IdentityID  string
	DisplayName string
	Distance    float64
}

// Source records who produced an attendance mark.
type Source string

const (
	SourceAgent  Source = "agent"
	SourceManual Source = "manual"
	SourceAPI    Source = "api"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceAgent, SourceManual, SourceAPI:
		return true
	}
	return false
}

// PresenceMark is what the agent submits when it recognises someone.
type PresenceMark struct {
	IdentityID string
	RoomID     string
	Timestamp  time.Time
	Source     Source
}

// UnknownFaceReport is a snapshot of a face that matched nobody.
type UnknownFaceReport struct {
	RoomID    string
	Timestamp time.Time
	Snapshot  []byte // JPEG
	Note      string
}

// --- Store documents ---

var ErrMissingField = errors.New("missing required field")

func missing(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}

// Room is a tracked classroom.
type Room struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	CameraURL *string `json:"camera_url,omitempty"`
	IsActive  bool    `json:"is_active"`
}

func (r Room) Validate() error {
	if r.ID == "" {
		return missing("id")
	}
	if r.Name == "" {
		return missing("name")
	}
	return nil
}

type RoomInput struct {
	Name      string  `json:"name"`
	CameraURL *string `json:"camera_url,omitempty"`
	IsActive  *bool   `json:"is_active,omitempty"`
}

func (r RoomInput) Validate() error {
	if r.Name == "" {
		return missing("name")
	}
	return nil
}

// Student is a roster document. Encoding is optional until the student is enrolled.
type Student struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	RollNo   *string   `json:"roll_no,omitempty"`
	RoomID   *string   `json:"room_id,omitempty"`
	PhotoURL *string   `json:"photo_url,omitempty"`
	Encoding []float64 `json:"encoding,omitempty"`
}

func (s Student) Validate() error {
	if s.ID == "" {
		return missing("id")
	}
	if s.Name == "" {
		return missing("name")
	}
	return nil
}

type StudentInput struct {
	Name     string    `json:"name"`
	RollNo   *string   `json:"roll_no,omitempty"`
	RoomID   *string   `json:"room_id,omitempty"`
	PhotoURL *string   `json:"photo_url,omitempty"`
	Encoding []float64 `json:"encoding,omitempty"`
}

func (s StudentInput) Validate() error {
	if s.Name == "" {
		return missing("name")
	}
	return nil
}

// Attendance is a stored presence mark.
type Attendance struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	RoomID    string    `json:"room_id"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
}

func (a Attendance) Validate() error {
	switch {
	case a.ID == "":
		return missing("id")
	case a.StudentID == "":
		return missing("student_id")
	case a.RoomID == "":
		return missing("room_id")
	case a.Timestamp.IsZero():
		return missing("timestamp")
	}
	return nil
}

// MarkRequest is the body of POST /attendance/mark.
type MarkRequest struct {
	StudentID string     `json:"student_id"`
	RoomID    string     `json:"room_id"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Source    Source     `json:"source,omitempty"`
}

func (m MarkRequest) Validate() error {
	if m.StudentID == "" {
		return missing("student_id")
	}
	if m.RoomID == "" {
		return missing("room_id")
	}
	if m.Source != "" && !m.Source.Valid() {
		return fmt.Errorf("invalid source %q (want agent|manual|api)", m.Source)
	}
	return nil
}

// ManualRequest is the body of POST /attendance/manual.
type ManualRequest struct {
	StudentID string `json:"student_id"`
	RoomID    string `json:"room_id"`
}

// UnknownFace is a stored unknown-face log entry.
type UnknownFace struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"room_id"`
	Timestamp   time.Time `json:"timestamp"`
	SnapshotB64 *string   `json:"snapshot_b64,omitempty"`
	Note        *string   `json:"note,omitempty"`
}

// UnknownRequest is the body of POST /unknown.
type UnknownRequest struct {
	RoomID      string     `json:"room_id"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	SnapshotB64 *string    `json:"snapshot_b64,omitempty"`
	Note        *string    `json:"note,omitempty"`
}

func (u UnknownRequest) Validate() error {
	if u.RoomID == "" {
		return missing("room_id")
	}
	return nil
}

// RoomStatus is one row of the dashboard summary.
type RoomStatus struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PresentCount int    `json:"present_count"`
	Total        int    `json:"total"`
}

// ErrorResult captures the error object returned by the store on failure.
type ErrorResult struct {
	Error string `json:"error"`
}
