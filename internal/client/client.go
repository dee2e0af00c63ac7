// Package client is the agent-side HTTP client for the attendance store.
package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/go-resty/resty/v2"
)

// DefaultTimeout bounds every request made to the store.
const DefaultTimeout = 5 * time.Second

// ErrStatus is returned when the store answers with a non-2xx status.
var ErrStatus = errors.New("unexpected status from attendance store")

// Client wraps a resty client pointed at the store's base URL.
type Client struct {
	http *resty.Client
}

// New creates a client for baseURL. A zero timeout uses DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		msg := strings.TrimSpace(resp.String())
		if e, ok := resp.Error().(*types.ErrorResult); ok && e.Error != "" {
			msg = e.Error
		}
		return fmt.Errorf("%w: %s %s: %d %s", ErrStatus, resp.Request.Method, resp.Request.URL, resp.StatusCode(), msg)
	}
	return nil
}

// ListStudents returns roster documents, optionally only those assigned to roomID.
// Documents are returned as-is; the roster loader filters incomplete ones.
func (c *Client) ListStudents(ctx context.Context, roomID string) ([]types.Student, error) {
	var out []types.Student
	req := c.http.R().SetContext(ctx).SetResult(&out).SetError(&types.ErrorResult{})
	if roomID != "" {
		req.SetQueryParam("room_id", roomID)
	}
	if err := check(req.Get("/students")); err != nil {
		return nil, err
	}
	return out, nil
}

// ListRooms returns every room, rejecting malformed documents.
func (c *Client) ListRooms(ctx context.Context) ([]types.Room, error) {
	var out []types.Room
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).SetError(&types.ErrorResult{}).Get("/rooms")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	for _, r := range out {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("room document: %w", err)
		}
	}
	return out, nil
}

func (c *Client) CreateRoom(ctx context.Context, in types.RoomInput) (types.Room, error) {
	var out types.Room
	resp, err := c.http.R().SetContext(ctx).SetBody(in).SetResult(&out).SetError(&types.ErrorResult{}).Post("/rooms")
	if err := check(resp, err); err != nil {
		return types.Room{}, err
	}
	return out, out.Validate()
}

func (c *Client) CreateStudent(ctx context.Context, in types.StudentInput) (types.Student, error) {
	var out types.Student
	resp, err := c.http.R().SetContext(ctx).SetBody(in).SetResult(&out).SetError(&types.ErrorResult{}).Post("/students")
	if err := check(resp, err); err != nil {
		return types.Student{}, err
	}
	return out, out.Validate()
}

// MarkAttendance submits a presence mark. The store returns the day's
// existing mark if one is already recorded.
func (c *Client) MarkAttendance(ctx context.Context, mark types.PresenceMark) (types.Attendance, error) {
	ts := mark.Timestamp.UTC()
	body := types.MarkRequest{
		StudentID: mark.IdentityID,
		RoomID:    mark.RoomID,
		Timestamp: &ts,
		Source:    mark.Source,
	}
	if err := body.Validate(); err != nil {
		return types.Attendance{}, err
	}

	var out types.Attendance
	resp, err := c.http.R().SetContext(ctx).SetBody(body).SetResult(&out).SetError(&types.ErrorResult{}).Post("/attendance/mark")
	if err := check(resp, err); err != nil {
		return types.Attendance{}, err
	}
	return out, out.Validate()
}

// LogUnknown uploads a snapshot of an unrecognised face.
func (c *Client) LogUnknown(ctx context.Context, report types.UnknownFaceReport) (types.UnknownFace, error) {
	ts := report.Timestamp.UTC()
	body := types.UnknownRequest{RoomID: report.RoomID, Timestamp: &ts}
	if len(report.Snapshot) > 0 {
		b64 := base64.StdEncoding.EncodeToString(report.Snapshot)
		body.SnapshotB64 = &b64
	}
	if report.Note != "" {
		body.Note = &report.Note
	}
	if err := body.Validate(); err != nil {
		return types.UnknownFace{}, err
	}

	var out types.UnknownFace
	resp, err := c.http.R().SetContext(ctx).SetBody(body).SetResult(&out).SetError(&types.ErrorResult{}).Post("/unknown")
	if err := check(resp, err); err != nil {
		return types.UnknownFace{}, err
	}
	return out, nil
}

// Today returns today's marks, optionally for one room.
func (c *Client) Today(ctx context.Context, roomID string) ([]types.Attendance, error) {
	var out []types.Attendance
	req := c.http.R().SetContext(ctx).SetResult(&out).SetError(&types.ErrorResult{})
	if roomID != "" {
		req.SetQueryParam("room_id", roomID)
	}
	if err := check(req.Get("/attendance/today")); err != nil {
		return nil, err
	}
	return out, nil
}
