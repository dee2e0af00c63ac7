package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, h := range routes {
		mux.HandleFunc(pattern, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestListStudentsPassesRoomFilter(t *testing.T) {
	var gotRoom string
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"GET /students": func(w http.ResponseWriter, r *http.Request) {
			gotRoom = r.URL.Query().Get("room_id")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"id":"s1","name":"Ada","encoding":[0.1,0.2]},{"id":"s2","name":"Bo"}]`))
		},
	})

	c := New(srv.URL+"/", time.Second)
	students, err := c.ListStudents(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", gotRoom)
	require.Len(t, students, 2)
	assert.Equal(t, []float64{0.1, 0.2}, students[0].Encoding)
	assert.Nil(t, students[1].Encoding)
}

func TestMarkAttendanceSendsContract(t *testing.T) {
	var body map[string]any
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"POST /attendance/mark": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(types.Attendance{
				ID: "a1", StudentID: "S1", RoomID: "R1",
				Timestamp: time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC), Source: types.SourceAgent,
			})
		},
	})

	c := New(srv.URL, time.Second)
	ts := time.Date(2024, 9, 2, 10, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	rec, err := c.MarkAttendance(context.Background(), types.PresenceMark{
		IdentityID: "S1", RoomID: "R1", Timestamp: ts, Source: types.SourceAgent,
	})
	require.NoError(t, err)
	assert.Equal(t, "a1", rec.ID)

	assert.Equal(t, "S1", body["student_id"])
	assert.Equal(t, "R1", body["room_id"])
	assert.Equal(t, "agent", body["source"])
	assert.Equal(t, "2024-09-02T08:00:00Z", body["timestamp"], "timestamp must be sent in UTC")
}

func TestMarkAttendanceRejectsIncompleteResponse(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"POST /attendance/mark": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"a1","room_id":"R1"}`))
		},
	})

	c := New(srv.URL, time.Second)
	_, err := c.MarkAttendance(context.Background(), types.PresenceMark{IdentityID: "S1", RoomID: "R1", Timestamp: time.Now()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrMissingField))
}

func TestErrorStatusIsWrapped(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"GET /students": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"database not initialized"}`))
		},
	})

	c := New(srv.URL, time.Second)
	_, err := c.ListStudents(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStatus))
	assert.Contains(t, err.Error(), "database not initialized")
}

func TestTimeoutIsEnforced(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"POST /unknown": func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
		},
	})

	c := New(srv.URL, 50*time.Millisecond)
	start := time.Now()
	_, err := c.LogUnknown(context.Background(), types.UnknownFaceReport{RoomID: "R1", Timestamp: time.Now()})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestLogUnknownEncodesSnapshot(t *testing.T) {
	var got types.UnknownRequest
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"POST /unknown": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"u1","room_id":"R1","timestamp":"2024-09-02T08:00:00Z"}`))
		},
	})

	c := New(srv.URL, time.Second)
	snap := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	_, err := c.LogUnknown(context.Background(), types.UnknownFaceReport{RoomID: "R1", Timestamp: time.Now(), Snapshot: snap})
	require.NoError(t, err)
	require.NotNil(t, got.SnapshotB64)
	assert.Equal(t, base64.StdEncoding.EncodeToString(snap), *got.SnapshotB64)
	assert.Nil(t, got.Note)
}

func TestListRoomsRejectsMalformedDocument(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"GET /rooms": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"id":"r1"}]`))
		},
	})

	_, err := New(srv.URL, time.Second).ListRooms(context.Background())
	assert.ErrorIs(t, err, types.ErrMissingField)
}
