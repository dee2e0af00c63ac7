package server

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/andresmejia3/rollcall/internal/metrics"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/gorilla/websocket"
)

const (
	errInvalidRequestBody = "invalid request body"
	dateLayout            = "2006-01-02"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, types.ErrorResult{Error: message})
}

// respondStoreError maps a repository error to a status code.
func respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	slog.Error("store request failed", "path", r.URL.Path, "error", err)
	respondError(w, http.StatusInternalServerError, "internal error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20))
	return dec.Decode(v)
}

func metricsHandler() http.Handler {
	return metrics.Handler()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"service": "rollcall attendance store",
		"status":  "ok",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSchema describes the documents accepted and returned by the API.
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"room":       []string{"id", "name", "camera_url?", "is_active"},
		"student":    []string{"id", "name", "roll_no?", "room_id?", "photo_url?", "encoding?"},
		"attendance": []string{"id", "student_id", "room_id", "timestamp", "source"},
		"unknown":    []string{"id", "room_id", "timestamp", "snapshot_b64?", "note?"},
		"sources":    []types.Source{types.SourceAgent, types.SourceManual, types.SourceAPI},
	})
}

// --- Rooms ---

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.repo.ListRooms(r.Context())
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rooms)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var in types.RoomInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if err := in.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	room, err := s.repo.CreateRoom(r.Context(), in)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, room)
}

// --- Students ---

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := s.repo.ListStudents(r.Context(), r.URL.Query().Get("room_id"))
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, students)
}

func (s *Server) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	var in types.StudentInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if err := in.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.repo.CreateStudent(r.Context(), in)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, st)
}

// --- Attendance ---

func (s *Server) handleMark(w http.ResponseWriter, r *http.Request) {
	var req types.MarkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	s.mark(w, r, req)
}

func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	var req types.ManualRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	s.mark(w, r, types.MarkRequest{StudentID: req.StudentID, RoomID: req.RoomID, Source: types.SourceManual})
}

func (s *Server) mark(w http.ResponseWriter, r *http.Request, req types.MarkRequest) {
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Timestamp == nil {
		now := s.now().UTC()
		req.Timestamp = &now
	}
	if req.Source == "" {
		req.Source = types.SourceAgent
	}

	rec, created, err := s.repo.MarkAttendance(r.Context(), req)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	metrics.MarksStored.WithLabelValues(string(req.Source), strconv.FormatBool(created)).Inc()

	if created {
		if msg, err := json.Marshal(rec); err == nil {
			s.hub.Broadcast(msg)
		}
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	marks, err := s.repo.AttendanceForDay(r.Context(), s.now().UTC(), r.URL.Query().Get("room_id"))
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, marks)
}

// handleExport streams one UTC day of attendance as CSV. date_str defaults to today.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	day := s.now().UTC()
	if ds := q.Get("date_str"); ds != "" {
		parsed, err := time.Parse(dateLayout, ds)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid date_str %q, want YYYY-MM-DD", ds))
			return
		}
		day = parsed
	}
	roomID := q.Get("room_id")

	rows, err := s.repo.ExportDay(r.Context(), day, roomID)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	filename := "attendance_" + day.Format(dateLayout)
	if roomID != "" {
		filename += "_" + roomID
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename+".csv"))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	cw.Write([]string{"student_id", "student_name", "room_id", "room_name", "timestamp", "source"})
	for _, row := range rows {
		cw.Write([]string{
			row.StudentID,
			row.StudentName,
			row.RoomID,
			row.RoomName,
			row.Timestamp.UTC().Format(time.RFC3339),
			string(row.Source),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		slog.Warn("csv export interrupted", "error", err)
	}
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	status, err := s.repo.DashboardStatus(r.Context(), s.now().UTC())
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rooms": status})
}

// --- Unknown faces ---

func (s *Server) handleUnknown(w http.ResponseWriter, r *http.Request) {
	var req types.UnknownRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := s.repo.LogUnknown(r.Context(), req)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, u)
}

// --- Live feed ---

// handleWebsocket streams newly created marks to dashboards. Clients only listen;
// anything they send is discarded.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(512)

	s.hub.Register(conn)
	defer s.hub.Unregister(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
