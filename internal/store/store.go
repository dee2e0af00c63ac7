package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ErrNotFound is returned when a referenced room or student does not exist.
var ErrNotFound = errors.New("not found")

// Store manages the PostgreSQL pool backing the attendance API.
type Store struct {
	pool *pgxpool.Pool
}

// ExportRow is one line of the daily attendance export.
type ExportRow struct {
	StudentID   string
	StudentName string
	RoomID      string
	RoomName    string
	Timestamp   time.Time
	Source      types.Source
}

// New connects to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the tables and the vector extension if they don't exist.
// One attendance row per student, room and UTC day is enforced by a unique constraint.
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			camera_url TEXT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS students (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			roll_no TEXT,
			room_id TEXT REFERENCES rooms(id) ON DELETE SET NULL,
			photo_url TEXT,
			encoding VECTOR,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS attendance (
			id TEXT PRIMARY KEY,
			student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
			room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			ts TIMESTAMPTZ NOT NULL,
			day DATE NOT NULL,
			source TEXT NOT NULL,
			UNIQUE (student_id, room_id, day)
		);
		CREATE TABLE IF NOT EXISTS unknown_faces (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			ts TIMESTAMPTZ NOT NULL,
			snapshot_b64 TEXT,
			note TEXT
		);
		CREATE INDEX IF NOT EXISTS students_room_id_idx ON students (room_id);
		CREATE INDEX IF NOT EXISTS attendance_day_idx ON attendance (day, room_id);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// foreignKey maps a foreign key violation to ErrNotFound.
func foreignKey(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// Encodings are stored as pgvector's float32. float32s and widen convert at
// that boundary, so callers always see the stored precision.
func float32s(enc []float64) []float32 {
	f := make([]float32, len(enc))
	for i, v := range enc {
		f[i] = float32(v)
	}
	return f
}

func widen(f []float32) []float64 {
	if f == nil {
		return nil
	}
	out := make([]float64, len(f))
	for i, v := range f {
		out[i] = float64(v)
	}
	return out
}

func toVector(enc []float64) any {
	if len(enc) == 0 {
		return nil
	}
	return pgvector.NewVector(float32s(enc))
}

func fromVector(text *string) ([]float64, error) {
	if text == nil {
		return nil, nil
	}
	var vec pgvector.Vector
	if err := vec.Scan(*text); err != nil {
		return nil, fmt.Errorf("decoding encoding: %w", err)
	}
	return widen(vec.Slice()), nil
}

// --- Rooms ---

func (s *Store) CreateRoom(ctx context.Context, in types.RoomInput) (types.Room, error) {
	room := types.Room{
		ID:        uuid.NewString(),
		Name:      in.Name,
		CameraURL: in.CameraURL,
		IsActive:  true,
	}
	if in.IsActive != nil {
		room.IsActive = *in.IsActive
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rooms (id, name, camera_url, is_active) VALUES ($1, $2, $3, $4)
	`, room.ID, room.Name, room.CameraURL, room.IsActive)
	if err != nil {
		return types.Room{}, err
	}
	return room, nil
}

func (s *Store) ListRooms(ctx context.Context) ([]types.Room, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, camera_url, is_active FROM rooms ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []types.Room{}
	for rows.Next() {
		var r types.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.CameraURL, &r.IsActive); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// --- Students ---

func (s *Store) CreateStudent(ctx context.Context, in types.StudentInput) (types.Student, error) {
	st := types.Student{
		ID:       uuid.NewString(),
		Name:     in.Name,
		RollNo:   in.RollNo,
		RoomID:   in.RoomID,
		PhotoURL: in.PhotoURL,
	}
	if len(in.Encoding) > 0 {
		st.Encoding = widen(float32s(in.Encoding))
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO students (id, name, roll_no, room_id, photo_url, encoding)
		VALUES ($1, $2, $3, $4, $5, $6::vector)
	`, st.ID, st.Name, st.RollNo, st.RoomID, st.PhotoURL, toVector(in.Encoding))
	if err != nil {
		return types.Student{}, foreignKey(err, "room")
	}
	return st, nil
}

// ListStudents returns every student, or only those assigned to roomID when set.
func (s *Store) ListStudents(ctx context.Context, roomID string) ([]types.Student, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, roll_no, room_id, photo_url, encoding::text
		FROM students
		WHERE $1 = '' OR room_id = $1
		ORDER BY created_at, id
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	students := []types.Student{}
	for rows.Next() {
		var st types.Student
		var enc *string
		if err := rows.Scan(&st.ID, &st.Name, &st.RollNo, &st.RoomID, &st.PhotoURL, &enc); err != nil {
			return nil, err
		}
		if st.Encoding, err = fromVector(enc); err != nil {
			return nil, fmt.Errorf("student %s: %w", st.ID, err)
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// --- Attendance ---

// MarkAttendance records a presence mark. The first mark of a student in a
// room on a UTC day wins; later marks return that row with created=false.
func (s *Store) MarkAttendance(ctx context.Context, req types.MarkRequest) (types.Attendance, bool, error) {
	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}
	source := req.Source
	if source == "" {
		source = types.SourceAgent
	}
	day, _ := utils.DayBounds(ts)

	a := types.Attendance{StudentID: req.StudentID, RoomID: req.RoomID}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO attendance (id, student_id, room_id, ts, day, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_id, room_id, day) DO NOTHING
		RETURNING id, ts, source
	`, uuid.NewString(), req.StudentID, req.RoomID, ts, day, string(source)).Scan(&a.ID, &a.Timestamp, &a.Source)
	if err == nil {
		a.Timestamp = a.Timestamp.UTC()
		return a, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return types.Attendance{}, false, foreignKey(err, "student or room")
	}

	// Conflict: someone already marked this student today.
	err = s.pool.QueryRow(ctx, `
		SELECT id, ts, source FROM attendance
		WHERE student_id = $1 AND room_id = $2 AND day = $3
	`, req.StudentID, req.RoomID, day).Scan(&a.ID, &a.Timestamp, &a.Source)
	if err != nil {
		return types.Attendance{}, false, err
	}
	a.Timestamp = a.Timestamp.UTC()
	return a, false, nil
}

// AttendanceForDay lists the marks of the UTC day containing day, optionally for one room.
func (s *Store) AttendanceForDay(ctx context.Context, day time.Time, roomID string) ([]types.Attendance, error) {
	start, _ := utils.DayBounds(day)
	rows, err := s.pool.Query(ctx, `
		SELECT id, student_id, room_id, ts, source FROM attendance
		WHERE day = $1 AND ($2 = '' OR room_id = $2)
		ORDER BY ts, id
	`, start, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.Attendance{}
	for rows.Next() {
		var a types.Attendance
		if err := rows.Scan(&a.ID, &a.StudentID, &a.RoomID, &a.Timestamp, &a.Source); err != nil {
			return nil, err
		}
		a.Timestamp = a.Timestamp.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// ExportDay joins the day's marks with student and room names.
func (s *Store) ExportDay(ctx context.Context, day time.Time, roomID string) ([]ExportRow, error) {
	start, _ := utils.DayBounds(day)
	rows, err := s.pool.Query(ctx, `
		SELECT a.student_id, COALESCE(st.name, ''), a.room_id, COALESCE(r.name, ''), a.ts, a.source
		FROM attendance a
		LEFT JOIN students st ON st.id = a.student_id
		LEFT JOIN rooms r ON r.id = a.room_id
		WHERE a.day = $1 AND ($2 = '' OR a.room_id = $2)
		ORDER BY a.ts, a.id
	`, start, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ExportRow{}
	for rows.Next() {
		var r ExportRow
		if err := rows.Scan(&r.StudentID, &r.StudentName, &r.RoomID, &r.RoomName, &r.Timestamp, &r.Source); err != nil {
			return nil, err
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// DashboardStatus counts, per room, the students present on day against the room's roster size.
func (s *Store) DashboardStatus(ctx context.Context, day time.Time) ([]types.RoomStatus, error) {
	start, _ := utils.DayBounds(day)
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.name,
			(SELECT COUNT(DISTINCT a.student_id) FROM attendance a WHERE a.room_id = r.id AND a.day = $1),
			(SELECT COUNT(*) FROM students st WHERE st.room_id = r.id)
		FROM rooms r
		ORDER BY r.created_at, r.id
	`, start)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.RoomStatus{}
	for rows.Next() {
		var rs types.RoomStatus
		if err := rows.Scan(&rs.ID, &rs.Name, &rs.PresentCount, &rs.Total); err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// --- Unknown faces ---

func (s *Store) LogUnknown(ctx context.Context, req types.UnknownRequest) (types.UnknownFace, error) {
	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}
	u := types.UnknownFace{
		ID:          uuid.NewString(),
		RoomID:      req.RoomID,
		Timestamp:   ts,
		SnapshotB64: req.SnapshotB64,
		Note:        req.Note,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO unknown_faces (id, room_id, ts, snapshot_b64, note) VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.RoomID, u.Timestamp, u.SnapshotB64, u.Note)
	if err != nil {
		return types.UnknownFace{}, foreignKey(err, "room")
	}
	return u, nil
}

// Reset drops all application tables to clear the database state.
// The next New recreates them.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS attendance CASCADE;
		DROP TABLE IF EXISTS unknown_faces CASCADE;
		DROP TABLE IF EXISTS students CASCADE;
		DROP TABLE IF EXISTS rooms CASCADE;
	`)
	return err
}
