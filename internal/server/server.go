// Package server exposes the attendance store over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Repository is the persistence the handlers need; *store.Store implements it.
type Repository interface {
	Ping(ctx context.Context) error
	CreateRoom(ctx context.Context, in types.RoomInput) (types.Room, error)
	ListRooms(ctx context.Context) ([]types.Room, error)
	CreateStudent(ctx context.Context, in types.StudentInput) (types.Student, error)
	ListStudents(ctx context.Context, roomID string) ([]types.Student, error)
	MarkAttendance(ctx context.Context, req types.MarkRequest) (types.Attendance, bool, error)
	AttendanceForDay(ctx context.Context, day time.Time, roomID string) ([]types.Attendance, error)
	ExportDay(ctx context.Context, day time.Time, roomID string) ([]store.ExportRow, error)
	DashboardStatus(ctx context.Context, day time.Time) ([]types.RoomStatus, error)
	LogUnknown(ctx context.Context, req types.UnknownRequest) (types.UnknownFace, error)
}

// Server represents the attendance HTTP server.
type Server struct {
	repo       Repository
	hub        *Hub
	router     *chi.Mux
	httpServer *http.Server

	now func() time.Time
}

// New creates the server and its routes. The hub is not running until Start.
func New(cfg config.Server, repo Repository) *Server {
	r := chi.NewRouter()

	s := &Server{
		repo:   repo,
		hub:    NewHub(),
		router: r,
		now:    time.Now,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(CORS(cfg.CORSOrigins))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	r.Get("/schema", s.handleSchema)
	r.Handle("/metrics", metricsHandler())
	r.Get("/ws", s.handleWebsocket)

	r.Route("/rooms", func(r chi.Router) {
		r.Get("/", s.handleListRooms)
		r.Post("/", s.handleCreateRoom)
	})
	r.Route("/students", func(r chi.Router) {
		r.Get("/", s.handleListStudents)
		r.Post("/", s.handleCreateStudent)
	})
	r.Route("/attendance", func(r chi.Router) {
		r.Post("/mark", s.handleMark)
		r.Post("/manual", s.handleManual)
		r.Get("/today", s.handleToday)
		r.Get("/export.csv", s.handleExport)
	})
	r.Get("/dashboard/status", s.handleDashboard)
	r.Post("/unknown", s.handleUnknown)
}

// Start runs the websocket hub and serves HTTP until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("attendance store listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("failed to start server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return <-errCh
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chiMiddleware.GetReqID(r.Context()),
		)
	})
}
