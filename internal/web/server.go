package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"demopulse/internal/demo"
	"demopulse/internal/metrics"
)

const maxRequestBody = 1 << 20 // 1 MB

// Orchestrator is the engine surface the HTTP layer drives.
type Orchestrator interface {
	HandleEvent(ctx context.Context, ev demo.Event) error
	Pause(ctx context.Context, incidentID string) error
	PauseAll(ctx context.Context) (int, error)
	Resume(ctx context.Context, incidentID string) error
	ResumeAll(ctx context.Context) (int, error)
	Cleanup(ctx context.Context) (int, error)
	Demo(ctx context.Context, incidentID string) (*demo.State, error)
	Status(ctx context.Context) ([]demo.State, error)
	TriggerScenario(ctx context.Context, scenarioID string) (demo.Scenario, error)
}

// AuditReader serves the audit listing endpoint.
type AuditReader interface {
	ListAuditEvents(ctx context.Context, incidentID string, limit int) ([]byte, error)
}

type TemporalHealthFunc func(context.Context) error

type Server struct {
	Mux            *http.ServeMux
	Engine         Orchestrator
	Audit          AuditReader
	DBConn         *sql.DB
	TemporalHealth TemporalHealthFunc
	WebhookSecret  string
	AllowedOrigin  string
	Log            *slog.Logger
}

func NewServer(engine Orchestrator) *Server {
	s := &Server{
		Mux:    http.NewServeMux(),
		Engine: engine,
		Log:    slog.Default(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.Mux.HandleFunc("/healthz", s.handleHealthz)
	s.Mux.HandleFunc("/readyz", s.handleReadyz)
	s.Mux.Handle("/metrics", metrics.Handler())

	s.Mux.HandleFunc("/webhook", s.handleWebhook)

	// Control surface for the presenter UI. Browser-driven, so every
	// endpoint speaks CORS.
	s.Mux.Handle("/v1/control/trigger", s.cors(http.HandlerFunc(s.handleTrigger)))
	s.Mux.Handle("/v1/control/pause", s.cors(http.HandlerFunc(s.handlePause)))
	s.Mux.Handle("/v1/control/resume", s.cors(http.HandlerFunc(s.handleResume)))
	s.Mux.Handle("/v1/control/cleanup", s.cors(http.HandlerFunc(s.handleCleanup)))
	s.Mux.Handle("/v1/control/status", s.cors(http.HandlerFunc(s.handleStatus)))
	s.Mux.Handle("/v1/audit/events", s.cors(http.HandlerFunc(s.handleAuditEvents)))

	// Bare aliases matching the original controller's route names, so
	// existing presenter tooling keeps working.
	s.Mux.Handle("/trigger", s.cors(http.HandlerFunc(s.handleTrigger)))
	s.Mux.Handle("/pause", s.cors(http.HandlerFunc(s.handlePause)))
	s.Mux.Handle("/resume", s.cors(http.HandlerFunc(s.handleResume)))
	s.Mux.Handle("/cleanup", s.cors(http.HandlerFunc(s.handleCleanup)))
	s.Mux.Handle("/status", s.cors(http.HandlerFunc(s.handleStatus)))
	s.Mux.HandleFunc("/health", s.handleHealthz)
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return metrics.Middleware(s.Mux)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := s.AllowedOrigin
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "error", err)
	}
}
