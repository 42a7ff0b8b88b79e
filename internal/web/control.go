package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"demopulse/internal/demo"
)

type incidentRequest struct {
	IncidentID string `json:"incident_id"`
}

type triggerRequest struct {
	ScenarioID string `json:"scenario_id"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req triggerRequest
	// An empty body means "pick a scenario for me".
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	sc, err := s.Engine.TriggerScenario(r.Context(), strings.TrimSpace(req.ScenarioID))
	if err != nil {
		if errors.Is(err, demo.ErrNoRouting) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"scenario_id": sc.ID,
		"title":       sc.Title,
		"service":     sc.Service,
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.handleIncidentControl(w, r, s.Engine.Pause, s.Engine.PauseAll, "paused")
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.handleIncidentControl(w, r, s.Engine.Resume, s.Engine.ResumeAll, "resumed")
}

// handleIncidentControl drives pause/resume. An omitted incident_id
// (or an empty body) applies the operation to every active demo.
func (s *Server) handleIncidentControl(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error, opAll func(context.Context) (int, error), verb string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req incidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.IncidentID = strings.TrimSpace(req.IncidentID)
	if req.IncidentID == "" {
		count, err := opAll(r.Context())
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{verb: count})
		return
	}
	if err := op(r.Context(), req.IncidentID); err != nil {
		switch {
		case errors.Is(err, demo.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, demo.ErrResolved), errors.Is(err, demo.ErrNotPaused):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incident_id": req.IncidentID,
		"status":      verb,
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cleaned, err := s.Engine.Cleanup(r.Context())
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleaned": cleaned})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if id := strings.TrimSpace(r.URL.Query().Get("incident_id")); id != "" {
		st, err := s.Engine.Demo(r.Context(), id)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if st == nil {
			http.Error(w, "demo not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, statusEntry(*st))
		return
	}
	active, err := s.Engine.Status(r.Context())
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	demos := make([]map[string]any, 0, len(active))
	for _, st := range active {
		demos = append(demos, statusEntry(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(demos),
		"active": demos,
	})
}

func statusEntry(st demo.State) map[string]any {
	return map[string]any{
		"incident_id":     st.IncidentID,
		"lifecycle_state": string(st.Lifecycle),
		"paused":          st.Paused,
		"responders":      len(st.Responders),
		"pending_actions": len(st.NotActed()),
		"created_at":      st.CreatedAt,
		"expires_at":      st.ExpiresAt,
	}
}

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.Audit == nil {
		http.Error(w, "audit unavailable", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	incidentID := strings.TrimSpace(r.URL.Query().Get("incident_id"))
	payload, err := s.Audit.ListAuditEvents(r.Context(), incidentID, limit)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}
