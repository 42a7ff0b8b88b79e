package web

import (
	"context"
	"net/http"
	"time"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ok := true

	if s.DBConn != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.DBConn.PingContext(ctx); err != nil {
			ok = false
			checks["db"] = err.Error()
		} else {
			checks["db"] = "ok"
		}
	} else {
		checks["db"] = "unknown"
	}

	if s.TemporalHealth != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.TemporalHealth(ctx); err != nil {
			ok = false
			checks["temporal"] = err.Error()
		} else {
			checks["temporal"] = "ok"
		}
	}

	if ok {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"status": "unavailable",
		"checks": checks,
	})
}
