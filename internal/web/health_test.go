package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

func TestHealthz(t *testing.T) {
	s := newTestServer(&fakeOrchestrator{})
	rec := doJSON(t, s.Mux, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if rec.Body.String() != `{"status":"ok"}` {
		t.Fatalf("body: %s", rec.Body.String())
	}
}

func TestReadyzWithoutDeps(t *testing.T) {
	s := newTestServer(&fakeOrchestrator{})
	rec := doJSON(t, s.Mux, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body %s", rec.Code, rec.Body.String())
	}
}

func TestReadyzTemporalDown(t *testing.T) {
	s := newTestServer(&fakeOrchestrator{})
	s.TemporalHealth = func(ctx context.Context) error {
		return errors.New("namespace unreachable")
	}
	rec := doJSON(t, s.Mux, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: %d", rec.Code)
	}
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "unavailable" || resp.Checks["temporal"] == "" {
		t.Fatalf("resp: %+v", resp)
	}
}

func TestReadyzTemporalUp(t *testing.T) {
	s := newTestServer(&fakeOrchestrator{})
	s.TemporalHealth = func(ctx context.Context) error { return nil }
	rec := doJSON(t, s.Mux, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
}
