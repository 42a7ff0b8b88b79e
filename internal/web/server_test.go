package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"demopulse/internal/demo"
)

type fakeOrchestrator struct {
	events     []demo.Event
	paused     []string
	resumed    []string
	pausedAll  int
	resumedAll int
	cleaned    int
	active     []demo.State
	record     *demo.State
	scenario   demo.Scenario
	scenarioID string

	eventErr   error
	pauseErr   error
	resumeErr  error
	cleanupErr error
	statusErr  error
	triggerErr error
}

func (f *fakeOrchestrator) HandleEvent(ctx context.Context, ev demo.Event) error {
	f.events = append(f.events, ev)
	return f.eventErr
}

func (f *fakeOrchestrator) Pause(ctx context.Context, incidentID string) error {
	f.paused = append(f.paused, incidentID)
	return f.pauseErr
}

func (f *fakeOrchestrator) Resume(ctx context.Context, incidentID string) error {
	f.resumed = append(f.resumed, incidentID)
	return f.resumeErr
}

func (f *fakeOrchestrator) PauseAll(ctx context.Context) (int, error) {
	f.pausedAll++
	return len(f.active), f.pauseErr
}

func (f *fakeOrchestrator) ResumeAll(ctx context.Context) (int, error) {
	f.resumedAll++
	return len(f.active), f.resumeErr
}

func (f *fakeOrchestrator) Cleanup(ctx context.Context) (int, error) {
	return f.cleaned, f.cleanupErr
}

func (f *fakeOrchestrator) Demo(ctx context.Context, incidentID string) (*demo.State, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.record != nil && f.record.IncidentID == incidentID {
		return f.record, nil
	}
	return nil, nil
}

func (f *fakeOrchestrator) Status(ctx context.Context) ([]demo.State, error) {
	return f.active, f.statusErr
}

func (f *fakeOrchestrator) TriggerScenario(ctx context.Context, scenarioID string) (demo.Scenario, error) {
	f.scenarioID = scenarioID
	return f.scenario, f.triggerErr
}

func newTestServer(engine *fakeOrchestrator) *Server {
	return NewServer(engine)
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}
