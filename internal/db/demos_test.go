package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"demopulse/internal/demo"
)

var errTest = errors.New("test error")

type fakeResult struct {
	rows int64
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, nil }

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *string:
			*d = r.values[i].(string)
		case *[]byte:
			*d = r.values[i].([]byte)
		case *time.Time:
			*d = r.values[i].(time.Time)
		case *sql.NullTime:
			*d = r.values[i].(sql.NullTime)
		case *sql.NullString:
			*d = r.values[i].(sql.NullString)
		case *bool:
			*d = r.values[i].(bool)
		case *int:
			*d = r.values[i].(int)
		default:
			// ignore unsupported
		}
	}
	return nil
}

type fakeConn struct {
	row           rowScanner
	execErr       error
	execRows      int64
	execCalls     int
	lastQuery     string
	lastArgs      []any
	lastExecQuery string
	lastExecArgs  []any
	execQueries   []string
	execArgs      [][]any
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.lastExecQuery = query
	c.lastExecArgs = args
	c.execQueries = append(c.execQueries, query)
	c.execArgs = append(c.execArgs, args)
	c.execCalls++
	if c.execErr != nil {
		return fakeResult{}, c.execErr
	}
	return fakeResult{rows: c.execRows}, nil
}

func (c *fakeConn) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	c.lastQuery = query
	c.lastArgs = args
	return c.row
}

func sampleState() demo.State {
	now := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	return demo.State{
		IncidentID:   "Q1ABC",
		Lifecycle:    demo.Triggered,
		ScenarioID:   "db-outage",
		ScenarioName: "Database Outage",
		ServiceID:    "PSVC1",
		ServiceName:  "Checkout",
		Responders: []demo.Responder{
			{ID: "PUSER1", Email: "a@example.com", Name: "A", SlackID: "U1"},
			{ID: "PUSER2", Email: "b@example.com", Name: "B", SlackID: "U2"},
		},
		ResponderActions: map[string]demo.ResponderAction{
			"PUSER1": {},
			"PUSER2": {},
		},
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func TestCreateDemo(t *testing.T) {
	conn := &fakeConn{execRows: 1}
	d := &DB{conn: conn}
	if err := d.CreateDemo(context.Background(), sampleState()); err != nil {
		t.Fatalf("err: %v", err)
	}
	if !strings.Contains(conn.lastExecQuery, "INSERT INTO demo_incidents") {
		t.Fatalf("query: %s", conn.lastExecQuery)
	}
	if !strings.Contains(conn.lastExecQuery, "ON CONFLICT (incident_id) DO NOTHING") {
		t.Fatalf("create must be idempotent: %s", conn.lastExecQuery)
	}
	if conn.lastExecArgs[0] != "Q1ABC" || conn.lastExecArgs[1] != "triggered" {
		t.Fatalf("args: %#v", conn.lastExecArgs)
	}
}

func TestCreateDemoStoreError(t *testing.T) {
	d := &DB{conn: &fakeConn{execErr: errTest}}
	if err := d.CreateDemo(context.Background(), sampleState()); !errors.Is(err, errTest) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestGetDemoAbsent(t *testing.T) {
	conn := &fakeConn{row: fakeRow{err: sql.ErrNoRows}}
	d := &DB{conn: conn}
	state, err := d.GetDemo(context.Background(), "missing")
	if err != nil {
		t.Fatalf("absent id must not be an error: %v", err)
	}
	if state != nil {
		t.Fatalf("expected nil state, got %#v", state)
	}
}

func TestGetDemoScan(t *testing.T) {
	now := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	conn := &fakeConn{row: fakeRow{values: []any{
		"acknowledged", "db-outage", "Database Outage", "PSVC1", "Checkout",
		[]byte(`[{"id":"PUSER1","email":"a@example.com","name":"A","slack_id":"U1"}]`),
		[]byte(`{"PUSER1":{"acted":true,"last_action":"add_note"}}`),
		false, sql.NullTime{},
		sql.NullString{String: "C123", Valid: true},
		sql.NullTime{Time: now, Valid: true},
		sql.NullString{}, 3,
		now, now.Add(24 * time.Hour),
	}}}
	d := &DB{conn: conn}
	state, err := d.GetDemo(context.Background(), "Q1ABC")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if state.Lifecycle != demo.Acknowledged {
		t.Errorf("lifecycle = %s", state.Lifecycle)
	}
	if state.SlackChannelID != "C123" {
		t.Errorf("slack channel = %q", state.SlackChannelID)
	}
	if state.AcknowledgedAt == nil || !state.AcknowledgedAt.Equal(now) {
		t.Errorf("acknowledged_at = %v", state.AcknowledgedAt)
	}
	if got := state.ResponderActions["PUSER1"]; !got.Acted || got.LastAction != demo.ActionAddNote {
		t.Errorf("responder action = %#v", got)
	}
	if state.CallbackGeneration != 3 {
		t.Errorf("generation = %d", state.CallbackGeneration)
	}
}

func TestGetDemoStoreError(t *testing.T) {
	conn := &fakeConn{row: fakeRow{err: errTest}}
	d := &DB{conn: conn}
	if _, err := d.GetDemo(context.Background(), "Q1ABC"); !errors.Is(err, errTest) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestUpdateDemoMergePatch(t *testing.T) {
	conn := &fakeConn{execRows: 1}
	d := &DB{conn: conn}
	lc := demo.Acknowledged
	ackAt := time.Date(2026, 2, 3, 10, 5, 0, 0, time.UTC)
	ok, err := d.UpdateDemo(context.Background(), "Q1ABC", demo.Patch{
		Lifecycle:      &lc,
		AcknowledgedAt: &ackAt,
	})
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	q := conn.lastExecQuery
	if !strings.Contains(q, "lifecycle_state=$1") || !strings.Contains(q, "acknowledged_at=$2") {
		t.Fatalf("query: %s", q)
	}
	if strings.Contains(q, "responders_json") || strings.Contains(q, "paused") {
		t.Fatalf("patch must only touch given fields: %s", q)
	}
	if conn.lastExecArgs[2] != "Q1ABC" {
		t.Fatalf("args: %#v", conn.lastExecArgs)
	}
}

func TestUpdateDemoClearPause(t *testing.T) {
	conn := &fakeConn{execRows: 1}
	d := &DB{conn: conn}
	paused := false
	ok, err := d.UpdateDemo(context.Background(), "Q1ABC", demo.Patch{
		Paused:              &paused,
		ClearPauseStartedAt: true,
	})
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !strings.Contains(conn.lastExecQuery, "pause_started_at=NULL") {
		t.Fatalf("query: %s", conn.lastExecQuery)
	}
}

func TestUpdateDemoAbsent(t *testing.T) {
	conn := &fakeConn{execRows: 0}
	d := &DB{conn: conn}
	paused := true
	ok, err := d.UpdateDemo(context.Background(), "missing", demo.Patch{Paused: &paused})
	if err != nil {
		t.Fatalf("absent id must not be an error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing record")
	}
}

func TestUpdateDemoEmptyPatch(t *testing.T) {
	d := &DB{conn: &fakeConn{execRows: 1}}
	if _, err := d.UpdateDemo(context.Background(), "Q1ABC", demo.Patch{}); !errors.Is(err, ErrEmptyPatch) {
		t.Fatalf("expected ErrEmptyPatch, got %v", err)
	}
}

func TestUpdateDemoIfGeneration(t *testing.T) {
	conn := &fakeConn{execRows: 0}
	d := &DB{conn: conn}
	gen := 4
	ok, err := d.UpdateDemoIfGeneration(context.Background(), "Q1ABC", 3, demo.Patch{CallbackGeneration: &gen})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if ok {
		t.Fatal("CAS must report conflict when no row matched")
	}
	q := conn.lastExecQuery
	if !strings.Contains(q, "callback_generation=$1") {
		t.Fatalf("query: %s", q)
	}
	if !strings.Contains(q, "AND callback_generation=$3") {
		t.Fatalf("expected generation guard: %s", q)
	}
	if conn.lastExecArgs[1] != "Q1ABC" || conn.lastExecArgs[2] != 3 {
		t.Fatalf("args: %#v", conn.lastExecArgs)
	}
}

func TestDeleteDemo(t *testing.T) {
	conn := &fakeConn{execRows: 1}
	d := &DB{conn: conn}
	ok, err := d.DeleteDemo(context.Background(), "Q1ABC")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}

	conn.execRows = 0
	ok, err = d.DeleteDemo(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("absent delete: ok=%v err=%v", ok, err)
	}
}

func TestListActiveDemos(t *testing.T) {
	conn := &fakeConn{row: fakeRow{values: []any{[]byte(`[
		{"incident_id":"Q1","lifecycle_state":"triggered","responders":[],"responder_actions":{},"paused":false,"callback_generation":1,"created_at":"2026-02-03T10:00:00Z","expires_at":"2026-02-04T10:00:00Z"},
		{"incident_id":"Q2","lifecycle_state":"acknowledged","responders":[],"responder_actions":{},"paused":true,"callback_generation":2,"created_at":"2026-02-03T11:00:00Z","expires_at":"2026-02-04T11:00:00Z"}
	]`)}}}
	d := &DB{conn: conn}
	states, err := d.ListActiveDemos(context.Background())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("len = %d", len(states))
	}
	if states[0].IncidentID != "Q1" || states[1].Paused != true {
		t.Fatalf("states: %#v", states)
	}
	if !strings.Contains(conn.lastQuery, "lifecycle_state <> 'resolved'") {
		t.Fatalf("query: %s", conn.lastQuery)
	}
}

func TestListActiveDemosEmpty(t *testing.T) {
	conn := &fakeConn{row: fakeRow{values: []any{[]byte(`[]`)}}}
	d := &DB{conn: conn}
	states, err := d.ListActiveDemos(context.Background())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(states) != 0 {
		t.Fatalf("len = %d", len(states))
	}
}

func TestPurgeExpiredDemos(t *testing.T) {
	conn := &fakeConn{execRows: 3}
	d := &DB{conn: conn}
	n, err := d.PurgeExpiredDemos(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if n != 3 {
		t.Fatalf("n = %d", n)
	}
	if !strings.Contains(conn.lastExecQuery, "expires_at <=") {
		t.Fatalf("query: %s", conn.lastExecQuery)
	}
}
