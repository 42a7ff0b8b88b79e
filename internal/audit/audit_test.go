package audit

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeWriter struct {
	events   int
	lastBody []byte
}

func (f *fakeWriter) InsertAuditEvent(ctx context.Context, payload []byte) (string, error) {
	f.events++
	f.lastBody = payload
	return "audit_1", nil
}

func TestTrailNoop(t *testing.T) {
	trail := New()
	if err := trail.Record(context.Background(), "demo.started", nil); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestTrailWithDB(t *testing.T) {
	writer := &fakeWriter{}
	trail := NewWithDB(writer)
	err := trail.Record(context.Background(), "demo.started", map[string]any{
		"incident_id": "INC1",
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if writer.events != 1 {
		t.Fatalf("events: %d", writer.events)
	}
	var entry map[string]any
	if err := json.Unmarshal(writer.lastBody, &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["kind"] != "demo.started" || entry["incident_id"] != "INC1" {
		t.Fatalf("entry: %v", entry)
	}
	if entry["recorded_at"] == "" {
		t.Fatalf("missing timestamp")
	}
}
