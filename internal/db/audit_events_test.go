package db

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestInsertAuditEvent(t *testing.T) {
	conn := &fakeConn{execRows: 1}
	d := &DB{conn: conn}
	payload := []byte(`{"incident_id":"Q1ABC","call":"acknowledge","ok":true}`)
	id, err := d.InsertAuditEvent(context.Background(), payload)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !strings.HasPrefix(id, "audit_") {
		t.Fatalf("id: %s", id)
	}
	if conn.lastExecArgs[1] != "Q1ABC" {
		t.Fatalf("incident_id not lifted: %#v", conn.lastExecArgs)
	}
}

func TestInsertAuditEventUnparseablePayload(t *testing.T) {
	conn := &fakeConn{execRows: 1}
	d := &DB{conn: conn}
	if _, err := d.InsertAuditEvent(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("unparseable payload must still store: %v", err)
	}
	if conn.lastExecArgs[1] != "" {
		t.Fatalf("incident_id should be empty: %#v", conn.lastExecArgs)
	}
}

func TestInsertAuditEventStoreError(t *testing.T) {
	d := &DB{conn: &fakeConn{execErr: errTest}}
	if _, err := d.InsertAuditEvent(context.Background(), []byte(`{}`)); !errors.Is(err, errTest) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestListAuditEvents(t *testing.T) {
	conn := &fakeConn{row: fakeRow{values: []any{[]byte(`[{"call":"resolve"}]`)}}}
	d := &DB{conn: conn}
	out, err := d.ListAuditEvents(context.Background(), "Q1ABC", 0)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if string(out) != `[{"call":"resolve"}]` {
		t.Fatalf("out: %s", out)
	}
	if conn.lastArgs[0] != "Q1ABC" || conn.lastArgs[1] != 50 {
		t.Fatalf("args: %#v", conn.lastArgs)
	}
}
