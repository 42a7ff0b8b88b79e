package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Writer is the slice of the database layer the trail needs.
type Writer interface {
	InsertAuditEvent(ctx context.Context, payload []byte) (string, error)
}

// Trail records every externally visible step the orchestrator takes.
// A Trail with no writer is a no-op, which keeps tests and local runs
// free of database plumbing.
type Trail struct {
	DB Writer
}

func New() *Trail {
	return &Trail{}
}

func NewWithDB(db Writer) *Trail {
	return &Trail{DB: db}
}

// Record appends one audit entry. The kind and timestamp are folded
// into the stored payload.
func (t *Trail) Record(ctx context.Context, kind string, payload map[string]any) error {
	if t.DB == nil {
		return nil
	}
	entry := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		entry[k] = v
	}
	entry["kind"] = kind
	entry["recorded_at"] = time.Now().UTC().Format(time.RFC3339)
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = t.DB.InsertAuditEvent(ctx, raw)
	return err
}
