package db

import (
	"context"
	"encoding/json"
	"time"
)

// InsertAuditEvent appends one audit record. The payload is stored
// verbatim; incident_id is lifted out for filtering.
func (d *DB) InsertAuditEvent(ctx context.Context, payload []byte) (string, error) {
	eventID := newID("audit")
	var fields struct {
		IncidentID string `json:"incident_id"`
	}
	// Best effort: an unparseable payload still gets stored.
	_ = json.Unmarshal(payload, &fields)
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO audit_events(event_id, incident_id, created_at, payload_json)
		VALUES ($1, $2, $3, $4)
	`, eventID, fields.IncidentID, time.Now().UTC(), payload)
	if err != nil {
		return "", err
	}
	return eventID, nil
}

// ListAuditEvents returns the newest audit records for an incident,
// or across all incidents when incidentID is empty.
func (d *DB) ListAuditEvents(ctx context.Context, incidentID string, limit int) ([]byte, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT COALESCE(jsonb_agg(payload ORDER BY created_at DESC), '[]'::jsonb)
		FROM (
			SELECT payload_json AS payload, created_at
			FROM audit_events
			WHERE ($1 = '' OR incident_id = $1)
			ORDER BY created_at DESC
			LIMIT $2
		) latest`
	row := d.conn.QueryRowContext(ctx, query, incidentID, limit)
	var out []byte
	if err := row.Scan(&out); err != nil {
		return nil, err
	}
	return out, nil
}
