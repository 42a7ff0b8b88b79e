package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"demopulse/internal/demo"
)

var ErrEmptyPatch = errors.New("empty patch")

// CreateDemo inserts the initial record for an incident. A record
// that already exists is left untouched, so duplicate triggered
// webhooks racing each other cannot clobber responder selection.
func (d *DB) CreateDemo(ctx context.Context, s demo.State) error {
	respJSON, err := json.Marshal(s.Responders)
	if err != nil {
		return err
	}
	actJSON, err := json.Marshal(s.ResponderActions)
	if err != nil {
		return err
	}
	_, err = d.conn.ExecContext(ctx, `
		INSERT INTO demo_incidents(
			incident_id, lifecycle_state, scenario_id, scenario_name,
			service_id, service_name, responders_json, responder_actions_json,
			paused, pause_started_at, slack_channel_id, acknowledged_at,
			resolver_id, callback_generation, created_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (incident_id) DO NOTHING
	`, s.IncidentID, string(s.Lifecycle), s.ScenarioID, s.ScenarioName,
		s.ServiceID, s.ServiceName, respJSON, actJSON,
		s.Paused, nullTime(s.PauseStartedAt), nullString(s.SlackChannelID), nullTime(s.AcknowledgedAt),
		nullString(s.ResolverID), s.CallbackGeneration, s.CreatedAt.UTC(), s.ExpiresAt.UTC())
	return err
}

// GetDemo returns the stored state, or (nil, nil) when no record
// exists for the incident id.
func (d *DB) GetDemo(ctx context.Context, incidentID string) (*demo.State, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT lifecycle_state, scenario_id, scenario_name, service_id, service_name,
			responders_json, responder_actions_json, paused, pause_started_at,
			slack_channel_id, acknowledged_at, resolver_id, callback_generation,
			created_at, expires_at
		FROM demo_incidents WHERE incident_id=$1
	`, incidentID)

	var (
		state          demo.State
		lifecycle      string
		respJSON       []byte
		actJSON        []byte
		pauseStartedAt sql.NullTime
		slackChannel   sql.NullString
		acknowledgedAt sql.NullTime
		resolverID     sql.NullString
	)
	err := row.Scan(&lifecycle, &state.ScenarioID, &state.ScenarioName, &state.ServiceID, &state.ServiceName,
		&respJSON, &actJSON, &state.Paused, &pauseStartedAt,
		&slackChannel, &acknowledgedAt, &resolverID, &state.CallbackGeneration,
		&state.CreatedAt, &state.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	state.IncidentID = incidentID
	state.Lifecycle = demo.Lifecycle(lifecycle)
	if len(respJSON) > 0 {
		if err := json.Unmarshal(respJSON, &state.Responders); err != nil {
			return nil, err
		}
	}
	if len(actJSON) > 0 {
		if err := json.Unmarshal(actJSON, &state.ResponderActions); err != nil {
			return nil, err
		}
	}
	if pauseStartedAt.Valid {
		t := pauseStartedAt.Time
		state.PauseStartedAt = &t
	}
	if slackChannel.Valid {
		state.SlackChannelID = slackChannel.String
	}
	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time
		state.AcknowledgedAt = &t
	}
	if resolverID.Valid {
		state.ResolverID = resolverID.String
	}
	return &state, nil
}

// UpdateDemo applies a merge-patch: only fields present in the patch
// are written. Returns false when no record exists.
func (d *DB) UpdateDemo(ctx context.Context, incidentID string, p demo.Patch) (bool, error) {
	sets, args, err := demoPatchSQL(p)
	if err != nil {
		return false, err
	}
	args = append(args, incidentID)
	query := fmt.Sprintf("UPDATE demo_incidents SET %s WHERE incident_id=$%d",
		strings.Join(sets, ", "), len(args))
	res, err := d.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateDemoIfGeneration is the compare-and-swap variant: the patch
// applies only when callback_generation still matches expectedGen.
// Returns false when the record is missing or another invocation got
// there first.
func (d *DB) UpdateDemoIfGeneration(ctx context.Context, incidentID string, expectedGen int, p demo.Patch) (bool, error) {
	sets, args, err := demoPatchSQL(p)
	if err != nil {
		return false, err
	}
	args = append(args, incidentID)
	idIdx := len(args)
	args = append(args, expectedGen)
	query := fmt.Sprintf("UPDATE demo_incidents SET %s WHERE incident_id=$%d AND callback_generation=$%d",
		strings.Join(sets, ", "), idIdx, idIdx+1)
	res, err := d.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteDemo removes the record. Returns false when it was absent.
func (d *DB) DeleteDemo(ctx context.Context, incidentID string) (bool, error) {
	res, err := d.conn.ExecContext(ctx, `DELETE FROM demo_incidents WHERE incident_id=$1`, incidentID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListActiveDemos returns every record whose lifecycle has not
// reached resolved.
func (d *DB) ListActiveDemos(ctx context.Context) ([]demo.State, error) {
	query := `SELECT COALESCE(jsonb_agg(
		jsonb_build_object(
			'incident_id', incident_id,
			'lifecycle_state', lifecycle_state,
			'scenario_id', scenario_id,
			'scenario_name', scenario_name,
			'service_id', service_id,
			'service_name', service_name,
			'responders', responders_json,
			'responder_actions', responder_actions_json,
			'paused', paused,
			'pause_started_at', pause_started_at,
			'slack_channel_id', slack_channel_id,
			'acknowledged_at', acknowledged_at,
			'resolver_id', resolver_id,
			'callback_generation', callback_generation,
			'created_at', created_at,
			'expires_at', expires_at
		) ORDER BY created_at
	), '[]'::jsonb) FROM demo_incidents WHERE lifecycle_state <> 'resolved'`
	row := d.conn.QueryRowContext(ctx, query)
	var out []byte
	if err := row.Scan(&out); err != nil {
		return nil, err
	}
	var states []demo.State
	if err := json.Unmarshal(out, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// PurgeExpiredDemos deletes records past their retention window.
func (d *DB) PurgeExpiredDemos(ctx context.Context, now time.Time) (int, error) {
	res, err := d.conn.ExecContext(ctx, `DELETE FROM demo_incidents WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func demoPatchSQL(p demo.Patch) ([]string, []any, error) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if p.Lifecycle != nil {
		add("lifecycle_state", string(*p.Lifecycle))
	}
	if p.Paused != nil {
		add("paused", *p.Paused)
	}
	if p.PauseStartedAt != nil {
		add("pause_started_at", p.PauseStartedAt.UTC())
	} else if p.ClearPauseStartedAt {
		sets = append(sets, "pause_started_at=NULL")
	}
	if p.SlackChannelID != nil {
		add("slack_channel_id", *p.SlackChannelID)
	}
	if p.AcknowledgedAt != nil {
		add("acknowledged_at", p.AcknowledgedAt.UTC())
	}
	if p.ResolverID != nil {
		add("resolver_id", *p.ResolverID)
	}
	if p.Responders != nil {
		data, err := json.Marshal(p.Responders)
		if err != nil {
			return nil, nil, err
		}
		add("responders_json", data)
	}
	if p.ResponderActions != nil {
		data, err := json.Marshal(p.ResponderActions)
		if err != nil {
			return nil, nil, err
		}
		add("responder_actions_json", data)
	}
	if p.CallbackGeneration != nil {
		add("callback_generation", *p.CallbackGeneration)
	}
	if len(sets) == 0 {
		return nil, nil, ErrEmptyPatch
	}
	return sets, args, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
