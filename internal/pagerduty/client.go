package pagerduty

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"demopulse/internal/demo"
)

const (
	defaultBaseURL   = "https://api.pagerduty.com"
	defaultEventsURL = "https://events.pagerduty.com/v2/enqueue"
)

// Client drives the incident platform's REST and events APIs. Every
// mutating REST call carries a From header naming the roster user it
// is performed as.
type Client struct {
	BaseURL   string
	EventsURL string
	Token     string
	Client    *http.Client
}

var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

func NewClient(baseURL, eventsURL, token string) *Client {
	return &Client{BaseURL: baseURL, EventsURL: eventsURL, Token: token, Client: defaultHTTPClient}
}

// Trigger opens a new incident through the events API. The title
// carries the demo marker; custom details carry the scenario id so
// the triggered webhook can tie the incident back to its scenario.
func (c *Client) Trigger(ctx context.Context, routingKey, title string, sc demo.Scenario) error {
	if routingKey == "" {
		return errors.New("routing key required")
	}
	severity := sc.Severity
	if severity == "" {
		severity = "critical"
	}
	payload := map[string]any{
		"routing_key":  routingKey,
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":   title,
			"source":    sc.Service,
			"severity":  severity,
			"component": sc.Component,
			"group":     sc.Group,
			"custom_details": map[string]any{
				"scenario_id": sc.ID,
				"summary":     sc.Summary,
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := c.EventsURL
	if url == "" {
		url = defaultEventsURL
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient().Do(request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("events api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

func (c *Client) Acknowledge(ctx context.Context, incidentID, fromEmail string) error {
	return c.setStatus(ctx, incidentID, fromEmail, "acknowledged")
}

func (c *Client) Resolve(ctx context.Context, incidentID, fromEmail string) error {
	return c.setStatus(ctx, incidentID, fromEmail, "resolved")
}

func (c *Client) setStatus(ctx context.Context, incidentID, fromEmail, status string) error {
	body := map[string]any{
		"incident": map[string]any{
			"type":   "incident_reference",
			"status": status,
		},
	}
	return c.do(ctx, http.MethodPut, "/incidents/"+incidentID, fromEmail, body, nil)
}

func (c *Client) AddNote(ctx context.Context, incidentID, fromEmail, content string) error {
	body := map[string]any{
		"note": map[string]any{"content": content},
	}
	return c.do(ctx, http.MethodPost, "/incidents/"+incidentID+"/notes", fromEmail, body, nil)
}

func (c *Client) AddResponders(ctx context.Context, incidentID, fromEmail string, userIDs []string) error {
	if len(userIDs) == 0 {
		return errors.New("no responders to add")
	}
	targets := make([]map[string]any, 0, len(userIDs))
	for _, id := range userIDs {
		targets = append(targets, map[string]any{
			"responder_request_target": map[string]any{
				"id":   id,
				"type": "user_reference",
			},
		})
	}
	body := map[string]any{
		"message":                   "You have been requested to help with this incident.",
		"responder_request_targets": targets,
	}
	return c.do(ctx, http.MethodPost, "/incidents/"+incidentID+"/responder_requests", fromEmail, body, nil)
}

func (c *Client) PostStatusUpdate(ctx context.Context, incidentID, fromEmail, message string) error {
	body := map[string]any{"message": message}
	return c.do(ctx, http.MethodPost, "/incidents/"+incidentID+"/status_updates", fromEmail, body, nil)
}

func (c *Client) ChangePriority(ctx context.Context, incidentID, fromEmail, priorityID string) error {
	body := map[string]any{
		"incident": map[string]any{
			"type": "incident_reference",
			"priority": map[string]any{
				"id":   priorityID,
				"type": "priority_reference",
			},
		},
	}
	return c.do(ctx, http.MethodPut, "/incidents/"+incidentID, fromEmail, body, nil)
}

func (c *Client) ChangeUrgency(ctx context.Context, incidentID, fromEmail, urgency string) error {
	body := map[string]any{
		"incident": map[string]any{
			"type":    "incident_reference",
			"urgency": urgency,
		},
	}
	return c.do(ctx, http.MethodPut, "/incidents/"+incidentID, fromEmail, body, nil)
}

func (c *Client) Escalate(ctx context.Context, incidentID, fromEmail string, level int) error {
	body := map[string]any{
		"incident": map[string]any{
			"type":             "incident_reference",
			"escalation_level": level,
		},
	}
	return c.do(ctx, http.MethodPut, "/incidents/"+incidentID, fromEmail, body, nil)
}

func (c *Client) Snooze(ctx context.Context, incidentID, fromEmail string, duration time.Duration) error {
	body := map[string]any{"duration": int(duration.Seconds())}
	return c.do(ctx, http.MethodPost, "/incidents/"+incidentID+"/snooze", fromEmail, body, nil)
}

func (c *Client) Reassign(ctx context.Context, incidentID, fromEmail, userID string) error {
	body := map[string]any{
		"incident": map[string]any{
			"type": "incident_reference",
			"assignments": []map[string]any{
				{"assignee": map[string]any{"id": userID, "type": "user_reference"}},
			},
		},
	}
	return c.do(ctx, http.MethodPut, "/incidents/"+incidentID, fromEmail, body, nil)
}

func (c *Client) do(ctx context.Context, method, path, fromEmail string, body, out any) error {
	if c.Token == "" {
		return errors.New("pagerduty token required")
	}
	base := c.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, method, base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/vnd.pagerduty+json;version=2")
	request.Header.Set("Authorization", "Token token="+c.Token)
	if fromEmail != "" {
		request.Header.Set("From", fromEmail)
	}
	resp, err := c.httpClient().Do(request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("pagerduty status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *Client) httpClient() *http.Client {
	if c.Client == nil {
		return defaultHTTPClient
	}
	return c.Client
}
