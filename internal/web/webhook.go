package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"demopulse/internal/demo"
)

const signatureHeader = "X-PagerDuty-Signature"

// webhookEnvelope is the platform's v3 webhook wire shape, trimmed to
// the fields the engine consumes.
type webhookEnvelope struct {
	Event struct {
		EventType string      `json:"event_type"`
		Data      webhookData `json:"data"`
	} `json:"event"`
}

type webhookData struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Service struct {
		ID      string `json:"id"`
		Summary string `json:"summary"`
	} `json:"service"`
	Assignees []struct {
		ID      string `json:"id"`
		Summary string `json:"summary"`
	} `json:"assignees"`
	// Responder events scope the incident separately.
	Incident struct {
		ID string `json:"id"`
	} `json:"incident"`
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	ConferenceBridge struct {
		ConferenceURL string `json:"conference_url"`
	} `json:"conference_bridge"`
	CustomFields []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"custom_fields"`
}

// handleWebhook is the single ingress for platform events. Signature
// failures are 401, malformed payloads 400, store failures 500 so the
// platform redelivers; everything else is 202 whether or not the
// event drove the machine forward.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	if !s.verifyWebhookSignature(r.Header.Get(signatureHeader), body) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	ev := eventFromEnvelope(envelope)

	if err := s.Engine.HandleEvent(r.Context(), ev); err != nil {
		s.logger().Error("webhook handling failed",
			"event_type", envelope.Event.EventType,
			"incident_id", ev.IncidentID,
			"error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"received": true})
}

// verifyWebhookSignature checks the v1=<hex hmac-sha256> signature.
// The header may carry several comma-separated signatures during
// secret rotation; any match passes. An empty configured secret means
// permissive mode.
func (s *Server) verifyWebhookSignature(header string, body []byte) bool {
	if s.WebhookSecret == "" {
		s.logger().Warn("webhook signature verification disabled: no secret configured")
		return true
	}
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.WebhookSecret))
	_, _ = mac.Write(body)
	expected := "v1=" + hex.EncodeToString(mac.Sum(nil))
	for _, sig := range strings.Split(header, ",") {
		if hmac.Equal([]byte(expected), []byte(strings.TrimSpace(sig))) {
			return true
		}
	}
	return false
}

func eventFromEnvelope(envelope webhookEnvelope) demo.Event {
	data := envelope.Event.Data
	ev := demo.Event{
		Type:          demo.ParseEventType(envelope.Event.EventType),
		IncidentID:    data.ID,
		Title:         data.Title,
		ServiceID:     data.Service.ID,
		ServiceName:   data.Service.Summary,
		ConferenceURL: data.ConferenceBridge.ConferenceURL,
	}
	if len(data.Assignees) > 0 {
		ev.AssigneeID = data.Assignees[0].ID
	}
	// Responder and workflow events reference the incident indirectly.
	if data.Incident.ID != "" {
		ev.IncidentID = data.Incident.ID
	}
	ev.ResponderID = data.User.ID
	if len(data.CustomFields) > 0 {
		ev.CustomFields = make(map[string]string, len(data.CustomFields))
		for _, f := range data.CustomFields {
			ev.CustomFields[f.Name] = f.Value
		}
	}
	return ev
}
