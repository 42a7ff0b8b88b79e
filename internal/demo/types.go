package demo

import (
	"time"
)

// Lifecycle is the persisted progression of a demo incident. It is
// monotonic: Triggered -> Acknowledged -> Resolved, with Resolved
// terminal. The paused flag overlays any non-terminal state.
type Lifecycle string

const (
	Triggered    Lifecycle = "triggered"
	Acknowledged Lifecycle = "acknowledged"
	Resolved     Lifecycle = "resolved"
)

func (l Lifecycle) rank() int {
	switch l {
	case Triggered:
		return 0
	case Acknowledged:
		return 1
	case Resolved:
		return 2
	default:
		return -1
	}
}

// Before reports whether l strictly precedes other in the lifecycle
// order. Writes that would regress the lifecycle are rejected by the
// engine using this ordering.
func (l Lifecycle) Before(other Lifecycle) bool {
	return l.rank() < other.rank()
}

// Responder is one person associated with an incident. The first
// entry in State.Responders is the primary assignee.
type Responder struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	SlackID string `json:"slack_id"`
}

// ResponderAction tracks one responder's participation.
type ResponderAction struct {
	Acted      bool       `json:"acted"`
	LastAction ActionKind `json:"last_action,omitempty"`
}

// State is the unit of consistency: one record per incident id, held
// in the external store and re-read by every invocation.
type State struct {
	IncidentID         string                     `json:"incident_id"`
	Lifecycle          Lifecycle                  `json:"lifecycle_state"`
	ScenarioID         string                     `json:"scenario_id"`
	ScenarioName       string                     `json:"scenario_name"`
	ServiceID          string                     `json:"service_id"`
	ServiceName        string                     `json:"service_name"`
	Responders         []Responder                `json:"responders"`
	ResponderActions   map[string]ResponderAction `json:"responder_actions"`
	Paused             bool                       `json:"paused"`
	PauseStartedAt     *time.Time                 `json:"pause_started_at,omitempty"`
	SlackChannelID     string                     `json:"slack_channel_id,omitempty"`
	AcknowledgedAt     *time.Time                 `json:"acknowledged_at,omitempty"`
	ResolverID         string                     `json:"resolver_id,omitempty"`
	CallbackGeneration int                        `json:"callback_generation"`
	CreatedAt          time.Time                  `json:"created_at"`
	ExpiresAt          time.Time                  `json:"expires_at"`
}

// AllActed reports whether every tracked responder has acted.
func (s *State) AllActed() bool {
	for _, ra := range s.ResponderActions {
		if !ra.Acted {
			return false
		}
	}
	return len(s.ResponderActions) > 0
}

// NotActed returns the ids of responders who have not acted yet.
func (s *State) NotActed() []string {
	var out []string
	for id, ra := range s.ResponderActions {
		if !ra.Acted {
			out = append(out, id)
		}
	}
	return out
}

// ResponderByID looks up a tracked responder.
func (s *State) ResponderByID(id string) (Responder, bool) {
	for _, r := range s.Responders {
		if r.ID == id {
			return r, true
		}
	}
	return Responder{}, false
}

// Patch is a merge-patch against a stored State: only non-nil fields
// are applied, everything else is left untouched.
type Patch struct {
	Lifecycle           *Lifecycle
	Paused              *bool
	PauseStartedAt      *time.Time
	ClearPauseStartedAt bool
	SlackChannelID      *string
	AcknowledgedAt      *time.Time
	ResolverID          *string
	Responders          []Responder
	ResponderActions    map[string]ResponderAction
	CallbackGeneration  *int
}

// CallbackAction enumerates every deferred callback the orchestrator
// schedules for itself. The set is closed; dispatch is exhaustive.
type CallbackAction string

const (
	CallbackAcknowledge  CallbackAction = "acknowledge"
	CallbackResponderAct CallbackAction = "responder_action"
	CallbackResolve      CallbackAction = "resolve"
	CallbackPauseTimeout CallbackAction = "pause_timeout"
)

// ParseCallbackAction maps the wire string to a CallbackAction.
func ParseCallbackAction(s string) (CallbackAction, bool) {
	switch CallbackAction(s) {
	case CallbackAcknowledge, CallbackResponderAct, CallbackResolve, CallbackPauseTimeout:
		return CallbackAction(s), true
	default:
		return "", false
	}
}

// Callback is the payload of a fired deferred callback: a synthetic
// re-entry distinguishable from a webhook by its source marker.
type Callback struct {
	Action     CallbackAction `json:"action"`
	IncidentID string         `json:"incident_id"`
	UserID     string         `json:"user_id,omitempty"`
	Generation int            `json:"generation,omitempty"`
}

// EventType enumerates the inbound webhook events the orchestrator
// understands. Unknown wire strings map to EventUnknown and are
// accepted without dispatch, for forward compatibility with the
// platform's event catalog.
type EventType int

const (
	EventUnknown EventType = iota
	EventPing
	EventIncidentTriggered
	EventIncidentAcknowledged
	EventIncidentResolved
	EventResponderAdded
	EventIncidentAnnotated
	EventStatusUpdatePublished
	EventWorkflowCompleted
)

var eventTypeNames = map[string]EventType{
	"pagey.ping":                       EventPing,
	"incident.triggered":               EventIncidentTriggered,
	"incident.acknowledged":            EventIncidentAcknowledged,
	"incident.resolved":                EventIncidentResolved,
	"incident.responder.added":         EventResponderAdded,
	"incident.annotated":               EventIncidentAnnotated,
	"incident.status_update_published": EventStatusUpdatePublished,
	"workflow.completed":               EventWorkflowCompleted,
}

// ParseEventType maps a webhook event_type string onto the closed
// event enum.
func ParseEventType(s string) EventType {
	return eventTypeNames[s]
}

// Event is a parsed webhook notification scoped to one incident.
type Event struct {
	Type          EventType
	IncidentID    string
	Title         string
	ServiceID     string
	ServiceName   string
	AssigneeID    string
	ResponderID   string
	CustomFields  map[string]string
	ConferenceURL string
}

// ActionKind names one entry in the responder action catalog.
type ActionKind string

const (
	ActionAddNote        ActionKind = "add_note"
	ActionStatusUpdate   ActionKind = "status_update"
	ActionRunAutomation  ActionKind = "run_automation"
	ActionTriggerFlow    ActionKind = "trigger_workflow"
	ActionChangePriority ActionKind = "change_priority"
	ActionChangeUrgency  ActionKind = "change_urgency"
	ActionAddResponder   ActionKind = "add_responder"
	ActionEscalate       ActionKind = "escalate"
	ActionSnooze         ActionKind = "snooze"
	ActionReassign       ActionKind = "reassign"
	ActionAddTask        ActionKind = "add_task"
)
