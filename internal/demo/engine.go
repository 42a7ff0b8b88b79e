package demo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"demopulse/internal/metrics"
)

var (
	ErrNotFound  = errors.New("demo incident not found")
	ErrResolved  = errors.New("demo incident already resolved")
	ErrNotPaused = errors.New("demo incident is not paused")
	ErrNoRouting = errors.New("no routing key for scenario service")
)

// Store is the external state store. One record per incident id; the
// record is the unit of consistency across invocations.
type Store interface {
	CreateDemo(ctx context.Context, s State) error
	GetDemo(ctx context.Context, incidentID string) (*State, error)
	UpdateDemo(ctx context.Context, incidentID string, p Patch) (bool, error)
	UpdateDemoIfGeneration(ctx context.Context, incidentID string, expectedGen int, p Patch) (bool, error)
	DeleteDemo(ctx context.Context, incidentID string) (bool, error)
	ListActiveDemos(ctx context.Context) ([]State, error)
	PurgeExpiredDemos(ctx context.Context, now time.Time) (int, error)
}

// Scheduler arranges for a callback to be delivered back to the
// engine after the delay, surviving process restarts.
type Scheduler interface {
	Schedule(ctx context.Context, cb Callback, delay time.Duration) error
}

// IncidentGateway is the incident platform surface the engine drives.
// Every mutating call is made on behalf of a roster user via their
// email.
type IncidentGateway interface {
	Trigger(ctx context.Context, routingKey, title string, sc Scenario) error
	Acknowledge(ctx context.Context, incidentID, fromEmail string) error
	Resolve(ctx context.Context, incidentID, fromEmail string) error
	AddNote(ctx context.Context, incidentID, fromEmail, content string) error
	AddResponders(ctx context.Context, incidentID, fromEmail string, userIDs []string) error
	PostStatusUpdate(ctx context.Context, incidentID, fromEmail, message string) error
	ChangePriority(ctx context.Context, incidentID, fromEmail, priorityID string) error
	ChangeUrgency(ctx context.Context, incidentID, fromEmail, urgency string) error
	Escalate(ctx context.Context, incidentID, fromEmail string, level int) error
	Snooze(ctx context.Context, incidentID, fromEmail string, duration time.Duration) error
	Reassign(ctx context.Context, incidentID, fromEmail, userID string) error
}

// ChatGateway is the chat platform surface.
type ChatGateway interface {
	PostMessage(ctx context.Context, channelID, text string) error
	InviteUsers(ctx context.Context, channelID string, userIDs []string) error
	FindChannelByIncident(ctx context.Context, incidentID string) (string, error)
	SendDirectMessage(ctx context.Context, userID, text string) error
}

// AuditTrail records every externally visible step the engine takes.
type AuditTrail interface {
	Record(ctx context.Context, kind string, payload map[string]any) error
}

// Settings is the tuning surface of the engine. All fields are
// required; config defaults guarantee sane values.
type Settings struct {
	Marker           string
	Retention        time.Duration
	PauseTimeout     time.Duration
	AckDelay         DelayRange
	ActionDelay      DelayRange
	ResolveDelay     DelayRange
	ResumeDelay      DelayRange
	ResponderWeights []int
	PriorityIDs      []string
	RoutingKeys      map[string]string
	ObserverSlackID  string
}

// Engine is the incident lifecycle orchestrator. It is stateless
// between invocations: every entry point re-reads the store, decides,
// writes, and returns. Concurrent invocations for the same incident
// are serialised by the store's generation counter, not by locks.
type Engine struct {
	store     Store
	sched     Scheduler
	incidents IncidentGateway
	chat      ChatGateway
	audit     AuditTrail
	rand      Rand
	roster    Roster
	scenarios ScenarioSet
	catalog   Catalog
	library   Library
	settings  Settings
	log       *slog.Logger
	now       func() time.Time
}

// Deps carries the engine's collaborators. Rand, Catalog, Library,
// and Scenarios fall back to the built-in defaults when zero.
type Deps struct {
	Store     Store
	Scheduler Scheduler
	Incidents IncidentGateway
	Chat      ChatGateway
	Audit     AuditTrail
	Rand      Rand
	Roster    Roster
	Scenarios ScenarioSet
	Catalog   Catalog
	Library   Library
	Settings  Settings
	Logger    *slog.Logger
}

func NewEngine(d Deps) *Engine {
	if d.Rand == nil {
		d.Rand = DefaultRand
	}
	if len(d.Roster.Users) == 0 {
		d.Roster = DefaultRoster()
	}
	if len(d.Scenarios.Scenarios) == 0 {
		d.Scenarios = DefaultScenarios()
	}
	if len(d.Catalog) == 0 {
		d.Catalog = DefaultCatalog()
	}
	if len(d.Library) == 0 {
		d.Library = DefaultLibrary()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Engine{
		store:     d.Store,
		sched:     d.Scheduler,
		incidents: d.Incidents,
		chat:      d.Chat,
		audit:     d.Audit,
		rand:      d.Rand,
		roster:    d.Roster,
		scenarios: d.Scenarios,
		catalog:   d.Catalog,
		library:   d.Library,
		settings:  d.Settings,
		log:       d.Logger,
		now:       time.Now,
	}
}

// HandleEvent processes one inbound webhook event. Store errors abort
// the invocation so the delivery can be retried; everything else is
// absorbed. Events for incidents the engine does not track are
// ignored without error.
func (e *Engine) HandleEvent(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventPing:
		metrics.WebhookEventsTotal.WithLabelValues("pagey.ping", "ignored").Inc()
		return nil
	case EventIncidentTriggered:
		return e.handleTriggered(ctx, ev)
	case EventIncidentAcknowledged:
		return e.handleAcknowledged(ctx, ev)
	case EventIncidentResolved:
		return e.handleResolved(ctx, ev)
	case EventResponderAdded:
		return e.handleResponderAdded(ctx, ev)
	case EventWorkflowCompleted:
		return e.handleWorkflowCompleted(ctx, ev)
	case EventIncidentAnnotated, EventStatusUpdatePublished:
		// Notes and status updates originate from our own callbacks;
		// echoing them back into the machine would loop.
		metrics.WebhookEventsTotal.WithLabelValues(e.eventName(ev.Type), "ignored").Inc()
		return nil
	default:
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "ignored").Inc()
		return nil
	}
}

func (e *Engine) handleTriggered(ctx context.Context, ev Event) error {
	if !strings.Contains(ev.Title, e.settings.Marker) {
		metrics.WebhookEventsTotal.WithLabelValues("incident.triggered", "filtered").Inc()
		return nil
	}
	existing, err := e.store.GetDemo(ctx, ev.IncidentID)
	if err != nil {
		return err
	}
	if existing != nil {
		metrics.WebhookEventsTotal.WithLabelValues("incident.triggered", "ignored").Inc()
		return nil
	}

	primaryID := ev.AssigneeID
	if !e.roster.Contains(primaryID) {
		primaryID = e.roster.Users[e.rand.Intn(len(e.roster.Users))].ID
	}
	count := e.roster.ResponderCount(e.rand, e.settings.ResponderWeights)
	responders := e.roster.Select(e.rand, primaryID, count)

	actions := make(map[string]ResponderAction, len(responders))
	for _, r := range responders {
		actions[r.ID] = ResponderAction{}
	}

	now := e.now().UTC()
	st := State{
		IncidentID:       ev.IncidentID,
		Lifecycle:        Triggered,
		ScenarioID:       ev.CustomFields["scenario_id"],
		ScenarioName:     ev.Title,
		ServiceID:        ev.ServiceID,
		ServiceName:      ev.ServiceName,
		Responders:       responders,
		ResponderActions: actions,
		CreatedAt:        now,
		ExpiresAt:        now.Add(e.settings.Retention),
	}
	if err := e.store.CreateDemo(ctx, st); err != nil {
		return err
	}

	if len(responders) > 1 {
		ids := make([]string, 0, len(responders)-1)
		for _, r := range responders[1:] {
			ids = append(ids, r.ID)
		}
		e.gatewayCall(ctx, "pagerduty", "add_responders", ev.IncidentID, func() error {
			return e.incidents.AddResponders(ctx, ev.IncidentID, responders[0].Email, ids)
		})
	}

	if err := e.schedule(ctx, Callback{
		Action:     CallbackAcknowledge,
		IncidentID: ev.IncidentID,
		UserID:     responders[0].ID,
		Generation: st.CallbackGeneration,
	}, e.settings.AckDelay.Pick(e.rand)); err != nil {
		return err
	}

	metrics.WebhookEventsTotal.WithLabelValues("incident.triggered", "handled").Inc()
	e.recordAudit(ctx, "demo.started", map[string]any{
		"incident_id": ev.IncidentID,
		"title":       ev.Title,
		"responders":  len(responders),
	})
	e.log.Info("demo started",
		"incident_id", ev.IncidentID,
		"responders", len(responders),
		"primary", responders[0].ID)
	return nil
}

// handleAcknowledged covers a human acknowledging the incident in the
// platform UI before the scheduled acknowledge callback fires. The
// generation bump invalidates that pending callback.
func (e *Engine) handleAcknowledged(ctx context.Context, ev Event) error {
	st, err := e.store.GetDemo(ctx, ev.IncidentID)
	if err != nil {
		return err
	}
	if st == nil || st.Lifecycle != Triggered || st.Paused {
		metrics.WebhookEventsTotal.WithLabelValues("incident.acknowledged", "ignored").Inc()
		return nil
	}

	now := e.now().UTC()
	ack := Acknowledged
	newGen := st.CallbackGeneration + 1
	ok, err := e.store.UpdateDemoIfGeneration(ctx, st.IncidentID, st.CallbackGeneration, Patch{
		Lifecycle:          &ack,
		AcknowledgedAt:     &now,
		CallbackGeneration: &newGen,
	})
	if err != nil {
		return err
	}
	if !ok {
		metrics.WebhookEventsTotal.WithLabelValues("incident.acknowledged", "ignored").Inc()
		return nil
	}
	metrics.LifecycleTransitionsTotal.WithLabelValues(string(Acknowledged)).Inc()

	next := e.pickNotActed(st)
	if err := e.schedule(ctx, Callback{
		Action:     CallbackResponderAct,
		IncidentID: st.IncidentID,
		UserID:     next,
		Generation: newGen,
	}, e.settings.ActionDelay.Pick(e.rand)); err != nil {
		return err
	}

	metrics.WebhookEventsTotal.WithLabelValues("incident.acknowledged", "handled").Inc()
	e.recordAudit(ctx, "demo.acknowledged_externally", map[string]any{
		"incident_id": st.IncidentID,
	})
	return nil
}

// handleResolved covers a human resolving the incident out from under
// the demo. The record survives until retention expiry so status
// queries still see the terminal state.
func (e *Engine) handleResolved(ctx context.Context, ev Event) error {
	st, err := e.store.GetDemo(ctx, ev.IncidentID)
	if err != nil {
		return err
	}
	if st == nil || st.Lifecycle == Resolved {
		metrics.WebhookEventsTotal.WithLabelValues("incident.resolved", "ignored").Inc()
		return nil
	}

	resolved := Resolved
	paused := false
	newGen := st.CallbackGeneration + 1
	ok, err := e.store.UpdateDemoIfGeneration(ctx, st.IncidentID, st.CallbackGeneration, Patch{
		Lifecycle:           &resolved,
		Paused:              &paused,
		ClearPauseStartedAt: true,
		CallbackGeneration:  &newGen,
	})
	if err != nil {
		return err
	}
	if !ok {
		metrics.WebhookEventsTotal.WithLabelValues("incident.resolved", "ignored").Inc()
		return nil
	}
	metrics.LifecycleTransitionsTotal.WithLabelValues(string(Resolved)).Inc()

	if st.SlackChannelID != "" {
		msg := e.library.Message(e.rand, CategoryResolved)
		e.gatewayCall(ctx, "slack", "post_message", st.IncidentID, func() error {
			return e.chat.PostMessage(ctx, st.SlackChannelID, msg)
		})
	}

	metrics.WebhookEventsTotal.WithLabelValues("incident.resolved", "handled").Inc()
	e.recordAudit(ctx, "demo.resolved_externally", map[string]any{
		"incident_id": st.IncidentID,
	})
	return nil
}

// handleResponderAdded starts tracking a responder added outside the
// original selection, so full participation includes them, and pulls
// them into the incident channel when one is linked.
func (e *Engine) handleResponderAdded(ctx context.Context, ev Event) error {
	st, err := e.store.GetDemo(ctx, ev.IncidentID)
	if err != nil {
		return err
	}
	if st == nil || st.Lifecycle == Resolved || st.Paused || ev.ResponderID == "" {
		metrics.WebhookEventsTotal.WithLabelValues("incident.responder.added", "ignored").Inc()
		return nil
	}
	if _, tracked := st.ResponderByID(ev.ResponderID); tracked {
		metrics.WebhookEventsTotal.WithLabelValues("incident.responder.added", "ignored").Inc()
		return nil
	}
	if !e.roster.Contains(ev.ResponderID) {
		metrics.WebhookEventsTotal.WithLabelValues("incident.responder.added", "ignored").Inc()
		return nil
	}

	added := e.roster.ByID(ev.ResponderID)
	responders := append(append([]Responder(nil), st.Responders...), added)
	actions := make(map[string]ResponderAction, len(st.ResponderActions)+1)
	for id, ra := range st.ResponderActions {
		actions[id] = ra
	}
	actions[ev.ResponderID] = ResponderAction{}

	// Conditional on the generation so a responder_action callback
	// racing this webhook cannot have its participation mark clobbered.
	// The generation itself stays put: pending callbacks remain valid.
	ok, err := e.store.UpdateDemoIfGeneration(ctx, st.IncidentID, st.CallbackGeneration, Patch{
		Responders:       responders,
		ResponderActions: actions,
	})
	if err != nil {
		return err
	}
	if !ok {
		metrics.WebhookEventsTotal.WithLabelValues("incident.responder.added", "ignored").Inc()
		return nil
	}

	if st.SlackChannelID != "" && added.SlackID != "" {
		e.gatewayCall(ctx, "slack", "invite_users", st.IncidentID, func() error {
			return e.chat.InviteUsers(ctx, st.SlackChannelID, []string{added.SlackID})
		})
		e.gatewayCall(ctx, "slack", "post_message", st.IncidentID, func() error {
			return e.chat.PostMessage(ctx, st.SlackChannelID, added.Name+" has joined to help with this incident.")
		})
	}

	metrics.WebhookEventsTotal.WithLabelValues("incident.responder.added", "handled").Inc()
	return nil
}

// handleWorkflowCompleted fires when the platform's channel-creation
// automation finishes. The channel id comes from the conference bridge
// link when present, or a name search as fallback; once persisted, the
// responders and observer are assembled there.
func (e *Engine) handleWorkflowCompleted(ctx context.Context, ev Event) error {
	st, err := e.store.GetDemo(ctx, ev.IncidentID)
	if err != nil {
		return err
	}
	if st == nil || st.Lifecycle == Resolved || st.SlackChannelID != "" {
		metrics.WebhookEventsTotal.WithLabelValues("workflow.completed", "ignored").Inc()
		return nil
	}

	channelID := channelFromBridgeURL(ev.ConferenceURL)
	if channelID == "" {
		found, err := e.chat.FindChannelByIncident(ctx, st.IncidentID)
		if err != nil {
			metrics.GatewayCallsTotal.WithLabelValues("slack", "find_channel", "error").Inc()
			e.log.Warn("channel lookup failed", "incident_id", st.IncidentID, "error", err)
		}
		channelID = found
	}
	if channelID == "" {
		metrics.WebhookEventsTotal.WithLabelValues("workflow.completed", "ignored").Inc()
		return nil
	}

	if _, err := e.store.UpdateDemo(ctx, st.IncidentID, Patch{SlackChannelID: &channelID}); err != nil {
		return err
	}

	invitees := make([]string, 0, len(st.Responders)+1)
	if e.settings.ObserverSlackID != "" {
		invitees = append(invitees, e.settings.ObserverSlackID)
	}
	for _, r := range st.Responders {
		if r.SlackID != "" {
			invitees = append(invitees, r.SlackID)
		}
	}
	if len(invitees) > 0 {
		e.gatewayCall(ctx, "slack", "invite_users", st.IncidentID, func() error {
			return e.chat.InviteUsers(ctx, channelID, invitees)
		})
	}
	e.gatewayCall(ctx, "slack", "post_message", st.IncidentID, func() error {
		return e.chat.PostMessage(ctx, channelID, "Team assembled for incident response. Let's investigate.")
	})

	metrics.WebhookEventsTotal.WithLabelValues("workflow.completed", "handled").Inc()
	e.recordAudit(ctx, "demo.channel_linked", map[string]any{
		"incident_id": st.IncidentID,
		"channel_id":  channelID,
	})
	return nil
}

// channelFromBridgeURL extracts a channel id from a conference bridge
// link of the form https://slack.com/.../C0123456789.
func channelFromBridgeURL(url string) string {
	if !strings.Contains(url, "slack.com") {
		return ""
	}
	parts := strings.Split(url, "/")
	last := parts[len(parts)-1]
	if strings.HasPrefix(last, "C") {
		return last
	}
	return ""
}

// HandleCallback processes one fired deferred callback. Staleness is
// decided against the stored generation: any control operation or
// competing invocation that advanced it invalidates this delivery.
func (e *Engine) HandleCallback(ctx context.Context, cb Callback) error {
	st, err := e.store.GetDemo(ctx, cb.IncidentID)
	if err != nil {
		return err
	}
	if st == nil || st.Lifecycle == Resolved {
		metrics.CallbacksFiredTotal.WithLabelValues(string(cb.Action), "dropped").Inc()
		return nil
	}
	if cb.Generation != st.CallbackGeneration {
		metrics.CallbacksFiredTotal.WithLabelValues(string(cb.Action), "stale").Inc()
		e.log.Debug("dropping stale callback",
			"incident_id", cb.IncidentID,
			"action", string(cb.Action),
			"callback_generation", cb.Generation,
			"stored_generation", st.CallbackGeneration)
		return nil
	}
	// Paused suppresses progression but not resolution: resolve and
	// the pause timeout still run.
	if st.Paused && cb.Action != CallbackPauseTimeout && cb.Action != CallbackResolve {
		metrics.CallbacksFiredTotal.WithLabelValues(string(cb.Action), "dropped").Inc()
		return nil
	}

	switch cb.Action {
	case CallbackAcknowledge:
		err = e.runAcknowledge(ctx, st, cb)
	case CallbackResponderAct:
		err = e.runResponderAction(ctx, st, cb)
	case CallbackResolve:
		err = e.runResolve(ctx, st, cb)
	case CallbackPauseTimeout:
		err = e.runPauseTimeout(ctx, st, cb)
	default:
		metrics.CallbacksFiredTotal.WithLabelValues(string(cb.Action), "dropped").Inc()
		return nil
	}
	if err != nil {
		return err
	}
	metrics.CallbacksFiredTotal.WithLabelValues(string(cb.Action), "executed").Inc()
	return nil
}

func (e *Engine) runAcknowledge(ctx context.Context, st *State, cb Callback) error {
	if st.Lifecycle != Triggered {
		return nil
	}
	acker, ok := st.ResponderByID(cb.UserID)
	if !ok {
		acker = st.Responders[0]
	}

	now := e.now().UTC()
	ack := Acknowledged
	newGen := st.CallbackGeneration + 1
	claimed, err := e.store.UpdateDemoIfGeneration(ctx, st.IncidentID, st.CallbackGeneration, Patch{
		Lifecycle:          &ack,
		AcknowledgedAt:     &now,
		CallbackGeneration: &newGen,
	})
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	metrics.LifecycleTransitionsTotal.WithLabelValues(string(Acknowledged)).Inc()

	e.gatewayCall(ctx, "pagerduty", "acknowledge", st.IncidentID, func() error {
		return e.incidents.Acknowledge(ctx, st.IncidentID, acker.Email)
	})
	msg := e.library.Message(e.rand, CategoryInvestigating)
	e.gatewayCall(ctx, "pagerduty", "add_note", st.IncidentID, func() error {
		return e.incidents.AddNote(ctx, st.IncidentID, acker.Email, msg)
	})
	e.postChat(ctx, st, acker, msg)

	e.recordAudit(ctx, "demo.acknowledged", map[string]any{
		"incident_id": st.IncidentID,
		"user_id":     acker.ID,
	})

	return e.schedule(ctx, Callback{
		Action:     CallbackResponderAct,
		IncidentID: st.IncidentID,
		UserID:     e.pickNotActed(st),
		Generation: newGen,
	}, e.settings.ActionDelay.Pick(e.rand))
}

func (e *Engine) runResponderAction(ctx context.Context, st *State, cb Callback) error {
	if st.Lifecycle != Acknowledged {
		return nil
	}
	actor, ok := st.ResponderByID(cb.UserID)
	if !ok {
		actor = st.Responders[e.rand.Intn(len(st.Responders))]
	}
	entry := e.catalog.Pick(e.rand)

	actions := make(map[string]ResponderAction, len(st.ResponderActions))
	for id, ra := range st.ResponderActions {
		actions[id] = ra
	}
	actions[actor.ID] = ResponderAction{Acted: true, LastAction: entry.Kind}

	newGen := st.CallbackGeneration + 1
	claimed, err := e.store.UpdateDemoIfGeneration(ctx, st.IncidentID, st.CallbackGeneration, Patch{
		ResponderActions:   actions,
		CallbackGeneration: &newGen,
	})
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	msg := e.executeAction(ctx, st, actor, entry)
	e.postChat(ctx, st, actor, msg)
	e.recordAudit(ctx, "demo.responder_action", map[string]any{
		"incident_id": st.IncidentID,
		"user_id":     actor.ID,
		"action":      string(entry.Kind),
	})

	allActed := true
	for _, ra := range actions {
		if !ra.Acted {
			allActed = false
			break
		}
	}
	if allActed {
		resolver := st.Responders[e.rand.Intn(len(st.Responders))]
		return e.schedule(ctx, Callback{
			Action:     CallbackResolve,
			IncidentID: st.IncidentID,
			UserID:     resolver.ID,
			Generation: newGen,
		}, e.settings.ResolveDelay.Pick(e.rand))
	}

	var pending []string
	for id, ra := range actions {
		if !ra.Acted {
			pending = append(pending, id)
		}
	}
	return e.schedule(ctx, Callback{
		Action:     CallbackResponderAct,
		IncidentID: st.IncidentID,
		UserID:     pending[e.rand.Intn(len(pending))],
		Generation: newGen,
	}, e.settings.ActionDelay.Pick(e.rand))
}

func (e *Engine) runResolve(ctx context.Context, st *State, cb Callback) error {
	if st.Lifecycle != Acknowledged {
		return nil
	}
	resolver, ok := st.ResponderByID(cb.UserID)
	if !ok {
		resolver = st.Responders[0]
	}

	resolved := Resolved
	newGen := st.CallbackGeneration + 1
	claimed, err := e.store.UpdateDemoIfGeneration(ctx, st.IncidentID, st.CallbackGeneration, Patch{
		Lifecycle:          &resolved,
		ResolverID:         &resolver.ID,
		CallbackGeneration: &newGen,
	})
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	metrics.LifecycleTransitionsTotal.WithLabelValues(string(Resolved)).Inc()

	msg := e.library.Message(e.rand, CategoryResolved)
	e.gatewayCall(ctx, "pagerduty", "add_note", st.IncidentID, func() error {
		return e.incidents.AddNote(ctx, st.IncidentID, resolver.Email, msg)
	})
	e.gatewayCall(ctx, "pagerduty", "resolve", st.IncidentID, func() error {
		return e.incidents.Resolve(ctx, st.IncidentID, resolver.Email)
	})
	e.postChat(ctx, st, resolver, msg)

	e.recordAudit(ctx, "demo.resolved", map[string]any{
		"incident_id": st.IncidentID,
		"user_id":     resolver.ID,
	})
	e.log.Info("demo resolved", "incident_id", st.IncidentID, "resolver", resolver.ID)
	return nil
}

// runPauseTimeout resolves a demo that sat paused past the timeout,
// so an abandoned pause never leaves a live incident dangling.
func (e *Engine) runPauseTimeout(ctx context.Context, st *State, cb Callback) error {
	if !st.Paused {
		return nil
	}
	resolver := st.Responders[0]

	resolved := Resolved
	paused := false
	newGen := st.CallbackGeneration + 1
	claimed, err := e.store.UpdateDemoIfGeneration(ctx, st.IncidentID, st.CallbackGeneration, Patch{
		Lifecycle:           &resolved,
		Paused:              &paused,
		ClearPauseStartedAt: true,
		ResolverID:          &resolver.ID,
		CallbackGeneration:  &newGen,
	})
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	metrics.LifecycleTransitionsTotal.WithLabelValues(string(Resolved)).Inc()

	e.gatewayCall(ctx, "pagerduty", "add_note", st.IncidentID, func() error {
		return e.incidents.AddNote(ctx, st.IncidentID, resolver.Email,
			"Demo paused past the timeout; closing out.")
	})
	e.gatewayCall(ctx, "pagerduty", "resolve", st.IncidentID, func() error {
		return e.incidents.Resolve(ctx, st.IncidentID, resolver.Email)
	})
	e.recordAudit(ctx, "demo.pause_timeout", map[string]any{
		"incident_id": st.IncidentID,
	})
	e.log.Info("demo auto-resolved after pause timeout", "incident_id", st.IncidentID)
	return nil
}

// Pause freezes demo activity for the incident. Pending callbacks are
// invalidated by the generation bump; a pause timeout callback is
// scheduled in their place.
func (e *Engine) Pause(ctx context.Context, incidentID string) error {
	st, err := e.store.GetDemo(ctx, incidentID)
	if err != nil {
		return err
	}
	if st == nil {
		return ErrNotFound
	}
	if st.Lifecycle == Resolved {
		return ErrResolved
	}
	if st.Paused {
		return nil
	}

	now := e.now().UTC()
	paused := true
	newGen := st.CallbackGeneration + 1
	ok, err := e.store.UpdateDemoIfGeneration(ctx, incidentID, st.CallbackGeneration, Patch{
		Paused:             &paused,
		PauseStartedAt:     &now,
		CallbackGeneration: &newGen,
	})
	if err != nil {
		return err
	}
	if !ok {
		// Lost the race to a concurrent invocation; the caller can
		// retry against the fresh state.
		return ErrNotFound
	}

	if err := e.schedule(ctx, Callback{
		Action:     CallbackPauseTimeout,
		IncidentID: incidentID,
		Generation: newGen,
	}, e.settings.PauseTimeout); err != nil {
		return err
	}
	e.recordAudit(ctx, "demo.paused", map[string]any{"incident_id": incidentID})
	e.log.Info("demo paused", "incident_id", incidentID)
	return nil
}

// PauseAll pauses every active demo. Already-paused demos count;
// demos that resolve mid-sweep are skipped.
func (e *Engine) PauseAll(ctx context.Context) (int, error) {
	active, err := e.store.ListActiveDemos(ctx)
	if err != nil {
		return 0, err
	}
	paused := 0
	for _, st := range active {
		if err := e.Pause(ctx, st.IncidentID); err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrResolved) {
				continue
			}
			return paused, err
		}
		paused++
	}
	return paused, nil
}

// Resume unfreezes the demo and schedules the next step appropriate
// to its lifecycle position. The generation bump invalidates the
// pending pause timeout.
func (e *Engine) Resume(ctx context.Context, incidentID string) error {
	st, err := e.store.GetDemo(ctx, incidentID)
	if err != nil {
		return err
	}
	if st == nil {
		return ErrNotFound
	}
	if st.Lifecycle == Resolved {
		return ErrResolved
	}
	if !st.Paused {
		return ErrNotPaused
	}

	paused := false
	newGen := st.CallbackGeneration + 1
	ok, err := e.store.UpdateDemoIfGeneration(ctx, incidentID, st.CallbackGeneration, Patch{
		Paused:              &paused,
		ClearPauseStartedAt: true,
		CallbackGeneration:  &newGen,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}

	next := Callback{IncidentID: incidentID, Generation: newGen}
	switch {
	case st.Lifecycle == Triggered:
		next.Action = CallbackAcknowledge
		next.UserID = st.Responders[0].ID
	case st.AllActed():
		next.Action = CallbackResolve
		next.UserID = st.Responders[e.rand.Intn(len(st.Responders))].ID
	default:
		next.Action = CallbackResponderAct
		next.UserID = e.pickNotActed(st)
	}
	if err := e.schedule(ctx, next, e.settings.ResumeDelay.Pick(e.rand)); err != nil {
		return err
	}
	e.recordAudit(ctx, "demo.resumed", map[string]any{"incident_id": incidentID})
	e.log.Info("demo resumed", "incident_id", incidentID, "next", string(next.Action))
	return nil
}

// ResumeAll resumes every paused demo.
func (e *Engine) ResumeAll(ctx context.Context) (int, error) {
	active, err := e.store.ListActiveDemos(ctx)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, st := range active {
		if !st.Paused {
			continue
		}
		if err := e.Resume(ctx, st.IncidentID); err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrResolved) || errors.Is(err, ErrNotPaused) {
				continue
			}
			return resumed, err
		}
		resumed++
	}
	return resumed, nil
}

// Cleanup resolves every active demo incident on the platform and
// deletes its record. Gateway failures are recorded and skipped so
// one bad incident cannot wedge the sweep.
func (e *Engine) Cleanup(ctx context.Context) (int, error) {
	active, err := e.store.ListActiveDemos(ctx)
	if err != nil {
		return 0, err
	}
	cleaned := 0
	for _, st := range active {
		from := e.roster.Users[0].Email
		if len(st.Responders) > 0 {
			from = st.Responders[0].Email
		}
		e.gatewayCall(ctx, "pagerduty", "resolve", st.IncidentID, func() error {
			return e.incidents.Resolve(ctx, st.IncidentID, from)
		})
		if _, err := e.store.DeleteDemo(ctx, st.IncidentID); err != nil {
			e.log.Error("cleanup delete failed", "incident_id", st.IncidentID, "error", err)
			continue
		}
		cleaned++
	}
	metrics.ActiveDemos.Set(0)
	e.recordAudit(ctx, "demo.cleanup", map[string]any{"cleaned": cleaned})
	e.log.Info("cleanup complete", "cleaned", cleaned)
	return cleaned, nil
}

// Demo returns one demo's stored state. Resolved records stay visible
// until retention expiry.
func (e *Engine) Demo(ctx context.Context, incidentID string) (*State, error) {
	return e.store.GetDemo(ctx, incidentID)
}

// Status returns every unresolved demo.
func (e *Engine) Status(ctx context.Context) ([]State, error) {
	active, err := e.store.ListActiveDemos(ctx)
	if err != nil {
		return nil, err
	}
	metrics.ActiveDemos.Set(float64(len(active)))
	return active, nil
}

// TriggerScenario fires a scenario through the events API. State is
// created later, when the triggered webhook comes back.
func (e *Engine) TriggerScenario(ctx context.Context, scenarioID string) (Scenario, error) {
	var sc Scenario
	if scenarioID == "" {
		sc = e.scenarios.Pick(e.rand)
	} else {
		var ok bool
		sc, ok = e.scenarios.ByID(scenarioID)
		if !ok {
			return Scenario{}, fmt.Errorf("unknown scenario %q", scenarioID)
		}
	}
	routingKey := e.settings.RoutingKeys[sc.Service]
	if routingKey == "" {
		return Scenario{}, fmt.Errorf("%w: %s", ErrNoRouting, sc.Service)
	}
	title := e.settings.Marker + " " + sc.Title
	if err := e.incidents.Trigger(ctx, routingKey, title, sc); err != nil {
		metrics.GatewayCallsTotal.WithLabelValues("pagerduty", "trigger", "error").Inc()
		return Scenario{}, err
	}
	metrics.GatewayCallsTotal.WithLabelValues("pagerduty", "trigger", "ok").Inc()
	e.recordAudit(ctx, "demo.triggered", map[string]any{
		"scenario_id": sc.ID,
		"service":     sc.Service,
	})
	e.log.Info("scenario triggered", "scenario_id", sc.ID, "service", sc.Service)
	return sc, nil
}

// PurgeExpired drops records past their retention window.
func (e *Engine) PurgeExpired(ctx context.Context) (int, error) {
	return e.store.PurgeExpiredDemos(ctx, e.now())
}

// AttachChannel records the chat channel for an incident once the
// notifier locates it.
func (e *Engine) AttachChannel(ctx context.Context, incidentID, channelID string) error {
	_, err := e.store.UpdateDemo(ctx, incidentID, Patch{SlackChannelID: &channelID})
	return err
}

// executeAction performs the platform call for one catalog entry and
// returns the conversation message used. Kinds without a dedicated
// platform surface degrade to a note; the action still counts toward
// participation.
func (e *Engine) executeAction(ctx context.Context, st *State, actor Responder, entry CatalogEntry) string {
	msg := e.library.Message(e.rand, entry.Category)
	id := st.IncidentID

	switch entry.Kind {
	case ActionAddNote:
		e.gatewayCall(ctx, "pagerduty", "add_note", id, func() error {
			return e.incidents.AddNote(ctx, id, actor.Email, msg)
		})
	case ActionStatusUpdate:
		e.gatewayCall(ctx, "pagerduty", "status_update", id, func() error {
			return e.incidents.PostStatusUpdate(ctx, id, actor.Email, msg)
		})
	case ActionRunAutomation:
		e.gatewayCall(ctx, "pagerduty", "add_note", id, func() error {
			return e.incidents.AddNote(ctx, id, actor.Email, "Running diagnostics automation. "+msg)
		})
	case ActionTriggerFlow:
		e.gatewayCall(ctx, "pagerduty", "add_note", id, func() error {
			return e.incidents.AddNote(ctx, id, actor.Email, "Kicked off the remediation workflow. "+msg)
		})
	case ActionChangePriority:
		if len(e.settings.PriorityIDs) == 0 {
			e.gatewayCall(ctx, "pagerduty", "add_note", id, func() error {
				return e.incidents.AddNote(ctx, id, actor.Email, msg)
			})
			break
		}
		pri := e.settings.PriorityIDs[e.rand.Intn(len(e.settings.PriorityIDs))]
		e.gatewayCall(ctx, "pagerduty", "change_priority", id, func() error {
			return e.incidents.ChangePriority(ctx, id, actor.Email, pri)
		})
	case ActionChangeUrgency:
		e.gatewayCall(ctx, "pagerduty", "change_urgency", id, func() error {
			return e.incidents.ChangeUrgency(ctx, id, actor.Email, "high")
		})
	case ActionAddResponder:
		taken := make(map[string]bool, len(st.Responders))
		for _, r := range st.Responders {
			taken[r.ID] = true
		}
		spare := e.roster.Excluding(taken)
		if len(spare) == 0 {
			e.gatewayCall(ctx, "pagerduty", "add_note", id, func() error {
				return e.incidents.AddNote(ctx, id, actor.Email, msg)
			})
			break
		}
		extra := spare[e.rand.Intn(len(spare))]
		e.gatewayCall(ctx, "pagerduty", "add_responders", id, func() error {
			return e.incidents.AddResponders(ctx, id, actor.Email, []string{extra.ID})
		})
	case ActionEscalate:
		e.gatewayCall(ctx, "pagerduty", "escalate", id, func() error {
			return e.incidents.Escalate(ctx, id, actor.Email, 2)
		})
	case ActionSnooze:
		e.gatewayCall(ctx, "pagerduty", "snooze", id, func() error {
			return e.incidents.Snooze(ctx, id, actor.Email, 5*time.Minute)
		})
	case ActionReassign:
		target := e.otherResponder(st, actor.ID)
		if target == "" {
			e.gatewayCall(ctx, "pagerduty", "add_note", id, func() error {
				return e.incidents.AddNote(ctx, id, actor.Email, msg)
			})
			break
		}
		e.gatewayCall(ctx, "pagerduty", "reassign", id, func() error {
			return e.incidents.Reassign(ctx, id, actor.Email, target)
		})
	case ActionAddTask:
		e.gatewayCall(ctx, "pagerduty", "add_note", id, func() error {
			return e.incidents.AddNote(ctx, id, actor.Email, "Follow-up task filed. "+msg)
		})
	default:
		e.gatewayCall(ctx, "pagerduty", "add_note", id, func() error {
			return e.incidents.AddNote(ctx, id, actor.Email, msg)
		})
	}
	return msg
}

// gatewayCall wraps one platform call: failures are logged, audited,
// and counted, never propagated. The demo narrative continues even
// when an individual platform call misbehaves.
func (e *Engine) gatewayCall(ctx context.Context, gateway, call, incidentID string, fn func() error) {
	if err := fn(); err != nil {
		metrics.GatewayCallsTotal.WithLabelValues(gateway, call, "error").Inc()
		e.log.Warn("gateway call failed",
			"gateway", gateway,
			"call", call,
			"incident_id", incidentID,
			"error", err)
		e.recordAudit(ctx, "gateway.error", map[string]any{
			"incident_id": incidentID,
			"gateway":     gateway,
			"call":        call,
			"error":       err.Error(),
		})
		return
	}
	metrics.GatewayCallsTotal.WithLabelValues(gateway, call, "ok").Inc()
}

func (e *Engine) postChat(ctx context.Context, st *State, from Responder, text string) {
	if st.SlackChannelID == "" || text == "" {
		return
	}
	e.gatewayCall(ctx, "slack", "post_message", st.IncidentID, func() error {
		return e.chat.PostMessage(ctx, st.SlackChannelID, from.Name+": "+text)
	})
}

func (e *Engine) schedule(ctx context.Context, cb Callback, delay time.Duration) error {
	if err := e.sched.Schedule(ctx, cb, delay); err != nil {
		return fmt.Errorf("schedule %s for %s: %w", cb.Action, cb.IncidentID, err)
	}
	metrics.CallbacksScheduledTotal.WithLabelValues(string(cb.Action)).Inc()
	return nil
}

func (e *Engine) pickNotActed(st *State) string {
	pending := st.NotActed()
	if len(pending) == 0 {
		return st.Responders[0].ID
	}
	return pending[e.rand.Intn(len(pending))]
}

func (e *Engine) otherResponder(st *State, excludeID string) string {
	var others []string
	for _, r := range st.Responders {
		if r.ID != excludeID {
			others = append(others, r.ID)
		}
	}
	if len(others) == 0 {
		return ""
	}
	return others[e.rand.Intn(len(others))]
}

func (e *Engine) recordAudit(ctx context.Context, kind string, payload map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, kind, payload); err != nil {
		e.log.Warn("audit record failed", "kind", kind, "error", err)
	}
}

func (e *Engine) eventName(t EventType) string {
	for name, v := range eventTypeNames {
		if v == t {
			return name
		}
	}
	return "unknown"
}
