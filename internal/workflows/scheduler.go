package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"

	"demopulse/internal/demo"
)

// TemporalScheduler implements the engine's deferred-callback surface
// on Temporal. Each callback becomes its own workflow execution, so
// timers survive orchestrator restarts.
type TemporalScheduler struct {
	Client    client.Client
	TaskQueue string
}

// Schedule starts a timer workflow for the callback. The workflow id
// embeds the incident and generation: the engine hands out each
// generation value once, so a redelivered scheduling request dedupes
// against the already-running execution.
func (s *TemporalScheduler) Schedule(ctx context.Context, cb demo.Callback, delay time.Duration) error {
	if s == nil || s.Client == nil {
		return errors.New("temporal client required")
	}
	if cb.IncidentID == "" {
		return errors.New("incident_id required")
	}
	opts := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("cb-%s-%s-g%d", cb.IncidentID, cb.Action, cb.Generation),
		TaskQueue: s.TaskQueue,
	}
	input := CallbackWorkflowInput{Callback: cb, Delay: delay}
	_, err := s.Client.ExecuteWorkflow(ctx, opts, DeferredCallbackWorkflow, input)
	return err
}
