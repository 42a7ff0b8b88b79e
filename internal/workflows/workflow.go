package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"demopulse/internal/demo"
)

// CallbackWorkflowInput is the payload of one deferred callback: what
// to deliver and how long to wait first.
type CallbackWorkflowInput struct {
	Callback demo.Callback
	Delay    time.Duration
}

// DeferredCallbackWorkflow is a durable one-shot timer: sleep the
// delay, then re-enter the engine through the RunCallback activity.
// The engine decides whether the callback is still current; the
// workflow never inspects demo state itself.
func DeferredCallbackWorkflow(ctx workflow.Context, input CallbackWorkflowInput) error {
	if input.Callback.IncidentID == "" {
		return errors.New("incident_id required")
	}
	if input.Delay > 0 {
		if err := workflow.Sleep(ctx, input.Delay); err != nil {
			return err
		}
	}
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	return workflow.ExecuteActivity(ctx, "RunCallback", input.Callback).Get(ctx, nil)
}
