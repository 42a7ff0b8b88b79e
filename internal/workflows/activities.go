package workflows

import (
	"context"
	"errors"

	"demopulse/internal/demo"
)

// CallbackHandler is the slice of the engine the worker invokes.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, cb demo.Callback) error
}

type Activities struct {
	Handler CallbackHandler
}

// RunCallback delivers one fired callback to the engine. Engine-level
// staleness is not an error; only store failures propagate, and those
// are retried by the activity's retry policy.
func (a *Activities) RunCallback(ctx context.Context, cb demo.Callback) error {
	if a.Handler == nil {
		return errors.New("callback handler required")
	}
	return a.Handler.HandleCallback(ctx, cb)
}
