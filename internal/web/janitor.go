package web

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Purger removes expired demo records.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// MarkerPurger removes expired notified-channel markers.
type MarkerPurger interface {
	PurgeExpiredMarkers(ctx context.Context, now time.Time) (int, error)
}

// Janitor sweeps expired state out of the store. Demos older than the
// retention window are deleted without touching the platform; their
// incidents were either resolved long ago or belong to a run nobody
// cleaned up.
type Janitor struct {
	Demos   Purger
	Markers MarkerPurger
	Now     func() time.Time
	Log     *slog.Logger
}

func (j *Janitor) logger() *slog.Logger {
	if j.Log == nil {
		return slog.Default()
	}
	return j.Log
}

// RunOnce performs a single sweep and returns how many demo records
// were purged.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	if j.Demos == nil {
		return 0, errors.New("demos required")
	}
	purged, err := j.Demos.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		j.logger().Info("purged expired demos", "count", purged)
	}
	if j.Markers != nil {
		now := time.Now
		if j.Now != nil {
			now = j.Now
		}
		markers, err := j.Markers.PurgeExpiredMarkers(ctx, now())
		if err != nil {
			return purged, err
		}
		if markers > 0 {
			j.logger().Info("purged expired channel markers", "count", markers)
		}
	}
	return purged, nil
}
