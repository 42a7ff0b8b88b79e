package db

import (
	"context"
	"time"
)

// MarkChannelNotified records that the observer was told about a
// channel. It is an atomic test-and-set: true means this invocation
// claimed the marker and should send the notification, false means
// another invocation already did. Each invocation runs on a fresh
// instance, so the marker lives in the store rather than in memory.
func (d *DB) MarkChannelNotified(ctx context.Context, channelID, channelName string, expiresAt time.Time) (bool, error) {
	res, err := d.conn.ExecContext(ctx, `
		INSERT INTO notified_channels(channel_id, channel_name, notified_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (channel_id) DO NOTHING
	`, channelID, channelName, time.Now().UTC(), expiresAt.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PurgeExpiredMarkers deletes notified-channel markers past their TTL.
func (d *DB) PurgeExpiredMarkers(ctx context.Context, now time.Time) (int, error) {
	res, err := d.conn.ExecContext(ctx, `DELETE FROM notified_channels WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
