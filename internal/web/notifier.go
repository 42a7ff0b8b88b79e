package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"demopulse/internal/demo"
	"demopulse/internal/slack"
)

// DemoLister is the engine surface the notifier needs: the active set
// plus the ability to record a discovered channel.
type DemoLister interface {
	Status(ctx context.Context) ([]demo.State, error)
	AttachChannel(ctx context.Context, incidentID, channelID string) error
}

// ChannelFinder is the chat surface the notifier drives.
type ChannelFinder interface {
	FindChannelByIncident(ctx context.Context, incidentID string) (string, error)
	PostMessage(ctx context.Context, channelID, text string) error
	InviteUsers(ctx context.Context, channelID string, userIDs []string) error
	SendDirectMessage(ctx context.Context, userID, text string) error
}

// ChannelMarkers is the persisted claim set that makes notification
// exactly-once across concurrent notifier runs.
type ChannelMarkers interface {
	MarkChannelNotified(ctx context.Context, channelID, channelName string, expiresAt time.Time) (bool, error)
}

// RecentChannelLister narrows a sweep to channels created inside the
// lookback window, one list call per run instead of one per demo.
type RecentChannelLister interface {
	ListChannelsCreatedSince(ctx context.Context, cutoff time.Time) ([]slack.Channel, error)
}

// ChannelNotifier links freshly created incident channels back to
// their demo records. The platform creates the channel out-of-band
// some time after the incident triggers, so the notifier polls: for
// each active demo without a known channel it searches chat, claims a
// marker, attaches the channel, and pulls the responders in.
type ChannelNotifier struct {
	Demos           DemoLister
	Chat            ChannelFinder
	Markers         ChannelMarkers
	Recent          RecentChannelLister
	Lookback        time.Duration
	ObserverSlackID string
	Now             func() time.Time
	Log             *slog.Logger
}

func (n *ChannelNotifier) logger() *slog.Logger {
	if n.Log == nil {
		return slog.Default()
	}
	return n.Log
}

func (n *ChannelNotifier) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

// RunOnce performs a single notification sweep and returns how many
// channels were newly attached. Chat failures on one demo are logged
// and do not stop the sweep.
func (n *ChannelNotifier) RunOnce(ctx context.Context) (int, error) {
	if n.Demos == nil || n.Chat == nil {
		return 0, errors.New("demos and chat required")
	}
	active, err := n.Demos.Status(ctx)
	if err != nil {
		return 0, err
	}
	recent, haveRecent := n.recentChannels(ctx)
	attached := 0
	for _, st := range active {
		if st.SlackChannelID != "" {
			continue
		}
		channelID, err := n.channelFor(ctx, st.IncidentID, recent, haveRecent)
		if err != nil {
			n.logger().Error("channel lookup failed", "incident_id", st.IncidentID, "error", err)
			continue
		}
		if channelID == "" {
			continue
		}
		if n.Markers != nil {
			claimed, err := n.Markers.MarkChannelNotified(ctx, channelID, st.IncidentID, st.ExpiresAt)
			if err != nil {
				return attached, err
			}
			if !claimed {
				// Another run already handled this channel; still
				// record it on the demo so callbacks can post there.
				if err := n.Demos.AttachChannel(ctx, st.IncidentID, channelID); err != nil {
					return attached, err
				}
				continue
			}
		}
		if err := n.Demos.AttachChannel(ctx, st.IncidentID, channelID); err != nil {
			return attached, err
		}
		n.notify(ctx, st, channelID)
		attached++
	}
	return attached, nil
}

// recentChannels fetches the lookback window once per sweep. A list
// failure is logged and the sweep falls back to per-demo search.
func (n *ChannelNotifier) recentChannels(ctx context.Context) ([]slack.Channel, bool) {
	if n.Recent == nil || n.Lookback <= 0 {
		return nil, false
	}
	channels, err := n.Recent.ListChannelsCreatedSince(ctx, n.now().Add(-n.Lookback))
	if err != nil {
		n.logger().Error("recent channel scan failed", "error", err)
		return nil, false
	}
	return channels, true
}

func (n *ChannelNotifier) channelFor(ctx context.Context, incidentID string, recent []slack.Channel, haveRecent bool) (string, error) {
	if haveRecent {
		needle := strings.ToLower(incidentID)
		for _, ch := range recent {
			if strings.Contains(strings.ToLower(ch.Name), needle) {
				return ch.ID, nil
			}
		}
		return "", nil
	}
	return n.Chat.FindChannelByIncident(ctx, incidentID)
}

func (n *ChannelNotifier) notify(ctx context.Context, st demo.State, channelID string) {
	intro := fmt.Sprintf("Demo incident %s (%s) is running. Responders are on their way.",
		st.IncidentID, st.ScenarioName)
	if err := n.Chat.PostMessage(ctx, channelID, intro); err != nil {
		n.logger().Error("intro post failed", "incident_id", st.IncidentID, "error", err)
	}
	var slackIDs []string
	for _, r := range st.Responders {
		if r.SlackID != "" {
			slackIDs = append(slackIDs, r.SlackID)
		}
	}
	if len(slackIDs) > 0 {
		if err := n.Chat.InviteUsers(ctx, channelID, slackIDs); err != nil {
			n.logger().Error("responder invite failed", "incident_id", st.IncidentID, "error", err)
		}
	}
	if n.ObserverSlackID != "" {
		text := fmt.Sprintf("Incident channel for %s is live: <#%s>", st.IncidentID, channelID)
		if err := n.Chat.SendDirectMessage(ctx, n.ObserverSlackID, text); err != nil {
			n.logger().Error("observer dm failed", "incident_id", st.IncidentID, "error", err)
		}
	}
}
