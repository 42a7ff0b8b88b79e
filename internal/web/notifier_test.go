package web

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"demopulse/internal/demo"
	"demopulse/internal/slack"
)

type fakeLister struct {
	active   []demo.State
	attached map[string]string
	err      error
}

func (f *fakeLister) Status(ctx context.Context) ([]demo.State, error) {
	return f.active, f.err
}

func (f *fakeLister) AttachChannel(ctx context.Context, incidentID, channelID string) error {
	if f.attached == nil {
		f.attached = map[string]string{}
	}
	f.attached[incidentID] = channelID
	return nil
}

type fakeChatFinder struct {
	channels map[string]string
	posts    []string
	invites  map[string][]string
	dms      map[string][]string
	findErr  error
}

func (f *fakeChatFinder) FindChannelByIncident(ctx context.Context, incidentID string) (string, error) {
	if f.findErr != nil {
		return "", f.findErr
	}
	return f.channels[incidentID], nil
}

func (f *fakeChatFinder) PostMessage(ctx context.Context, channelID, text string) error {
	f.posts = append(f.posts, channelID+": "+text)
	return nil
}

func (f *fakeChatFinder) InviteUsers(ctx context.Context, channelID string, userIDs []string) error {
	if f.invites == nil {
		f.invites = map[string][]string{}
	}
	f.invites[channelID] = append(f.invites[channelID], userIDs...)
	return nil
}

func (f *fakeChatFinder) SendDirectMessage(ctx context.Context, userID, text string) error {
	if f.dms == nil {
		f.dms = map[string][]string{}
	}
	f.dms[userID] = append(f.dms[userID], text)
	return nil
}

type fakeMarkers struct {
	claimed map[string]bool
	taken   map[string]bool
}

func (f *fakeMarkers) MarkChannelNotified(ctx context.Context, channelID, channelName string, expiresAt time.Time) (bool, error) {
	if f.taken[channelID] {
		return false, nil
	}
	if f.claimed == nil {
		f.claimed = map[string]bool{}
	}
	f.claimed[channelID] = true
	return true, nil
}

func activeDemo(incidentID string) demo.State {
	return demo.State{
		IncidentID:   incidentID,
		Lifecycle:    demo.Triggered,
		ScenarioName: "Checkout latency above SLO",
		Responders: []demo.Responder{
			{ID: "PDEMO01", SlackID: "U0DEMO01"},
			{ID: "PDEMO02", SlackID: "U0DEMO02"},
		},
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
}

func TestNotifierAttachesAndInvites(t *testing.T) {
	demos := &fakeLister{active: []demo.State{activeDemo("INC123")}}
	chat := &fakeChatFinder{channels: map[string]string{"INC123": "C100"}}
	markers := &fakeMarkers{}
	n := &ChannelNotifier{Demos: demos, Chat: chat, Markers: markers, ObserverSlackID: "UOBS"}

	attached, err := n.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if attached != 1 {
		t.Fatalf("attached: %d", attached)
	}
	if demos.attached["INC123"] != "C100" {
		t.Fatalf("attach: %v", demos.attached)
	}
	if len(chat.posts) != 1 || !strings.Contains(chat.posts[0], "INC123") {
		t.Fatalf("posts: %v", chat.posts)
	}
	if got := chat.invites["C100"]; len(got) != 2 || got[0] != "U0DEMO01" {
		t.Fatalf("invites: %v", got)
	}
	if len(chat.dms["UOBS"]) != 1 {
		t.Fatalf("dms: %v", chat.dms)
	}
}

func TestNotifierSkipsDemosWithChannel(t *testing.T) {
	st := activeDemo("INC123")
	st.SlackChannelID = "C100"
	demos := &fakeLister{active: []demo.State{st}}
	chat := &fakeChatFinder{channels: map[string]string{"INC123": "C100"}}
	n := &ChannelNotifier{Demos: demos, Chat: chat}

	attached, err := n.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if attached != 0 || len(chat.posts) != 0 {
		t.Fatalf("attached %d posts %v", attached, chat.posts)
	}
}

func TestNotifierChannelNotYetCreated(t *testing.T) {
	demos := &fakeLister{active: []demo.State{activeDemo("INC123")}}
	chat := &fakeChatFinder{}
	n := &ChannelNotifier{Demos: demos, Chat: chat}

	attached, err := n.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if attached != 0 || len(demos.attached) != 0 {
		t.Fatalf("attached %d map %v", attached, demos.attached)
	}
}

func TestNotifierMarkerAlreadyClaimed(t *testing.T) {
	demos := &fakeLister{active: []demo.State{activeDemo("INC123")}}
	chat := &fakeChatFinder{channels: map[string]string{"INC123": "C100"}}
	markers := &fakeMarkers{taken: map[string]bool{"C100": true}}
	n := &ChannelNotifier{Demos: demos, Chat: chat, Markers: markers, ObserverSlackID: "UOBS"}

	attached, err := n.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if attached != 0 {
		t.Fatalf("attached: %d", attached)
	}
	// The channel is still linked so callbacks can post there, but no
	// duplicate announcements go out.
	if demos.attached["INC123"] != "C100" {
		t.Fatalf("attach: %v", demos.attached)
	}
	if len(chat.posts) != 0 || len(chat.dms) != 0 {
		t.Fatalf("posts %v dms %v", chat.posts, chat.dms)
	}
}

type fakeRecentLister struct {
	channels []slack.Channel
	err      error
	cutoff   time.Time
	calls    int
}

func (f *fakeRecentLister) ListChannelsCreatedSince(ctx context.Context, cutoff time.Time) ([]slack.Channel, error) {
	f.calls++
	f.cutoff = cutoff
	return f.channels, f.err
}

func TestNotifierUsesRecentChannelScan(t *testing.T) {
	demos := &fakeLister{active: []demo.State{activeDemo("INC123"), activeDemo("INC456")}}
	chat := &fakeChatFinder{findErr: errors.New("should not be called")}
	recent := &fakeRecentLister{channels: []slack.Channel{
		{ID: "C100", Name: "inc-inc123-checkout"},
		{ID: "C200", Name: "team-platform"},
	}}
	now := time.Unix(10_000, 0)
	n := &ChannelNotifier{
		Demos:    demos,
		Chat:     chat,
		Recent:   recent,
		Lookback: 10 * time.Minute,
		Now:      func() time.Time { return now },
	}

	attached, err := n.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if attached != 1 || demos.attached["INC123"] != "C100" {
		t.Fatalf("attached %d map %v", attached, demos.attached)
	}
	if _, ok := demos.attached["INC456"]; ok {
		t.Fatal("INC456 should have no channel yet")
	}
	if recent.calls != 1 {
		t.Fatalf("list calls: %d", recent.calls)
	}
	if want := now.Add(-10 * time.Minute); !recent.cutoff.Equal(want) {
		t.Fatalf("cutoff: %v", recent.cutoff)
	}
}

func TestNotifierRecentScanFailureFallsBack(t *testing.T) {
	demos := &fakeLister{active: []demo.State{activeDemo("INC123")}}
	chat := &fakeChatFinder{channels: map[string]string{"INC123": "C100"}}
	recent := &fakeRecentLister{err: errors.New("rate limited")}
	n := &ChannelNotifier{Demos: demos, Chat: chat, Recent: recent, Lookback: 10 * time.Minute}

	attached, err := n.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if attached != 1 || demos.attached["INC123"] != "C100" {
		t.Fatalf("attached %d map %v", attached, demos.attached)
	}
}

func TestNotifierLookupFailureContinues(t *testing.T) {
	demos := &fakeLister{active: []demo.State{activeDemo("INC123")}}
	chat := &fakeChatFinder{findErr: errors.New("rate limited")}
	n := &ChannelNotifier{Demos: demos, Chat: chat}

	attached, err := n.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if attached != 0 {
		t.Fatalf("attached: %d", attached)
	}
}
