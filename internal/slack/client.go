package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://slack.com/api"

// Client is a minimal Slack Web API client covering the calls the
// orchestrator makes: posting to incident channels, inviting the
// demo cast, and direct-messaging the observer.
type Client struct {
	BaseURL  string
	BotToken string
	Client   *http.Client
}

var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

func NewClient(baseURL, botToken string) *Client {
	return &Client{BaseURL: baseURL, BotToken: botToken, Client: defaultHTTPClient}
}

// Channel is the slice of conversation metadata the orchestrator
// cares about.
type Channel struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Created int64  `json:"created"`
}

type apiResponse struct {
	OK       bool            `json:"ok"`
	Error    string          `json:"error"`
	Channel  json.RawMessage `json:"channel"`
	Channels []Channel       `json:"channels"`
}

func (c *Client) PostMessage(ctx context.Context, channelID, text string) error {
	if channelID == "" {
		return errors.New("channel id required")
	}
	_, err := c.call(ctx, "chat.postMessage", map[string]any{
		"channel": channelID,
		"text":    text,
	})
	return err
}

// InviteUsers adds users to a channel. Users already present are not
// an error; the demo re-invites freely.
func (c *Client) InviteUsers(ctx context.Context, channelID string, userIDs []string) error {
	if channelID == "" || len(userIDs) == 0 {
		return errors.New("channel id and users required")
	}
	_, err := c.call(ctx, "conversations.invite", map[string]any{
		"channel": channelID,
		"users":   strings.Join(userIDs, ","),
	})
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "already_in_channel", "cant_invite_self":
			return nil
		}
	}
	return err
}

// FindChannelByIncident locates the channel the incident platform's
// chat integration created for the incident, by id substring in the
// channel name. Returns "" when no channel matches.
func (c *Client) FindChannelByIncident(ctx context.Context, incidentID string) (string, error) {
	channels, err := c.listChannels(ctx)
	if err != nil {
		return "", err
	}
	needle := strings.ToLower(incidentID)
	for _, ch := range channels {
		if strings.Contains(strings.ToLower(ch.Name), needle) {
			return ch.ID, nil
		}
	}
	return "", nil
}

// ListChannelsCreatedSince returns channels created at or after the
// cutoff, for sweeps that look for fresh incident channels.
func (c *Client) ListChannelsCreatedSince(ctx context.Context, cutoff time.Time) ([]Channel, error) {
	channels, err := c.listChannels(ctx)
	if err != nil {
		return nil, err
	}
	var out []Channel
	for _, ch := range channels {
		if ch.Created >= cutoff.Unix() {
			out = append(out, ch)
		}
	}
	return out, nil
}

// SendDirectMessage opens (or reuses) the DM conversation with the
// user and posts to it.
func (c *Client) SendDirectMessage(ctx context.Context, userID, text string) error {
	if userID == "" {
		return errors.New("user id required")
	}
	resp, err := c.call(ctx, "conversations.open", map[string]any{
		"users": userID,
	})
	if err != nil {
		return err
	}
	var ch Channel
	if err := json.Unmarshal(resp.Channel, &ch); err != nil {
		return err
	}
	if ch.ID == "" {
		return errors.New("conversations.open returned no channel")
	}
	return c.PostMessage(ctx, ch.ID, text)
}

func (c *Client) listChannels(ctx context.Context) ([]Channel, error) {
	base := c.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	query := url.Values{}
	query.Set("exclude_archived", "true")
	query.Set("types", "public_channel")
	query.Set("limit", "200")
	request, err := http.NewRequestWithContext(ctx, http.MethodGet,
		base+"/conversations.list?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.doRequest(request)
	if err != nil {
		return nil, err
	}
	return resp.Channels, nil
}

// APIError is a Slack-level failure: HTTP 200 with ok=false.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

func (c *Client) call(ctx context.Context, method string, args map[string]any) (*apiResponse, error) {
	base := c.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/"+method, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json; charset=utf-8")
	return c.doRequest(request)
}

func (c *Client) doRequest(request *http.Request) (*apiResponse, error) {
	if c.BotToken == "" {
		return nil, errors.New("slack bot token required")
	}
	request.Header.Set("Authorization", "Bearer "+c.BotToken)
	httpClient := c.Client
	if httpClient == nil {
		httpClient = defaultHTTPClient
	}
	resp, err := httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("slack status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	if !parsed.OK {
		method := strings.TrimPrefix(request.URL.Path, "/")
		if i := strings.LastIndex(method, "/"); i >= 0 {
			method = method[i+1:]
		}
		if q := strings.Index(method, "?"); q >= 0 {
			method = method[:q]
		}
		return nil, &APIError{Method: method, Code: parsed.Error}
	}
	return &parsed, nil
}
