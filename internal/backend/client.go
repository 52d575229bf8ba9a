// Package backend is the client for the playlist backend, which owns the
// user's session and hands out playback tokens.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"playsync/internal/core"
)

// SessionCookieName is the cookie the backend authenticates requests with.
const SessionCookieName = "playlistpolisher_session"

type Client struct {
	client *resty.Client
	logger *zap.Logger
}

type playlistSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URI         string `json:"uri"`
	ExternalURL string `json:"external_url"`
}

type errorBody struct {
	Detail string `json:"detail"`
}

func NewClient(config *core.BackendConfig, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout)
	if config.SessionCookie != "" {
		client.SetCookie(&http.Cookie{Name: SessionCookieName, Value: config.SessionCookie})
	}

	return &Client{
		client: client,
		logger: logger,
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	resp, err := c.client.R().SetContext(ctx).Get(path)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %w", core.ErrNetwork, path, err)
	}
	if err := checkResponse(resp); err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	return nil
}

func checkResponse(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	apiErr := &core.APIError{Status: resp.StatusCode()}
	var body errorBody
	if json.Unmarshal(resp.Body(), &body) == nil {
		apiErr.Message = body.Detail
	}
	return apiErr
}

// PlaybackToken fetches a short-lived access token for the embedded player.
func (c *Client) PlaybackToken(ctx context.Context) (*core.TokenGrant, error) {
	var grant core.TokenGrant
	if err := c.get(ctx, "/auth/player-token", &grant); err != nil {
		return nil, fmt.Errorf("failed to fetch playback token: %w", err)
	}
	return &grant, nil
}

// PlaylistSummary fetches display metadata without the playlist's tracks.
func (c *Client) PlaylistSummary(ctx context.Context, playlistID string) (*core.ContextPlaylist, error) {
	var summary playlistSummary
	path := "/playlists/" + url.PathEscape(playlistID) + "/summary"
	if err := c.get(ctx, path, &summary); err != nil {
		return nil, fmt.Errorf("failed to fetch playlist summary %s: %w", playlistID, err)
	}

	return &core.ContextPlaylist{
		ID:          summary.ID,
		Name:        summary.Name,
		URI:         summary.URI,
		ExternalURL: summary.ExternalURL,
	}, nil
}

// LogEvent records a playback event in the backend's audit log.
func (c *Client) LogEvent(ctx context.Context, event *core.PlaybackEvent) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(event).
		Post("/player/events")
	if err != nil {
		return fmt.Errorf("%w: POST /player/events: %w", core.ErrNetwork, err)
	}
	if err := checkResponse(resp); err != nil {
		return fmt.Errorf("failed to log playback event %s: %w", event.Event, err)
	}

	c.logger.Debug("Logged playback event", zap.String("event", event.Event))
	return nil
}
