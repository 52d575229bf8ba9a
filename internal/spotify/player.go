package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"playsync/internal/core"
)

// PlayerAPI talks to the Web API player endpoints on behalf of the user
// whose playback token the TokenSource hands out.
type PlayerAPI struct {
	client *resty.Client
	tokens core.TokenSource
	logger *zap.Logger
}

func NewPlayerAPI(config *core.SpotifyConfig, tokens core.TokenSource, logger *zap.Logger) *PlayerAPI {
	return &PlayerAPI{
		client: resty.New().
			SetBaseURL(config.APIBaseURL).
			SetTimeout(config.Timeout),
		tokens: tokens,
		logger: logger,
	}
}

type transferBody struct {
	DeviceIDs []string `json:"device_ids"`
	Play      bool     `json:"play"`
}

type playOffset struct {
	Position *int  `json:"position,omitempty"`
	URI      string `json:"uri,omitempty"`
}

type playBody struct {
	ContextURI string      `json:"context_uri,omitempty"`
	URIs       []string    `json:"uris,omitempty"`
	Offset     *playOffset `json:"offset,omitempty"`
	PositionMs int         `json:"position_ms,omitempty"`
}

func (p *PlayerAPI) request(ctx context.Context) (*resty.Request, error) {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	return p.client.R().SetContext(ctx).SetAuthToken(token), nil
}

// do executes a request and turns non-success responses into *core.APIError.
func (p *PlayerAPI) do(ctx context.Context, method, path string, query map[string]string,
	body any,
) (*resty.Response, error) {
	req, err := p.request(ctx)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", core.ErrNetwork, method, path, err)
	}

	if !resp.IsSuccess() {
		apiErr := &core.APIError{Status: resp.StatusCode()}
		var parsed apiErrorBody
		if json.Unmarshal(resp.Body(), &parsed) == nil {
			apiErr.Message = parsed.Error.Message
		}
		p.logger.Debug("Player API request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", apiErr.Status),
			zap.String("message", apiErr.Message))
		return nil, apiErr
	}

	return resp, nil
}

func deviceQuery(deviceID string) map[string]string {
	if deviceID == "" {
		return nil
	}
	return map[string]string{"device_id": deviceID}
}

func withDevice(deviceID string, query map[string]string) map[string]string {
	if deviceID != "" {
		query["device_id"] = deviceID
	}
	return query
}

// CurrentPlayback returns the user's playback state. A 204 means nothing is
// playing on any device.
func (p *PlayerAPI) CurrentPlayback(ctx context.Context) (*core.RemoteSnapshot, error) {
	resp, err := p.do(ctx, http.MethodGet, "/me/player", map[string]string{"additional_types": "track"}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get playback state: %w", err)
	}

	if resp.StatusCode() == http.StatusNoContent || len(resp.Body()) == 0 {
		return &core.RemoteSnapshot{NoActivePlayback: true}, nil
	}

	var state apiPlayerState
	if err := json.Unmarshal(resp.Body(), &state); err != nil {
		return nil, fmt.Errorf("failed to parse playback state: %w", err)
	}
	return convertPlayerState(&state), nil
}

func (p *PlayerAPI) TransferPlayback(ctx context.Context, deviceID string, play bool) error {
	_, err := p.do(ctx, http.MethodPut, "/me/player", nil, transferBody{
		DeviceIDs: []string{deviceID},
		Play:      play,
	})
	if err != nil {
		return fmt.Errorf("failed to transfer playback: %w", err)
	}
	return nil
}

// Play starts a context at an offset, or an explicit list of tracks.
func (p *PlayerAPI) Play(ctx context.Context, deviceID string, req *core.PlayRequest) error {
	body := playBody{
		ContextURI: req.ContextURI,
		URIs:       req.URIs,
		PositionMs: req.PositionMs,
	}
	switch {
	case req.OffsetURI != "":
		body.Offset = &playOffset{URI: req.OffsetURI}
	case req.OffsetIndex != nil:
		body.Offset = &playOffset{Position: req.OffsetIndex}
	}

	if _, err := p.do(ctx, http.MethodPut, "/me/player/play", deviceQuery(deviceID), body); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}
	p.logger.Debug("Started playback",
		zap.String("device_id", deviceID),
		zap.String("context_uri", req.ContextURI),
		zap.Int("uris", len(req.URIs)))
	return nil
}

func (p *PlayerAPI) Pause(ctx context.Context, deviceID string) error {
	if _, err := p.do(ctx, http.MethodPut, "/me/player/pause", deviceQuery(deviceID), nil); err != nil {
		return fmt.Errorf("failed to pause: %w", err)
	}
	return nil
}

func (p *PlayerAPI) Resume(ctx context.Context, deviceID string) error {
	if _, err := p.do(ctx, http.MethodPut, "/me/player/play", deviceQuery(deviceID), nil); err != nil {
		return fmt.Errorf("failed to resume: %w", err)
	}
	return nil
}

func (p *PlayerAPI) Next(ctx context.Context, deviceID string) error {
	if _, err := p.do(ctx, http.MethodPost, "/me/player/next", deviceQuery(deviceID), nil); err != nil {
		return fmt.Errorf("failed to skip to next: %w", err)
	}
	return nil
}

func (p *PlayerAPI) Previous(ctx context.Context, deviceID string) error {
	if _, err := p.do(ctx, http.MethodPost, "/me/player/previous", deviceQuery(deviceID), nil); err != nil {
		return fmt.Errorf("failed to skip to previous: %w", err)
	}
	return nil
}

func (p *PlayerAPI) Seek(ctx context.Context, deviceID string, positionMs int) error {
	query := withDevice(deviceID, map[string]string{"position_ms": strconv.Itoa(positionMs)})
	if _, err := p.do(ctx, http.MethodPut, "/me/player/seek", query, nil); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	return nil
}

func (p *PlayerAPI) SetVolume(ctx context.Context, deviceID string, percent int) error {
	query := withDevice(deviceID, map[string]string{"volume_percent": strconv.Itoa(percent)})
	if _, err := p.do(ctx, http.MethodPut, "/me/player/volume", query, nil); err != nil {
		return fmt.Errorf("failed to set volume to %d: %w", percent, err)
	}
	return nil
}

func (p *PlayerAPI) SetShuffle(ctx context.Context, deviceID string, shuffle bool) error {
	query := withDevice(deviceID, map[string]string{"state": strconv.FormatBool(shuffle)})
	if _, err := p.do(ctx, http.MethodPut, "/me/player/shuffle", query, nil); err != nil {
		return fmt.Errorf("failed to set shuffle to %t: %w", shuffle, err)
	}

	p.logger.Debug("Set Spotify shuffle",
		zap.Bool("shuffle", shuffle))
	return nil
}

func (p *PlayerAPI) SetRepeat(ctx context.Context, deviceID string, mode core.RepeatMode) error {
	query := withDevice(deviceID, map[string]string{"state": string(mode)})
	if _, err := p.do(ctx, http.MethodPut, "/me/player/repeat", query, nil); err != nil {
		return fmt.Errorf("failed to set repeat to %s: %w", mode, err)
	}

	p.logger.Debug("Set Spotify repeat",
		zap.String("state", string(mode)))
	return nil
}

// Queue returns up to limit upcoming tracks. Episodes are skipped.
func (p *PlayerAPI) Queue(ctx context.Context, limit int) ([]core.NormalizedTrack, error) {
	resp, err := p.do(ctx, http.MethodGet, "/me/player/queue", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue: %w", err)
	}

	var queue apiQueue
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &queue); err != nil {
			return nil, fmt.Errorf("failed to parse queue: %w", err)
		}
	}

	tracks := make([]core.NormalizedTrack, 0, min(limit, len(queue.Queue)))
	for i := range queue.Queue {
		if len(tracks) >= limit {
			break
		}
		if track := convertTrack(&queue.Queue[i]); track != nil {
			tracks = append(tracks, *track)
		}
	}
	return tracks, nil
}
