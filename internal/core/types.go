package core

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	// ScopeStreaming is required to play audio in the embedded player
	ScopeStreaming = "streaming"
	// ScopeModifyPlaybackState is required to control playback through the remote API
	ScopeModifyPlaybackState = "user-modify-playback-state"
)

// RequiredPlaybackScopes are the scopes a token must carry for playback control.
var RequiredPlaybackScopes = []string{ScopeStreaming, ScopeModifyPlaybackState}

type RepeatMode string

const (
	// RepeatOff disables repeat
	RepeatOff RepeatMode = "off"
	// RepeatContext repeats the current playlist or album
	RepeatContext RepeatMode = "context"
	// RepeatTrack repeats the current track
	RepeatTrack RepeatMode = "track"
)

// ParseRepeatMode validates a repeat mode string.
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch mode := RepeatMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case RepeatOff, RepeatContext, RepeatTrack:
		return mode, nil
	default:
		return "", fmt.Errorf("invalid repeat mode %q: must be off, context or track", s)
	}
}

// RepeatModeFromSDK maps the embedded player's numeric repeat mode.
func RepeatModeFromSDK(mode int) RepeatMode {
	switch mode {
	case 1:
		return RepeatContext
	case 2:
		return RepeatTrack
	default:
		return RepeatOff
	}
}

// PlaybackToken is a short-lived credential for the embedded player and remote API.
type PlaybackToken struct {
	Value         string
	ExpiresAt     time.Time
	GrantedScopes []string
}

// Valid reports whether the token can still be handed out at now.
func (t *PlaybackToken) Valid(now time.Time) bool {
	return t != nil && t.Value != "" && now.Before(t.ExpiresAt)
}

// HasScopes reports whether every required scope was granted.
func (t *PlaybackToken) HasScopes(required ...string) bool {
	if t == nil {
		return false
	}
	for _, scope := range required {
		if !slices.Contains(t.GrantedScopes, scope) {
			return false
		}
	}
	return true
}

// TokenGrant is what a token provider returns before it is cached.
type TokenGrant struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// Scopes splits the space separated scope list.
func (g *TokenGrant) Scopes() []string {
	return strings.Fields(g.Scope)
}

// NormalizedTrack is the single track shape used throughout the engine,
// whichever source reported it.
type NormalizedTrack struct {
	ID                    string   `json:"id"`
	URI                   string   `json:"uri"`
	LinkedFromID          string   `json:"linked_from_id,omitempty"`
	LinkedFromURI         string   `json:"linked_from_uri,omitempty"`
	Name                  string   `json:"name"`
	Artists               []string `json:"artists"`
	AlbumName             string   `json:"album_name,omitempty"`
	AlbumArt              string   `json:"album_art,omitempty"`
	AlbumReleaseDate      string   `json:"album_release_date,omitempty"`
	AlbumReleasePrecision string   `json:"album_release_date_precision,omitempty"`
	AlbumTotalTracks      int      `json:"album_total_tracks,omitempty"`
	AlbumType             string   `json:"album_type,omitempty"`
	Explicit              bool     `json:"explicit"`
	DurationMs            int      `json:"duration_ms"`
	Popularity            int      `json:"popularity,omitempty"`
	PlaylistIndex         *int     `json:"playlist_index,omitempty"`
	SelectionKey          string   `json:"selection_key,omitempty"`
}

// SameIdentity reports whether both tracks carry the same id or uri.
func (t *NormalizedTrack) SameIdentity(other *NormalizedTrack) bool {
	if t == nil || other == nil {
		return false
	}
	if t.ID != "" && t.ID == other.ID {
		return true
	}
	return t.URI != "" && t.URI == other.URI
}

// LinksTo reports whether t was relinked from other, i.e. its linked-from
// pointer names other's id or uri.
func (t *NormalizedTrack) LinksTo(other *NormalizedTrack) bool {
	if t == nil || other == nil {
		return false
	}
	if t.LinkedFromID != "" && t.LinkedFromID == other.ID {
		return true
	}
	return t.LinkedFromURI != "" && t.LinkedFromURI == other.URI
}

// Clone returns a deep copy.
func (t *NormalizedTrack) Clone() *NormalizedTrack {
	if t == nil {
		return nil
	}
	c := *t
	c.Artists = slices.Clone(t.Artists)
	if t.PlaylistIndex != nil {
		idx := *t.PlaylistIndex
		c.PlaylistIndex = &idx
	}
	return &c
}

// ContextPlaylist is the display metadata of the playlist a track is playing from.
type ContextPlaylist struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URI         string `json:"uri"`
	ExternalURL string `json:"external_url,omitempty"`
}

// PlaybackState is the canonical now-playing view shown to the user.
type PlaybackState struct {
	IsReady          bool             `json:"is_ready"`
	IsActive         bool             `json:"is_active"`
	IsPaused         bool             `json:"is_paused"`
	CurrentTrack     *NormalizedTrack `json:"current_track"`
	Position         int              `json:"position"`
	Duration         int              `json:"duration"`
	Volume           float64          `json:"volume"`
	IsMuted          bool             `json:"is_muted"`
	DeviceID         string           `json:"device_id,omitempty"`
	Error            string           `json:"error,omitempty"`
	IsConnecting     bool             `json:"is_connecting"`
	ShuffleState     bool             `json:"shuffle_state"`
	RepeatState      RepeatMode       `json:"repeat_state"`
	HasPlaybackScope *bool            `json:"has_playback_scope"`
	ContextURI       string           `json:"context_uri,omitempty"`
	ContextPlaylist  *ContextPlaylist `json:"context_playlist"`
	RemoteActive     bool             `json:"remote_active"`
	ActiveDeviceName string           `json:"active_device_name,omitempty"`
}

// DefaultPlaybackState is the state a fresh session starts from.
func DefaultPlaybackState(volume float64) PlaybackState {
	return PlaybackState{
		IsPaused:    true,
		Volume:      volume,
		RepeatState: RepeatOff,
	}
}

// Clone returns a copy that shares no pointers with s.
func (s PlaybackState) Clone() PlaybackState {
	c := s
	c.CurrentTrack = s.CurrentTrack.Clone()
	if s.HasPlaybackScope != nil {
		v := *s.HasPlaybackScope
		c.HasPlaybackScope = &v
	}
	if s.ContextPlaylist != nil {
		p := *s.ContextPlaylist
		c.ContextPlaylist = &p
	}
	return c
}

// PlayRequest is a request to start playback, either of a context (playlist,
// album) at an offset or of an explicit list of track uris.
type PlayRequest struct {
	Track       *NormalizedTrack `json:"track,omitempty"`
	ContextURI  string           `json:"context_uri,omitempty"`
	OffsetIndex *int             `json:"offset_index,omitempty"`
	OffsetURI   string           `json:"offset_uri,omitempty"`
	URIs        []string         `json:"uris,omitempty"`
	PositionMs  int              `json:"position_ms,omitempty"`
	Shuffle     *bool            `json:"shuffle,omitempty"`
	Repeat      RepeatMode       `json:"repeat,omitempty"`
}

// Validate checks that the request names exactly one thing to play.
func (r *PlayRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("play request is nil")
	}
	if r.ContextURI == "" && len(r.URIs) == 0 {
		return fmt.Errorf("play request needs a context uri or track uris")
	}
	if r.ContextURI != "" && len(r.URIs) > 0 {
		return fmt.Errorf("play request cannot carry both a context uri and track uris")
	}
	if r.OffsetIndex != nil && *r.OffsetIndex < 0 {
		return fmt.Errorf("offset index must not be negative, got %d", *r.OffsetIndex)
	}
	if r.PositionMs < 0 {
		return fmt.Errorf("position must not be negative, got %d", r.PositionMs)
	}
	if r.Repeat != "" {
		if _, err := ParseRepeatMode(string(r.Repeat)); err != nil {
			return err
		}
	}
	return nil
}

// StartResult describes the outcome of a playback start.
type StartResult struct {
	Deferred bool     `json:"deferred"`
	Warnings []string `json:"warnings,omitempty"`
}

// RemoteDevice is the active device as reported by the remote API.
type RemoteDevice struct {
	ID            string
	Name          string
	Type          string
	IsActive      bool
	VolumePercent *int
}

// RemoteSnapshot is one remote poll result. NoActivePlayback is set when the
// account has nothing playing anywhere; a nil Track with NoActivePlayback
// unset means a device is active but has no item.
type RemoteSnapshot struct {
	NoActivePlayback bool
	Device           *RemoteDevice
	IsPlaying        bool
	ProgressMs       int
	Track            *NormalizedTrack
	ContextURI       string
	ShuffleState     bool
	RepeatState      RepeatMode
}

// LocalSnapshot is one embedded player state reading.
type LocalSnapshot struct {
	Paused     bool
	PositionMs int
	DurationMs int
	Track      *NormalizedTrack
	ContextURI string
	Shuffle    bool
	Repeat     RepeatMode
}

type PlayerEventType string

const (
	// PlayerEventReady fires when the embedded player registered its device
	PlayerEventReady PlayerEventType = "ready"
	// PlayerEventNotReady fires when the embedded player lost its device
	PlayerEventNotReady PlayerEventType = "not_ready"
	// PlayerEventStateChanged carries a fresh local state
	PlayerEventStateChanged PlayerEventType = "player_state_changed"
	// PlayerEventInitializationError means the embedded player failed to load
	PlayerEventInitializationError PlayerEventType = "initialization_error"
	// PlayerEventAuthenticationError means the token was rejected
	PlayerEventAuthenticationError PlayerEventType = "authentication_error"
	// PlayerEventAccountError means the account is not eligible for playback
	PlayerEventAccountError PlayerEventType = "account_error"
)

// PlayerEvent is a push notification from the embedded player.
type PlayerEvent struct {
	Type     PlayerEventType
	DeviceID string
	State    *LocalSnapshot
	Message  string
}

// PlaybackEvent is an audit record of something the user did.
type PlaybackEvent struct {
	Event      string   `json:"event"`
	TrackID    string   `json:"track_id,omitempty"`
	TrackURI   string   `json:"track_uri,omitempty"`
	TrackName  string   `json:"track_name,omitempty"`
	Artists    []string `json:"artists,omitempty"`
	ContextURI string   `json:"context_uri,omitempty"`
	DeviceName string   `json:"device_name,omitempty"`
	Remote     *bool    `json:"remote,omitempty"`
}

// TokenProvider issues playback tokens.
type TokenProvider interface {
	PlaybackToken(ctx context.Context) (*TokenGrant, error)
}

// TokenSource hands out a valid bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// RemoteController drives playback through the remote control API. An empty
// deviceID targets whichever device is currently active.
type RemoteController interface {
	CurrentPlayback(ctx context.Context) (*RemoteSnapshot, error)
	TransferPlayback(ctx context.Context, deviceID string, play bool) error
	Play(ctx context.Context, deviceID string, req *PlayRequest) error
	Pause(ctx context.Context, deviceID string) error
	Resume(ctx context.Context, deviceID string) error
	Next(ctx context.Context, deviceID string) error
	Previous(ctx context.Context, deviceID string) error
	Seek(ctx context.Context, deviceID string, positionMs int) error
	SetVolume(ctx context.Context, deviceID string, percent int) error
	SetShuffle(ctx context.Context, deviceID string, state bool) error
	SetRepeat(ctx context.Context, deviceID string, mode RepeatMode) error
	Queue(ctx context.Context, limit int) ([]NormalizedTrack, error)
}

// LocalPlayerOptions configures the embedded player on connect.
type LocalPlayerOptions struct {
	Name          string
	InitialVolume float64
	Tokens        TokenSource
}

// LocalPlayer is the embedded playback client.
type LocalPlayer interface {
	SetEventHandler(handler func(PlayerEvent))
	Connect(ctx context.Context, opts LocalPlayerOptions) (bool, error)
	Disconnect()
	CurrentState(ctx context.Context) (*LocalSnapshot, error)
	TogglePlay(ctx context.Context) error
	Resume(ctx context.Context) error
	NextTrack(ctx context.Context) error
	PreviousTrack(ctx context.Context) error
	Seek(ctx context.Context, positionMs int) error
	SetVolume(ctx context.Context, volume float64) error
	ActivateElement(ctx context.Context) error
}

// PlaylistMetadataProvider resolves playlist display metadata.
type PlaylistMetadataProvider interface {
	PlaylistSummary(ctx context.Context, playlistID string) (*ContextPlaylist, error)
}

// AuditSink records playback events. Failures are never surfaced to the user.
type AuditSink interface {
	LogEvent(ctx context.Context, event *PlaybackEvent) error
}

// MetricsRecorder receives engine counters.
type MetricsRecorder interface {
	RecordCommand(command, route, status string)
	RecordPoll(source, status string)
	RecordTrackGuard(outcome string)
	RecordTokenRefresh(status string)
	SetRemoteActive(active bool)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordCommand(string, string, string) {}
func (NopMetrics) RecordPoll(string, string)            {}
func (NopMetrics) RecordTrackGuard(string)              {}
func (NopMetrics) RecordTokenRefresh(string)            {}
func (NopMetrics) SetRemoteActive(bool)                 {}
