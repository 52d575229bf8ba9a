package core

import (
	"strings"
)

// SDKImage is an image reference in an embedded player payload.
type SDKImage struct {
	URL    string `json:"url"`
	Height int    `json:"height,omitempty"`
	Width  int    `json:"width,omitempty"`
}

type SDKArtist struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

type SDKAlbum struct {
	Name   string     `json:"name"`
	URI    string     `json:"uri"`
	Images []SDKImage `json:"images"`
}

type SDKLink struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

// SDKTrack is a track as the embedded player reports it.
type SDKTrack struct {
	ID         string      `json:"id"`
	URI        string      `json:"uri"`
	Name       string      `json:"name"`
	DurationMs int         `json:"duration_ms"`
	Artists    []SDKArtist `json:"artists"`
	Album      SDKAlbum    `json:"album"`
	LinkedFrom *SDKLink    `json:"linked_from"`
	IsPlayable *bool       `json:"is_playable,omitempty"`
}

type SDKContext struct {
	URI string `json:"uri"`
}

type SDKTrackWindow struct {
	CurrentTrack *SDKTrack `json:"current_track"`
}

// SDKState is a full embedded player state payload.
type SDKState struct {
	Paused      bool           `json:"paused"`
	Position    int            `json:"position"`
	Duration    int            `json:"duration"`
	Shuffle     bool           `json:"shuffle"`
	RepeatMode  int            `json:"repeat_mode"`
	Context     SDKContext     `json:"context"`
	TrackWindow SDKTrackWindow `json:"track_window"`
}

// NormalizeSDKTrack converts an embedded player track. Returns nil when the
// payload carries no identity.
func NormalizeSDKTrack(track *SDKTrack) *NormalizedTrack {
	if track == nil || (track.ID == "" && track.URI == "") {
		return nil
	}

	id := track.ID
	if id == "" {
		id = IDFromURI(track.URI)
	}

	names := make([]string, 0, len(track.Artists))
	for _, artist := range track.Artists {
		names = append(names, artist.Name)
	}

	normalized := &NormalizedTrack{
		ID:         id,
		URI:        track.URI,
		Name:       track.Name,
		Artists:    UniqueArtists(names),
		AlbumName:  track.Album.Name,
		DurationMs: track.DurationMs,
	}
	if len(track.Album.Images) > 0 {
		normalized.AlbumArt = track.Album.Images[0].URL
	}
	if track.LinkedFrom != nil {
		normalized.LinkedFromID = track.LinkedFrom.ID
		normalized.LinkedFromURI = track.LinkedFrom.URI
		if normalized.LinkedFromID == "" && normalized.LinkedFromURI != "" {
			normalized.LinkedFromID = IDFromURI(normalized.LinkedFromURI)
		}
	}

	return normalized
}

// NormalizeSDKState converts an embedded player state. A nil state means the
// embedded player is not the active device.
func NormalizeSDKState(state *SDKState) *LocalSnapshot {
	if state == nil {
		return nil
	}

	snapshot := &LocalSnapshot{
		Paused:     state.Paused,
		PositionMs: state.Position,
		DurationMs: state.Duration,
		Track:      NormalizeSDKTrack(state.TrackWindow.CurrentTrack),
		ContextURI: state.Context.URI,
		Shuffle:    state.Shuffle,
		Repeat:     RepeatModeFromSDK(state.RepeatMode),
	}
	if snapshot.DurationMs == 0 && snapshot.Track != nil {
		snapshot.DurationMs = snapshot.Track.DurationMs
	}
	return snapshot
}

// UniqueArtists drops empty and repeated artist names, keeping first-seen order.
func UniqueArtists(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	unique := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		unique = append(unique, name)
	}
	return unique
}

// IDFromURI returns the last segment of a "spotify:<kind>:<id>" uri.
func IDFromURI(uri string) string {
	if i := strings.LastIndex(uri, ":"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}
