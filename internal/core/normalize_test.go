package core

import (
	"reflect"
	"testing"
)

func TestNormalizeSDKTrack(t *testing.T) {
	track := &SDKTrack{
		ID:         "relinked",
		URI:        "spotify:track:relinked",
		Name:       "Song",
		DurationMs: 200000,
		Artists: []SDKArtist{
			{Name: "Alpha"},
			{Name: "Beta"},
			{Name: "Alpha"},
			{Name: " "},
		},
		Album: SDKAlbum{
			Name:   "Album",
			Images: []SDKImage{{URL: "https://img/large"}, {URL: "https://img/small"}},
		},
		LinkedFrom: &SDKLink{URI: "spotify:track:original"},
	}

	got := NormalizeSDKTrack(track)
	if got == nil {
		t.Fatal("NormalizeSDKTrack() returned nil")
	}
	if !reflect.DeepEqual(got.Artists, []string{"Alpha", "Beta"}) {
		t.Errorf("Artists = %v, want deduplicated [Alpha Beta]", got.Artists)
	}
	if got.AlbumArt != "https://img/large" {
		t.Errorf("AlbumArt = %q, want first image", got.AlbumArt)
	}
	if got.LinkedFromID != "original" || got.LinkedFromURI != "spotify:track:original" {
		t.Errorf("linked from = %q/%q", got.LinkedFromID, got.LinkedFromURI)
	}
	if got.PlaylistIndex != nil {
		t.Error("PlaylistIndex should be unknown for embedded player payloads")
	}
}

func TestNormalizeSDKTrack_NoIdentity(t *testing.T) {
	if NormalizeSDKTrack(nil) != nil {
		t.Error("nil track should normalize to nil")
	}
	if NormalizeSDKTrack(&SDKTrack{Name: "orphan"}) != nil {
		t.Error("track without id or uri should normalize to nil")
	}
	got := NormalizeSDKTrack(&SDKTrack{URI: "spotify:track:xyz"})
	if got == nil || got.ID != "xyz" {
		t.Errorf("id should be derived from uri, got %+v", got)
	}
}

func TestNormalizeSDKState(t *testing.T) {
	state := &SDKState{
		Paused:     false,
		Position:   1234,
		RepeatMode: 2,
		Shuffle:    true,
		Context:    SDKContext{URI: "spotify:playlist:p"},
		TrackWindow: SDKTrackWindow{
			CurrentTrack: &SDKTrack{ID: "a", URI: "spotify:track:a", DurationMs: 5000},
		},
	}

	got := NormalizeSDKState(state)
	if got.PositionMs != 1234 || got.Paused {
		t.Errorf("unexpected position/paused: %+v", got)
	}
	if got.DurationMs != 5000 {
		t.Errorf("DurationMs = %d, want fallback to track duration", got.DurationMs)
	}
	if got.Repeat != RepeatTrack {
		t.Errorf("Repeat = %q, want track", got.Repeat)
	}
	if got.ContextURI != "spotify:playlist:p" {
		t.Errorf("ContextURI = %q", got.ContextURI)
	}
	if NormalizeSDKState(nil) != nil {
		t.Error("nil state should normalize to nil")
	}
}
