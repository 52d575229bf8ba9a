package playback

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestPlaylistID(t *testing.T) {
	tests := []struct {
		uri    string
		want   string
		wantOK bool
	}{
		{"spotify:playlist:37i9dQZF1DX", "37i9dQZF1DX", true},
		{"spotify:user:alice:playlist:abc", "abc", true},
		{"https://open.spotify.com/playlist/abc?si=123", "abc", true},
		{"https://open.spotify.com/intl-de/playlist/abc", "abc", true},
		{"spotify:album:abc", "", false},
		{"spotify:playlist:", "", false},
		{"https://example.com/playlist/abc", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, ok := PlaylistID(tt.uri)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("PlaylistID(%q) = %q, %v, want %q, %v", tt.uri, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestContextResolver_CachesOnlySuccess(t *testing.T) {
	provider := &fakePlaylists{err: errors.New("unavailable")}
	r := NewContextResolver(provider, zap.NewNop())
	ctx := context.Background()

	if got := r.Resolve(ctx, "spotify:playlist:p1"); got != nil {
		t.Fatalf("Resolve() = %+v on failure, want nil", got)
	}

	provider.mu.Lock()
	provider.err = nil
	provider.name = "Focus"
	provider.mu.Unlock()

	got := r.Resolve(ctx, "spotify:playlist:p1")
	if got == nil || got.Name != "Focus" || got.URI != "spotify:playlist:p1" {
		t.Fatalf("Resolve() = %+v, want Focus", got)
	}
	r.Resolve(ctx, "https://open.spotify.com/playlist/p1")

	if calls := provider.callCount(); calls != 2 {
		t.Errorf("provider calls = %d, want 2 (failure retried, success cached)", calls)
	}

	r.Clear()
	r.Resolve(ctx, "spotify:playlist:p1")
	if calls := provider.callCount(); calls != 3 {
		t.Errorf("provider calls = %d after Clear, want 3", calls)
	}
}

func TestContextResolver_SkipsNonPlaylists(t *testing.T) {
	provider := &fakePlaylists{name: "x"}
	r := NewContextResolver(provider, zap.NewNop())

	if got := r.Resolve(context.Background(), "spotify:album:a1"); got != nil {
		t.Errorf("Resolve(album) = %+v, want nil", got)
	}
	if provider.callCount() != 0 {
		t.Error("album contexts must not be looked up")
	}
}
