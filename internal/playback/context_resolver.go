package playback

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"playsync/internal/core"
)

// ContextResolver maps a playback context uri to playlist display metadata.
// Successful lookups are cached for the session; failures are retried on the
// next request.
type ContextResolver struct {
	provider core.PlaylistMetadataProvider
	logger   *zap.Logger

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]core.ContextPlaylist
}

func NewContextResolver(provider core.PlaylistMetadataProvider, logger *zap.Logger) *ContextResolver {
	return &ContextResolver{
		provider: provider,
		logger:   logger,
		cache:    make(map[string]core.ContextPlaylist),
	}
}

// Resolve returns the playlist behind contextURI, or nil when the context is
// not a playlist or the lookup failed.
func (c *ContextResolver) Resolve(ctx context.Context, contextURI string) *core.ContextPlaylist {
	playlistID, ok := PlaylistID(contextURI)
	if !ok || c.provider == nil {
		return nil
	}

	c.mu.RLock()
	cached, hit := c.cache[playlistID]
	c.mu.RUnlock()
	if hit {
		return &cached
	}

	v, err, _ := c.group.Do(playlistID, func() (any, error) {
		return c.provider.PlaylistSummary(ctx, playlistID)
	})
	if err != nil {
		c.logger.Debug("Failed to resolve playback context",
			zap.String("context_uri", contextURI),
			zap.Error(err))
		return nil
	}

	playlist, _ := v.(*core.ContextPlaylist)
	if playlist == nil {
		return nil
	}

	resolved := *playlist
	if resolved.ID == "" {
		resolved.ID = playlistID
	}
	if resolved.URI == "" {
		resolved.URI = "spotify:playlist:" + playlistID
	}

	c.mu.Lock()
	c.cache[playlistID] = resolved
	c.mu.Unlock()

	return &resolved
}

// Clear forgets every resolved playlist.
func (c *ContextResolver) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]core.ContextPlaylist)
}

// PlaylistID extracts the playlist id from "spotify:playlist:<id>",
// "spotify:user:<user>:playlist:<id>" or an open.spotify.com playlist link.
func PlaylistID(contextURI string) (string, bool) {
	if contextURI == "" {
		return "", false
	}

	if strings.HasPrefix(contextURI, "spotify:") {
		parts := strings.Split(contextURI, ":")
		n := len(parts)
		if n >= 3 && parts[n-2] == "playlist" && parts[n-1] != "" {
			return parts[n-1], true
		}
		return "", false
	}

	u, err := url.Parse(contextURI)
	if err != nil || !strings.HasSuffix(u.Host, "spotify.com") {
		return "", false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(segments); i++ {
		if segments[i] == "playlist" && segments[i+1] != "" {
			return segments[i+1], true
		}
	}
	return "", false
}
