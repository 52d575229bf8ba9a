package spotify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/zmb3/spotify/v2"
	"go.uber.org/zap"

	"playsync/internal/core"
)

const playlistSummaryFields = "id,name,uri,external_urls"

// PlaylistService looks up playlist display metadata directly from the Web API.
type PlaylistService struct {
	client *spotify.Client
	logger *zap.Logger
}

// NewPlaylistService builds the service on an authorized HTTP client.
// Extra options (e.g. spotify.WithBaseURL) are passed to the API client.
func NewPlaylistService(httpClient *http.Client, logger *zap.Logger, opts ...spotify.ClientOption) *PlaylistService {
	return &PlaylistService{
		client: spotify.New(httpClient, opts...),
		logger: logger,
	}
}

func (s *PlaylistService) PlaylistSummary(ctx context.Context, playlistID string) (*core.ContextPlaylist, error) {
	playlist, err := s.client.GetPlaylist(ctx, spotify.ID(playlistID), spotify.Fields(playlistSummaryFields))
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist %s: %w", playlistID, err)
	}

	summary := &core.ContextPlaylist{
		ID:          playlist.ID.String(),
		Name:        playlist.Name,
		URI:         string(playlist.URI),
		ExternalURL: playlist.ExternalURLs["spotify"],
	}

	s.logger.Debug("Resolved playlist",
		zap.String("playlist_id", summary.ID),
		zap.String("name", summary.Name))
	return summary, nil
}
