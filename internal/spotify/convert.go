package spotify

import (
	"playsync/internal/core"
)

type apiImage struct {
	URL string `json:"url"`
}

type apiArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type apiAlbum struct {
	Name                 string     `json:"name"`
	AlbumType            string     `json:"album_type"`
	ReleaseDate          string     `json:"release_date"`
	ReleaseDatePrecision string     `json:"release_date_precision"`
	TotalTracks          int        `json:"total_tracks"`
	Images               []apiImage `json:"images"`
}

type apiLink struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

type apiTrack struct {
	ID         string      `json:"id"`
	URI        string      `json:"uri"`
	Type       string      `json:"type"`
	Name       string      `json:"name"`
	DurationMs int         `json:"duration_ms"`
	Explicit   bool        `json:"explicit"`
	Popularity int         `json:"popularity"`
	Artists    []apiArtist `json:"artists"`
	Album      apiAlbum    `json:"album"`
	LinkedFrom *apiLink    `json:"linked_from"`
}

type apiDevice struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"is_active"`
	VolumePercent *int   `json:"volume_percent"`
}

type apiContext struct {
	URI string `json:"uri"`
}

type apiPlayerState struct {
	Device       *apiDevice  `json:"device"`
	IsPlaying    bool        `json:"is_playing"`
	ProgressMs   int         `json:"progress_ms"`
	ShuffleState bool        `json:"shuffle_state"`
	RepeatState  string      `json:"repeat_state"`
	Context      *apiContext `json:"context"`
	Item         *apiTrack   `json:"item"`
}

type apiQueue struct {
	CurrentlyPlaying *apiTrack  `json:"currently_playing"`
	Queue            []apiTrack `json:"queue"`
}

type apiErrorBody struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// convertTrack maps a Web API track onto a NormalizedTrack. Episodes and
// payloads without identity yield nil.
func convertTrack(t *apiTrack) *core.NormalizedTrack {
	if t == nil || (t.ID == "" && t.URI == "") {
		return nil
	}
	if t.Type != "" && t.Type != "track" {
		return nil
	}

	id := t.ID
	if id == "" {
		id = core.IDFromURI(t.URI)
	}

	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}

	track := &core.NormalizedTrack{
		ID:                    id,
		URI:                   t.URI,
		Name:                  t.Name,
		Artists:               core.UniqueArtists(names),
		AlbumName:             t.Album.Name,
		AlbumReleaseDate:      t.Album.ReleaseDate,
		AlbumReleasePrecision: t.Album.ReleaseDatePrecision,
		AlbumTotalTracks:      t.Album.TotalTracks,
		AlbumType:             t.Album.AlbumType,
		Explicit:              t.Explicit,
		DurationMs:            t.DurationMs,
		Popularity:            t.Popularity,
	}
	if len(t.Album.Images) > 0 {
		track.AlbumArt = t.Album.Images[0].URL
	}
	if l := t.LinkedFrom; l != nil {
		track.LinkedFromID = l.ID
		track.LinkedFromURI = l.URI
		if track.LinkedFromID == "" && l.URI != "" {
			track.LinkedFromID = core.IDFromURI(l.URI)
		}
	}
	return track
}

func convertPlayerState(s *apiPlayerState) *core.RemoteSnapshot {
	snap := &core.RemoteSnapshot{
		IsPlaying:    s.IsPlaying,
		ProgressMs:   s.ProgressMs,
		ShuffleState: s.ShuffleState,
		Track:        convertTrack(s.Item),
	}
	if mode, err := core.ParseRepeatMode(s.RepeatState); err == nil {
		snap.RepeatState = mode
	}
	if s.Context != nil {
		snap.ContextURI = s.Context.URI
	}
	if d := s.Device; d != nil {
		snap.Device = &core.RemoteDevice{
			ID:            d.ID,
			Name:          d.Name,
			Type:          d.Type,
			IsActive:      d.IsActive,
			VolumePercent: d.VolumePercent,
		}
	}
	return snap
}
