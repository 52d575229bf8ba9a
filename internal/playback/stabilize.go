package playback

import (
	"time"

	"playsync/internal/core"
	"playsync/pkg/fuzzy"
)

const (
	// progressResetMs is the position under which an incoming payload counts as a restart
	progressResetMs = 2000
	// progressResetPriorMs is how far into the previous track playback must have been for a restart to count
	progressResetPriorMs = 5000
)

// Outcomes of a track stabilization, also used as metric labels.
const (
	outcomeAccepted  = "accepted"
	outcomeGuarded   = "guarded"
	outcomeRequested = "requested"
)

var titles = fuzzy.NewNormalizer()

// TrackSwitchGuard remembers the last accepted track so that relinked copies
// of the same song can be told apart from genuine switches.
type TrackSwitchGuard struct {
	LastTrackKey   string
	LastName       string
	LastAlbumName  string
	LastSwitchAt   time.Time
	LastProgressMs int
}

// observe records progress on the current track, resetting on a switch.
func (g *TrackSwitchGuard) observe(track *core.NormalizedTrack, progressMs int, switched bool, now time.Time) {
	if track == nil {
		return
	}
	if switched || g.LastTrackKey == "" {
		g.LastTrackKey = trackKey(track)
		g.LastName = track.Name
		g.LastAlbumName = track.AlbumName
		g.LastSwitchAt = now
	}
	g.LastProgressMs = progressMs
}

// RequestedTrackMemo is the track the user explicitly asked to play.
type RequestedTrackMemo struct {
	Track       *core.NormalizedTrack
	RequestedAt time.Time
}

func (m *RequestedTrackMemo) activeAt(now time.Time, ttl time.Duration) bool {
	return m != nil && m.Track != nil && now.Sub(m.RequestedAt) < ttl
}

func trackKey(t *core.NormalizedTrack) string {
	if t == nil {
		return ""
	}
	if t.ID != "" {
		return t.ID
	}
	return t.URI
}

// shouldGuardTrackSwitch reports whether next should be treated as the same
// song as prev even though its identity differs: either one is a relink of
// the other, or both share a title and album. A restart from the beginning
// after meaningful progress is always a genuine switch.
func shouldGuardTrackSwitch(prev, next *core.NormalizedTrack, progressMs int, guard *TrackSwitchGuard) bool {
	if prev == nil || next == nil || prev.SameIdentity(next) {
		return false
	}

	relinked := next.LinksTo(prev) || prev.LinksTo(next)
	lookalike := titles.SameTitle(prev.Name, next.Name) &&
		titles.Key(prev.AlbumName) == titles.Key(next.AlbumName)
	if !relinked && !lookalike {
		return false
	}

	if guard != nil && guard.LastTrackKey == trackKey(prev) &&
		progressMs < progressResetMs && guard.LastProgressMs > progressResetPriorMs {
		return false
	}

	return true
}

// stabilizeTrack picks the track to show for an incoming payload. A recent
// explicit request wins over everything, then the switch guard keeps prev.
func stabilizeTrack(prev, next *core.NormalizedTrack, progressMs int, guard *TrackSwitchGuard,
	memo *RequestedTrackMemo, now time.Time, ttl time.Duration,
) (*core.NormalizedTrack, string) {
	if next == nil {
		return nil, outcomeAccepted
	}

	if memo.activeAt(now, ttl) && sameSong(memo.Track, next) {
		return memo.Track, outcomeRequested
	}

	if shouldGuardTrackSwitch(prev, next, progressMs, guard) {
		return prev, outcomeGuarded
	}

	return next, outcomeAccepted
}

func sameSong(a, b *core.NormalizedTrack) bool {
	if a.SameIdentity(b) {
		return true
	}
	return titles.SameTitle(a.Name, b.Name) && titles.SharesArtist(a.Artists, b.Artists)
}

// mergeTrackStable fills prev with whatever next knows, never erasing a known
// field with an empty one. Tracks with different identities are not merged.
func mergeTrackStable(prev, next *core.NormalizedTrack) *core.NormalizedTrack {
	if prev == nil {
		return next.Clone()
	}
	if next == nil {
		return prev.Clone()
	}
	if !prev.SameIdentity(next) {
		return next.Clone()
	}

	merged := prev.Clone()
	fillString(&merged.ID, next.ID)
	fillString(&merged.URI, next.URI)
	mergeString(&merged.LinkedFromID, next.LinkedFromID)
	mergeString(&merged.LinkedFromURI, next.LinkedFromURI)
	mergeString(&merged.Name, next.Name)
	mergeString(&merged.AlbumName, next.AlbumName)
	mergeString(&merged.AlbumArt, next.AlbumArt)
	mergeString(&merged.AlbumReleaseDate, next.AlbumReleaseDate)
	mergeString(&merged.AlbumReleasePrecision, next.AlbumReleasePrecision)
	mergeString(&merged.AlbumType, next.AlbumType)
	mergeString(&merged.SelectionKey, next.SelectionKey)
	mergeInt(&merged.AlbumTotalTracks, next.AlbumTotalTracks)
	mergeInt(&merged.DurationMs, next.DurationMs)
	mergeInt(&merged.Popularity, next.Popularity)

	// A sparse payload never shortens the artist list.
	if len(prev.Artists) == 0 || len(next.Artists) > len(prev.Artists) {
		merged.Artists = append([]string(nil), next.Artists...)
	}
	if next.PlaylistIndex != nil {
		idx := *next.PlaylistIndex
		merged.PlaylistIndex = &idx
	}
	merged.Explicit = merged.Explicit || next.Explicit

	return merged
}

func mergeString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// fillString only sets identity fields prev didn't have.
func fillString(dst *string, src string) {
	if *dst == "" {
		*dst = src
	}
}

func mergeInt(dst *int, src int) {
	if src > 0 {
		*dst = src
	}
}
