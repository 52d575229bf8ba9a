package playback

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"playsync/internal/core"
	"playsync/internal/store"
)

const (
	sourceLocal  = "local"
	sourceRemote = "remote"
)

// TrackListener is told about every genuine track switch.
type TrackListener interface {
	TrackChanged(track *core.NormalizedTrack, remote bool)
}

// Reconciler owns the canonical playback state. Every write is gated on the
// session it was started for, so nothing lands after teardown.
type Reconciler struct {
	player   core.LocalPlayer
	remote   core.RemoteController
	resolver *ContextResolver
	cache    *store.TrackCache
	logger   *zap.Logger
	metrics  core.MetricsRecorder

	initialVolume float64
	requestTTL    time.Duration
	now           func() time.Time

	mu           sync.RWMutex
	session      *Session
	state        core.PlaybackState
	guard        TrackSwitchGuard
	memo         *RequestedTrackMemo
	scopeRevoked bool
	resolving    string
	listeners    []TrackListener

	subMu       sync.Mutex
	subscribers map[int]chan core.PlaybackState
	nextSub     int
}

func NewReconciler(cfg *core.PlayerConfig, player core.LocalPlayer, remote core.RemoteController,
	resolver *ContextResolver, cache *store.TrackCache, metrics core.MetricsRecorder, logger *zap.Logger,
) *Reconciler {
	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	if cache == nil {
		cache = store.NewTrackCache(cfg.TrackCacheSize, store.DefaultFalsePositiveRate)
	}
	return &Reconciler{
		player:        player,
		remote:        remote,
		resolver:      resolver,
		cache:         cache,
		logger:        logger,
		metrics:       metrics,
		initialVolume: cfg.InitialVolume,
		requestTTL:    cfg.RequestedTrackTTL,
		now:           time.Now,
		state:         core.DefaultPlaybackState(cfg.InitialVolume),
		subscribers:   make(map[int]chan core.PlaybackState),
	}
}

// AddTrackListener registers a listener for genuine track switches.
func (r *Reconciler) AddTrackListener(l TrackListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Begin starts tracking state for a new session from defaults.
func (r *Reconciler) Begin(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = sess
	r.resetLocked("")
	r.publish(r.state.Clone())
}

// Reset returns the state to defaults at teardown. Only the session that is
// being torn down may reset.
func (r *Reconciler) Reset(sess *Session, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != sess {
		return
	}
	r.resetLocked(message)
	r.publish(r.state.Clone())
}

func (r *Reconciler) resetLocked(message string) {
	r.state = core.DefaultPlaybackState(r.initialVolume)
	r.state.Error = message
	r.guard = TrackSwitchGuard{}
	r.memo = nil
	r.scopeRevoked = false
	r.resolving = ""
	r.cache.Clear()
}

// Session returns the session state is currently tracked for.
func (r *Reconciler) Session() *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session
}

// State returns a copy of the canonical state.
func (r *Reconciler) State() core.PlaybackState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Clone()
}

// apply runs fn against the state if sess is still the live session.
// Snapshots are published under the lock so subscribers see writes in order.
func (r *Reconciler) apply(sess *Session, fn func(s *core.PlaybackState)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess == nil || sess != r.session || !sess.Valid() {
		return false
	}
	fn(&r.state)
	r.publish(r.state.Clone())
	return true
}

func (r *Reconciler) SetDeviceReady(sess *Session, deviceID string) {
	r.apply(sess, func(s *core.PlaybackState) {
		s.IsReady = true
		s.DeviceID = deviceID
	})
}

func (r *Reconciler) SetDeviceLost(sess *Session) {
	r.apply(sess, func(s *core.PlaybackState) {
		s.IsReady = false
		s.IsActive = false
		s.DeviceID = ""
	})
}

func (r *Reconciler) SetConnecting(sess *Session, connecting bool) {
	r.apply(sess, func(s *core.PlaybackState) {
		s.IsConnecting = connecting
	})
}

func (r *Reconciler) SetError(sess *Session, message string) {
	r.apply(sess, func(s *core.PlaybackState) {
		s.Error = message
	})
}

func (r *Reconciler) ClearError(sess *Session) {
	r.apply(sess, func(s *core.PlaybackState) {
		s.Error = ""
	})
}

// SetPlaybackScope records whether the token carries playback scopes. Once
// revoked by a 403 it stays false until the next session.
func (r *Reconciler) SetPlaybackScope(sess *Session, hasScope bool) {
	r.apply(sess, func(s *core.PlaybackState) {
		if r.scopeRevoked {
			return
		}
		s.HasPlaybackScope = &hasScope
	})
}

// RevokePlaybackScope marks playback control as forbidden for the session.
func (r *Reconciler) RevokePlaybackScope(sess *Session) {
	r.apply(sess, func(s *core.PlaybackState) {
		r.scopeRevoked = true
		revoked := false
		s.HasPlaybackScope = &revoked
	})
}

func (r *Reconciler) SetVolume(sess *Session, volume float64) {
	r.apply(sess, func(s *core.PlaybackState) {
		s.Volume = volume
		s.IsMuted = volume == 0
	})
}

// RememberRequestedTrack records an explicit play request so that the next
// payloads reporting a variant of it keep showing what the user picked.
func (r *Reconciler) RememberRequestedTrack(sess *Session, track *core.NormalizedTrack) {
	if track == nil {
		return
	}
	now := r.now()
	r.apply(sess, func(_ *core.PlaybackState) {
		r.memo = &RequestedTrackMemo{Track: track.Clone(), RequestedAt: now}
	})
}

// ApplyLocal merges an embedded player state reading.
func (r *Reconciler) ApplyLocal(sess *Session, snap *core.LocalSnapshot) {
	if snap == nil {
		return
	}

	now := r.now()
	var switched *core.NormalizedTrack
	var resolveURI string

	r.apply(sess, func(s *core.PlaybackState) {
		s.IsActive = true
		s.IsPaused = snap.Paused
		s.Position = snap.PositionMs
		if snap.DurationMs > 0 {
			s.Duration = snap.DurationMs
		}
		if snap.Track != nil {
			switched = r.acceptTrack(s, snap.Track, snap.PositionMs, now)
		}
		resolveURI = r.applyContext(s, snap.ContextURI)
	})

	r.afterMerge(sess, switched, false, resolveURI)
}

// ApplyRemote merges a remote poll result. Device name, shuffle and repeat
// only ever come from here.
func (r *Reconciler) ApplyRemote(sess *Session, snap *core.RemoteSnapshot) {
	if snap == nil {
		return
	}

	now := r.now()
	var switched *core.NormalizedTrack
	var resolveURI string
	remoteActive := false

	applied := r.apply(sess, func(s *core.PlaybackState) {
		s.Error = ""

		if snap.NoActivePlayback {
			s.RemoteActive = false
			s.ActiveDeviceName = ""
			s.IsActive = false
			s.IsPaused = true
			return
		}

		if dev := snap.Device; dev != nil {
			remoteActive = dev.IsActive && dev.ID != "" && dev.ID != s.DeviceID
			s.ActiveDeviceName = dev.Name
			s.IsActive = dev.IsActive
			if dev.VolumePercent != nil {
				s.Volume = float64(*dev.VolumePercent) / 100
				s.IsMuted = *dev.VolumePercent == 0
			}
		}
		s.RemoteActive = remoteActive
		s.ShuffleState = snap.ShuffleState
		if snap.RepeatState != "" {
			s.RepeatState = snap.RepeatState
		}
		s.IsPaused = !snap.IsPlaying
		s.Position = snap.ProgressMs

		if snap.Track == nil {
			s.CurrentTrack = nil
			s.Duration = 0
		} else {
			switched = r.acceptTrack(s, snap.Track, snap.ProgressMs, now)
			if snap.Track.DurationMs > 0 {
				s.Duration = snap.Track.DurationMs
			}
		}
		resolveURI = r.applyContext(s, snap.ContextURI)
	})
	if !applied {
		return
	}

	r.metrics.SetRemoteActive(remoteActive)
	r.afterMerge(sess, switched, remoteActive, resolveURI)
}

// acceptTrack stabilizes next against the current track and stores the
// result. Returns the new track on a genuine switch.
func (r *Reconciler) acceptTrack(s *core.PlaybackState, next *core.NormalizedTrack, progressMs int,
	now time.Time,
) *core.NormalizedTrack {
	prev := s.CurrentTrack
	chosen, outcome := stabilizeTrack(prev, next, progressMs, &r.guard, r.memo, now, r.requestTTL)
	if outcome != outcomeAccepted {
		r.metrics.RecordTrackGuard(outcome)
	}

	if prev != nil && prev.SameIdentity(chosen) {
		s.CurrentTrack = mergeTrackStable(prev, chosen)
		r.guard.observe(s.CurrentTrack, progressMs, false, now)
		r.cache.Put(s.CurrentTrack)
		return nil
	}

	merged := chosen.Clone()
	if cached, ok := r.cache.Get(chosen.ID); ok {
		merged = mergeTrackStable(cached, chosen)
	}
	s.CurrentTrack = merged
	r.guard.observe(merged, progressMs, true, now)
	r.cache.Put(merged)

	r.logger.Debug("Track switched",
		zap.String("track_id", merged.ID),
		zap.String("name", merged.Name),
		zap.String("outcome", outcome))

	return merged.Clone()
}

// applyContext updates the context uri and drops a playlist that no longer
// matches it. Returns a uri to resolve, if any.
func (r *Reconciler) applyContext(s *core.PlaybackState, contextURI string) string {
	if contextURI != "" {
		s.ContextURI = contextURI
	}

	playlistID, isPlaylist := PlaylistID(s.ContextURI)
	if s.ContextPlaylist != nil && (!isPlaylist || s.ContextPlaylist.ID != playlistID) {
		s.ContextPlaylist = nil
	}

	if s.ContextPlaylist == nil && isPlaylist && r.resolver != nil && r.resolving != s.ContextURI {
		r.resolving = s.ContextURI
		return s.ContextURI
	}
	return ""
}

func (r *Reconciler) afterMerge(sess *Session, switched *core.NormalizedTrack, remote bool, resolveURI string) {
	if switched != nil {
		r.mu.RLock()
		listeners := append([]TrackListener(nil), r.listeners...)
		r.mu.RUnlock()

		for _, l := range listeners {
			l.TrackChanged(switched, remote)
		}
	}

	if resolveURI != "" {
		go r.resolveContext(sess, resolveURI)
	}
}

func (r *Reconciler) resolveContext(sess *Session, contextURI string) {
	playlist := r.resolver.Resolve(sess.Context(), contextURI)

	r.apply(sess, func(s *core.PlaybackState) {
		if r.resolving == contextURI {
			r.resolving = ""
		}
		if playlist != nil && s.ContextURI == contextURI {
			s.ContextPlaylist = playlist
		}
	})
}

// Subscribe returns a channel carrying the latest state after every change.
// Slow readers only ever see the newest state.
func (r *Reconciler) Subscribe() (<-chan core.PlaybackState, func()) {
	ch := make(chan core.PlaybackState, 1)

	r.mu.RLock()
	defer r.mu.RUnlock()
	ch <- r.state.Clone()

	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subscribers[id] = ch
	r.subMu.Unlock()

	return ch, func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		delete(r.subscribers, id)
	}
}

// publish must be called with r.mu held.
func (r *Reconciler) publish(state core.PlaybackState) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for _, ch := range r.subscribers {
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}

// RunLocalPoll reads the embedded player state every interval while the
// local device is ready.
func (r *Reconciler) RunLocalPoll(ctx context.Context, sess *Session, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.pollLocal(ctx, sess)
		}
	}
}

// RunRemotePoll polls the remote control API every interval, starting immediately.
func (r *Reconciler) RunRemotePoll(ctx context.Context, sess *Session, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.pollRemote(ctx, sess)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.pollRemote(ctx, sess)
		}
	}
}

func (r *Reconciler) pollLocal(ctx context.Context, sess *Session) {
	if r.player == nil || !sess.Valid() || !r.State().IsReady {
		return
	}

	snap, err := r.player.CurrentState(ctx)
	if err != nil {
		r.metrics.RecordPoll(sourceLocal, "error")
		r.logger.Debug("Local state poll failed", zap.Error(err))
		return
	}
	r.metrics.RecordPoll(sourceLocal, "ok")
	r.ApplyLocal(sess, snap)
}

func (r *Reconciler) pollRemote(ctx context.Context, sess *Session) {
	if r.remote == nil || !sess.Valid() {
		return
	}

	snap, err := r.remote.CurrentPlayback(ctx)
	if err != nil {
		r.metrics.RecordPoll(sourceRemote, "error")
		r.logger.Debug("Remote state poll failed", zap.Error(err))
		return
	}
	r.metrics.RecordPoll(sourceRemote, "ok")
	r.ApplyRemote(sess, snap)
}
