package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"playsync/internal/core"
)

type recordingListener struct {
	mu     sync.Mutex
	tracks []string
	remote []bool
}

func (l *recordingListener) TrackChanged(track *core.NormalizedTrack, remote bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracks = append(l.tracks, track.ID)
	l.remote = append(l.remote, remote)
}

func (l *recordingListener) seen() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.tracks...)
}

func intPtr(i int) *int { return &i }

func TestReconciler_ApplyLocal(t *testing.T) {
	h := newHarness(t)
	listener := &recordingListener{}
	h.reconciler.AddTrackListener(listener)

	track := &core.NormalizedTrack{ID: "t1", URI: "spotify:track:t1", Name: "Song", DurationMs: 180000}
	h.reconciler.ApplyLocal(h.session, &core.LocalSnapshot{
		Paused:     false,
		PositionMs: 1234,
		DurationMs: 180000,
		Track:      track,
	})

	st := h.reconciler.State()
	if !st.IsActive || st.IsPaused || st.Position != 1234 || st.Duration != 180000 {
		t.Errorf("state = %+v", st)
	}
	if st.CurrentTrack == nil || st.CurrentTrack.ID != "t1" {
		t.Fatalf("CurrentTrack = %+v, want t1", st.CurrentTrack)
	}

	h.reconciler.ApplyLocal(h.session, &core.LocalSnapshot{PositionMs: 2000, Track: track})
	if got := listener.seen(); len(got) != 1 || got[0] != "t1" {
		t.Errorf("listener saw %v, want a single t1 switch", got)
	}
}

func TestReconciler_GuardsRelinkedTrack(t *testing.T) {
	h := newHarness(t)
	listener := &recordingListener{}
	h.reconciler.AddTrackListener(listener)

	original := &core.NormalizedTrack{ID: "a", URI: "spotify:track:a", Name: "Song", AlbumName: "Album",
		AlbumArt: "https://img/a.jpg"}
	relinked := &core.NormalizedTrack{ID: "b", URI: "spotify:track:b", LinkedFromID: "a", Name: "Song",
		AlbumName: "Album"}

	h.reconciler.ApplyLocal(h.session, &core.LocalSnapshot{PositionMs: 28000, Track: original})
	h.reconciler.ApplyLocal(h.session, &core.LocalSnapshot{PositionMs: 30000, Track: relinked})

	st := h.reconciler.State()
	if st.CurrentTrack.ID != "a" || st.CurrentTrack.AlbumArt == "" {
		t.Errorf("CurrentTrack = %+v, want the original with its art", st.CurrentTrack)
	}
	if got := listener.seen(); len(got) != 1 {
		t.Errorf("listener saw %v, want only the first switch", got)
	}

	// repeat-one restart after real progress is a genuine switch
	h.reconciler.ApplyLocal(h.session, &core.LocalSnapshot{PositionMs: 120000, Track: original})
	h.reconciler.ApplyLocal(h.session, &core.LocalSnapshot{PositionMs: 500, Track: relinked})

	if got := h.reconciler.State().CurrentTrack.ID; got != "b" {
		t.Errorf("CurrentTrack = %q after restart, want b", got)
	}
}

func TestReconciler_RequestedTrackWins(t *testing.T) {
	h := newHarness(t)

	requested := &core.NormalizedTrack{ID: "req", URI: "spotify:track:req", Name: "Song",
		Artists: []string{"Artist"}, PlaylistIndex: intPtr(4)}
	h.reconciler.RememberRequestedTrack(h.session, requested)

	variant := &core.NormalizedTrack{ID: "other", URI: "spotify:track:other", Name: "Song",
		Artists: []string{"Artist"}}
	h.reconciler.ApplyRemote(h.session, &core.RemoteSnapshot{
		Device:    &core.RemoteDevice{ID: "dev-1", IsActive: true},
		IsPlaying: true,
		Track:     variant,
	})

	cur := h.reconciler.State().CurrentTrack
	if cur == nil || cur.ID != "req" || cur.PlaylistIndex == nil || *cur.PlaylistIndex != 4 {
		t.Errorf("CurrentTrack = %+v, want the requested track", cur)
	}
}

func TestReconciler_ApplyRemote(t *testing.T) {
	h := newHarness(t)
	h.ready("dev-1")
	h.reconciler.SetError(h.session, "stale")

	h.reconciler.ApplyRemote(h.session, &core.RemoteSnapshot{
		Device:       &core.RemoteDevice{ID: "phone", Name: "Phone", IsActive: true, VolumePercent: intPtr(0)},
		IsPlaying:    true,
		ProgressMs:   5000,
		ShuffleState: true,
		RepeatState:  core.RepeatContext,
		Track:        &core.NormalizedTrack{ID: "t1", URI: "spotify:track:t1", DurationMs: 200000},
	})

	st := h.reconciler.State()
	switch {
	case !st.RemoteActive:
		t.Error("another active device should make remote authoritative")
	case st.ActiveDeviceName != "Phone":
		t.Errorf("ActiveDeviceName = %q", st.ActiveDeviceName)
	case st.Volume != 0 || !st.IsMuted:
		t.Errorf("volume=%v muted=%v, want muted", st.Volume, st.IsMuted)
	case !st.ShuffleState || st.RepeatState != core.RepeatContext:
		t.Errorf("shuffle=%v repeat=%q", st.ShuffleState, st.RepeatState)
	case st.IsPaused || st.Position != 5000 || st.Duration != 200000:
		t.Errorf("paused=%v position=%d duration=%d", st.IsPaused, st.Position, st.Duration)
	case st.Error != "":
		t.Errorf("successful poll should clear the error, got %q", st.Error)
	}

	h.reconciler.ApplyRemote(h.session, &core.RemoteSnapshot{
		Device:    &core.RemoteDevice{ID: "dev-1", Name: "Playlist Polisher Player", IsActive: true},
		IsPlaying: true,
		Track:     &core.NormalizedTrack{ID: "t1", URI: "spotify:track:t1"},
	})
	if h.reconciler.State().RemoteActive {
		t.Error("local device being active must not count as remote")
	}

	h.reconciler.ApplyRemote(h.session, &core.RemoteSnapshot{NoActivePlayback: true})
	st = h.reconciler.State()
	if st.RemoteActive || st.IsActive || !st.IsPaused || st.ActiveDeviceName != "" {
		t.Errorf("no active playback: %+v", st)
	}
	if st.CurrentTrack == nil || st.CurrentTrack.ID != "t1" {
		t.Errorf("CurrentTrack = %+v, want the last known t1 kept", st.CurrentTrack)
	}

	h.reconciler.ApplyRemote(h.session, &core.RemoteSnapshot{
		Device: &core.RemoteDevice{ID: "dev-1", IsActive: true},
	})
	if st := h.reconciler.State(); st.CurrentTrack != nil {
		t.Errorf("payload without item should clear the track, got %+v", st.CurrentTrack)
	}
}

func TestReconciler_ResetClearsTrackCache(t *testing.T) {
	h := newHarness(t)

	h.reconciler.ApplyRemote(h.session, &core.RemoteSnapshot{
		IsPlaying: true,
		Track:     &core.NormalizedTrack{ID: "t1", Name: "Song", Artists: []string{"A", "B"}},
	})
	if h.reconciler.cache.Len() != 1 {
		t.Fatalf("cache len = %d, want 1", h.reconciler.cache.Len())
	}

	h.session.end("")
	h.reconciler.Reset(h.session, "")
	if n := h.reconciler.cache.Len(); n != 0 {
		t.Errorf("cache len after reset = %d, want 0", n)
	}
}

func TestReconciler_SessionGating(t *testing.T) {
	h := newHarness(t)
	old := h.session

	h.session.end("logout")
	h.reconciler.Reset(old, "")

	h.reconciler.ApplyLocal(old, &core.LocalSnapshot{
		PositionMs: 1000,
		Track:      &core.NormalizedTrack{ID: "late", URI: "spotify:track:late"},
	})
	h.reconciler.SetError(old, "late error")
	h.reconciler.SetDeviceReady(old, "dev-1")

	st := h.reconciler.State()
	if st.CurrentTrack != nil || st.Error != "" || st.IsReady {
		t.Errorf("late writes landed after teardown: %+v", st)
	}

	next := newSession(context.Background())
	defer next.end("")
	h.reconciler.Begin(next)

	h.reconciler.Reset(old, "stale reset")
	h.reconciler.SetDeviceReady(next, "dev-2")
	h.reconciler.SetError(old, "stale")

	st = h.reconciler.State()
	if !st.IsReady || st.DeviceID != "dev-2" || st.Error != "" {
		t.Errorf("old session interfered with the new one: %+v", st)
	}
}

func TestReconciler_ResolvesPlaylistContext(t *testing.T) {
	cfg := testPlayerConfig()
	playlists := &fakePlaylists{name: "Road Trip"}
	resolver := NewContextResolver(playlists, zap.NewNop())
	r := NewReconciler(cfg, nil, nil, resolver, nil, nil, zap.NewNop())

	sess := newSession(context.Background())
	defer sess.end("")
	r.Begin(sess)

	r.ApplyLocal(sess, &core.LocalSnapshot{ContextURI: "spotify:playlist:p1"})
	waitFor(t, func() bool {
		p := r.State().ContextPlaylist
		return p != nil && p.Name == "Road Trip"
	})
	if id := r.State().ContextPlaylist.ID; id != "p1" {
		t.Errorf("ContextPlaylist.ID = %q, want p1", id)
	}

	r.ApplyLocal(sess, &core.LocalSnapshot{ContextURI: "spotify:playlist:p1"})
	if got := playlists.callCount(); got != 1 {
		t.Errorf("resolved playlist was looked up %d times", got)
	}

	r.ApplyLocal(sess, &core.LocalSnapshot{ContextURI: "spotify:album:al1"})
	st := r.State()
	if st.ContextPlaylist != nil || st.ContextURI != "spotify:album:al1" {
		t.Errorf("album context should drop the playlist: %+v", st)
	}
}

func TestReconciler_Subscribe(t *testing.T) {
	h := newHarness(t)

	ch, cancel := h.reconciler.Subscribe()
	defer cancel()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("subscriber should receive the current state")
	}

	h.reconciler.SetError(h.session, "one")
	h.reconciler.SetError(h.session, "two")

	select {
	case st := <-ch:
		if st.Error != "two" {
			t.Errorf("slow subscriber got %q, want the newest state", st.Error)
		}
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
}

func TestReconciler_SubscribeSeesLatestWrite(t *testing.T) {
	h := newHarness(t)

	ch, cancel := h.reconciler.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			h.reconciler.SetVolume(h.session, float64(v)/100)
		}(i)
	}
	wg.Wait()

	want := h.reconciler.State().Volume
	select {
	case st := <-ch:
		if st.Volume != want {
			t.Errorf("subscriber holds volume %v, canonical state has %v", st.Volume, want)
		}
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
}

func TestReconciler_PollsSwallowErrors(t *testing.T) {
	h := newHarness(t)
	h.remote.playbackErr = errors.New("timeout")
	h.reconciler.SetError(h.session, "keep")

	h.reconciler.pollRemote(context.Background(), h.session)

	if got := h.reconciler.State().Error; got != "keep" {
		t.Errorf("failed poll changed state: error = %q", got)
	}

	// local polls only run once the device is ready
	h.player.state = &core.LocalSnapshot{PositionMs: 999}
	h.reconciler.pollLocal(context.Background(), h.session)
	if h.reconciler.State().Position == 999 {
		t.Error("local poll ran before the device was ready")
	}
	h.ready("dev-1")
	h.reconciler.pollLocal(context.Background(), h.session)
	if h.reconciler.State().Position != 999 {
		t.Error("local poll did not apply once ready")
	}
}
