package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"playsync/internal/core"
	"playsync/internal/i18n"
)

func testPlayerConfig() *core.PlayerConfig {
	cfg := core.DefaultPlayerConfig()
	cfg.DeviceRetryDelay = time.Millisecond
	cfg.PlaybackVerifyDelay = time.Millisecond
	cfg.LocalPollInterval = 10 * time.Millisecond
	cfg.RemotePollInterval = 10 * time.Millisecond
	cfg.QueuePollInterval = time.Hour
	return &cfg
}

// popErr returns the first queued error, or nil once the queue is empty.
func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

type fakeRemote struct {
	mu sync.Mutex

	playback    *core.RemoteSnapshot
	playbackErr error

	transferErrs []error
	playErrs     []error
	commandErr   error
	shuffleErr   error
	repeatErr    error

	queue    []core.NormalizedTrack
	queueErr error

	transfers   []string
	plays       []*core.PlayRequest
	calls       []string
	volumes     []int
	shuffles    []string
	queueCalls  int
	lastRepeat  core.RepeatMode
	playbackHit int
}

func (f *fakeRemote) CurrentPlayback(_ context.Context) (*core.RemoteSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playbackHit++
	return f.playback, f.playbackErr
}

func (f *fakeRemote) TransferPlayback(_ context.Context, deviceID string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, deviceID)
	return popErr(&f.transferErrs)
}

func (f *fakeRemote) Play(_ context.Context, _ string, req *core.PlayRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, req)
	return popErr(&f.playErrs)
}

func (f *fakeRemote) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.commandErr
}

func (f *fakeRemote) Pause(_ context.Context, _ string) error    { return f.record("pause") }
func (f *fakeRemote) Resume(_ context.Context, _ string) error   { return f.record("resume") }
func (f *fakeRemote) Next(_ context.Context, _ string) error     { return f.record("next") }
func (f *fakeRemote) Previous(_ context.Context, _ string) error { return f.record("previous") }

func (f *fakeRemote) Seek(_ context.Context, _ string, _ int) error {
	return f.record("seek")
}

func (f *fakeRemote) SetVolume(_ context.Context, _ string, percent int) error {
	f.mu.Lock()
	f.volumes = append(f.volumes, percent)
	f.mu.Unlock()
	return f.record("volume")
}

func (f *fakeRemote) SetShuffle(_ context.Context, deviceID string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shuffles = append(f.shuffles, deviceID)
	return f.shuffleErr
}

func (f *fakeRemote) SetRepeat(_ context.Context, _ string, mode core.RepeatMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRepeat = mode
	return f.repeatErr
}

func (f *fakeRemote) Queue(_ context.Context, _ int) ([]core.NormalizedTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queueCalls++
	if f.queueErr != nil {
		return nil, f.queueErr
	}
	return append([]core.NormalizedTrack(nil), f.queue...), nil
}

func (f *fakeRemote) transferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transfers)
}

func (f *fakeRemote) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plays)
}

func (f *fakeRemote) queueCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queueCalls
}

func (f *fakeRemote) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakePlayer struct {
	mu sync.Mutex

	state       *core.LocalSnapshot
	stateErr    error
	activateErr error
	connectErr  error
	commandErr  error

	handler      func(core.PlayerEvent)
	calls        []string
	volume       float64
	activations  int
	disconnected int
}

func (p *fakePlayer) SetEventHandler(fn func(core.PlayerEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = fn
}

func (p *fakePlayer) emit(ev core.PlayerEvent) {
	p.mu.Lock()
	fn := p.handler
	p.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (p *fakePlayer) Connect(_ context.Context, _ core.LocalPlayerOptions) (bool, error) {
	if p.connectErr != nil {
		return false, p.connectErr
	}
	return true, nil
}

func (p *fakePlayer) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected++
}

func (p *fakePlayer) CurrentState(_ context.Context) (*core.LocalSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.stateErr
}

func (p *fakePlayer) record(call string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	return p.commandErr
}

func (p *fakePlayer) TogglePlay(_ context.Context) error    { return p.record("toggle") }
func (p *fakePlayer) Resume(_ context.Context) error        { return p.record("resume") }
func (p *fakePlayer) NextTrack(_ context.Context) error     { return p.record("next") }
func (p *fakePlayer) PreviousTrack(_ context.Context) error { return p.record("previous") }
func (p *fakePlayer) Seek(_ context.Context, _ int) error   { return p.record("seek") }

func (p *fakePlayer) SetVolume(_ context.Context, v float64) error {
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
	return p.record("volume")
}

func (p *fakePlayer) ActivateElement(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activations++
	return p.activateErr
}

func (p *fakePlayer) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type fakeAudit struct {
	mu     sync.Mutex
	events []core.PlaybackEvent
}

func (a *fakeAudit) LogEvent(_ context.Context, event *core.PlaybackEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, *event)
	return nil
}

func (a *fakeAudit) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

type fakePlaylists struct {
	mu    sync.Mutex
	calls int
	err   error
	name  string
}

func (p *fakePlaylists) PlaylistSummary(_ context.Context, playlistID string) (*core.ContextPlaylist, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &core.ContextPlaylist{ID: playlistID, Name: p.name}, nil
}

func (p *fakePlaylists) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// harness wires a dispatcher, device controller and reconciler around fakes
// with a live session.
type harness struct {
	cfg        *core.PlayerConfig
	remote     *fakeRemote
	player     *fakePlayer
	audit      *fakeAudit
	reconciler *Reconciler
	device     *DeviceController
	dispatcher *Dispatcher
	pending    *PendingBuffer
	session    *Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := testPlayerConfig()
	logger := zap.NewNop()
	localizer := i18n.NewLocalizer("en")

	h := &harness{
		cfg:     cfg,
		remote:  &fakeRemote{},
		player:  &fakePlayer{state: &core.LocalSnapshot{}},
		audit:   &fakeAudit{},
		pending: NewPendingBuffer(),
	}
	h.reconciler = NewReconciler(cfg, h.player, h.remote, nil, nil, nil, logger)
	h.device = NewDeviceController(h.remote, h.player, h.reconciler, cfg.DeviceRetryDelay, localizer, logger)
	h.dispatcher = NewDispatcher(cfg, DispatcherDeps{
		State:     h.reconciler,
		Device:    h.device,
		Player:    h.player,
		Remote:    h.remote,
		Pending:   h.pending,
		Audit:     h.audit,
		Localizer: localizer,
	}, logger)

	h.session = newSession(context.Background())
	t.Cleanup(func() { h.session.end("") })
	h.reconciler.Begin(h.session)
	return h
}

func (h *harness) ready(deviceID string) {
	h.reconciler.SetDeviceReady(h.session, deviceID)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
