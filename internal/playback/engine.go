// Package playback keeps a single now-playing view consistent across the
// embedded player and the remote control API, and routes user commands to
// whichever of the two is authoritative.
package playback

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"playsync/internal/core"
	"playsync/internal/i18n"
	"playsync/internal/store"
)

// Session scopes every timer, in-flight request and state write of one
// playback session. Once ended it never becomes valid again.
type Session struct {
	ID string

	ctx    context.Context
	cancel context.CancelFunc
	valid  atomic.Bool

	mu     sync.Mutex
	reason string
}

func newSession(parent context.Context) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ID:     uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
	}
	s.valid.Store(true)
	return s
}

// Valid reports whether the session is still live.
func (s *Session) Valid() bool {
	return s != nil && s.valid.Load()
}

// Context is cancelled when the session ends.
func (s *Session) Context() context.Context {
	if s == nil {
		return context.Background()
	}
	return s.ctx
}

// end invalidates the session before anything else happens.
func (s *Session) end(reason string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.valid.Load() && reason != "" {
		s.reason = reason
	}
	s.mu.Unlock()

	s.valid.Store(false)
	s.cancel()
}

func (s *Session) endReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// EngineDeps groups the collaborators of an Engine.
type EngineDeps struct {
	Tokens    *TokenManager
	Remote    core.RemoteController
	Player    core.LocalPlayer
	Playlists core.PlaylistMetadataProvider
	Audit     core.AuditSink
	Metrics   core.MetricsRecorder
	Localizer *i18n.Localizer
	Cache     *store.TrackCache
}

// Engine supervises playback sessions and exposes the command surface.
type Engine struct {
	cfg       *core.PlayerConfig
	logger    *zap.Logger
	localizer *i18n.Localizer

	tokens     *TokenManager
	player     core.LocalPlayer
	reconciler *Reconciler
	device     *DeviceController
	dispatcher *Dispatcher
	queue      *QueuePoller
	resolver   *ContextResolver
	pending    *PendingBuffer

	mu      sync.Mutex
	session *Session
	restart chan struct{}
}

func NewEngine(cfg *core.PlayerConfig, deps EngineDeps, logger *zap.Logger) *Engine {
	localizer := deps.Localizer
	if localizer == nil {
		localizer = i18n.NewLocalizer(i18n.DefaultLanguage)
	}

	resolver := NewContextResolver(deps.Playlists, logger.Named("context"))
	reconciler := NewReconciler(cfg, deps.Player, deps.Remote, resolver, deps.Cache, deps.Metrics,
		logger.Named("reconciler"))
	device := NewDeviceController(deps.Remote, deps.Player, reconciler, cfg.DeviceRetryDelay, localizer,
		logger.Named("device"))
	pending := NewPendingBuffer()
	dispatcher := NewDispatcher(cfg, DispatcherDeps{
		State:     reconciler,
		Device:    device,
		Player:    deps.Player,
		Remote:    deps.Remote,
		Pending:   pending,
		Audit:     deps.Audit,
		Localizer: localizer,
		Metrics:   deps.Metrics,
	}, logger.Named("dispatcher"))
	queue := NewQueuePoller(deps.Remote, cfg.QueueLimit, cfg.QueuePollInterval, deps.Metrics,
		logger.Named("queue"))

	reconciler.AddTrackListener(queue)
	reconciler.AddTrackListener(dispatcher)

	return &Engine{
		cfg:        cfg,
		logger:     logger,
		localizer:  localizer,
		tokens:     deps.Tokens,
		player:     deps.Player,
		reconciler: reconciler,
		device:     device,
		dispatcher: dispatcher,
		queue:      queue,
		resolver:   resolver,
		pending:    pending,
		restart:    make(chan struct{}, 1),
	}
}

// Run keeps a playback session alive until ctx is done. When a session ends
// on its own, Run waits for Restart before starting the next one.
func (e *Engine) Run(ctx context.Context) error {
	for {
		sess := e.begin(ctx)
		e.logger.Info("Playback session started", zap.String("session_id", sess.ID))

		err := e.runSession(sess)
		e.teardown(sess)
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return nil
		}

		e.logger.Info("Playback session ended, waiting for reconnect",
			zap.String("session_id", sess.ID),
			zap.String("reason", sess.endReason()))

		select {
		case <-ctx.Done():
			return nil
		case <-e.restart:
		}
	}
}

func (e *Engine) begin(ctx context.Context) *Session {
	sess := newSession(ctx)

	e.mu.Lock()
	e.session = sess
	e.mu.Unlock()

	e.reconciler.Begin(sess)
	if e.tokens != nil {
		e.tokens.OnScope(func(hasScope bool) {
			e.reconciler.SetPlaybackScope(sess, hasScope)
		})
	}
	if e.player != nil {
		e.player.SetEventHandler(func(ev core.PlayerEvent) {
			e.handleEvent(sess, ev)
		})
	}
	return sess
}

func (e *Engine) runSession(sess *Session) error {
	ctx := sess.Context()

	if e.tokens != nil {
		if _, err := e.tokens.GetToken(ctx); err != nil {
			e.reconciler.SetError(sess, e.localizer.T(i18n.KeyToken))
		}
	}

	if e.player != nil {
		opts := core.LocalPlayerOptions{
			Name:          e.cfg.Name,
			InitialVolume: e.cfg.InitialVolume,
		}
		if e.tokens != nil {
			opts.Tokens = e.tokens
		}
		connected, err := e.player.Connect(ctx, opts)
		switch {
		case err != nil:
			e.logger.Error("Embedded player failed to connect", zap.Error(err))
			e.endSession(sess, e.localizer.T(i18n.KeyInitialization, err.Error()))
		case !connected:
			e.logger.Info("Embedded player not attached yet, polling remote state only")
		}
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.reconciler.RunLocalPoll(gCtx, sess, e.cfg.LocalPollInterval)
	})
	g.Go(func() error {
		return e.reconciler.RunRemotePoll(gCtx, sess, e.cfg.RemotePollInterval)
	})
	g.Go(func() error {
		return e.queue.Run(gCtx, sess)
	})

	return g.Wait()
}

// teardown runs after the session's loops stopped. Nothing it resets can be
// written again by a task of the old session.
func (e *Engine) teardown(sess *Session) {
	sess.end("")

	e.reconciler.Reset(sess, sess.endReason())
	e.pending.Clear()
	e.device.Forget()
	e.queue.Reset()
	e.resolver.Clear()
	if e.tokens != nil {
		e.tokens.Clear()
	}
	if e.player != nil {
		e.player.Disconnect()
	}
}

func (e *Engine) handleEvent(sess *Session, ev core.PlayerEvent) {
	if !sess.Valid() {
		return
	}

	switch ev.Type {
	case core.PlayerEventReady:
		e.logger.Info("Embedded player ready", zap.String("device_id", ev.DeviceID))
		e.reconciler.SetDeviceReady(sess, ev.DeviceID)
		go e.dispatcher.ReplayPending(sess.Context())
	case core.PlayerEventNotReady:
		e.logger.Warn("Embedded player went offline", zap.String("device_id", ev.DeviceID))
		e.reconciler.SetDeviceLost(sess)
		e.device.Forget()
	case core.PlayerEventStateChanged:
		e.reconciler.ApplyLocal(sess, ev.State)
	case core.PlayerEventInitializationError:
		e.logger.Error("Embedded player failed to initialize", zap.String("message", ev.Message))
		e.endSession(sess, e.localizer.T(i18n.KeyInitialization, ev.Message))
	case core.PlayerEventAuthenticationError:
		e.logger.Warn("Embedded player rejected the token", zap.String("message", ev.Message))
		if e.tokens != nil {
			e.tokens.Clear()
		}
		e.reconciler.SetError(sess, e.localizer.T(i18n.KeyAuthentication))
	case core.PlayerEventAccountError:
		e.logger.Warn("Account not eligible for playback", zap.String("message", ev.Message))
		e.endSession(sess, e.localizer.T(i18n.KeyAccount))
	default:
		e.logger.Debug("Ignoring unknown player event", zap.String("type", string(ev.Type)))
	}
}

func (e *Engine) endSession(sess *Session, reason string) {
	sess.end(reason)
}

// EndSession tears down the current session, e.g. on logout.
func (e *Engine) EndSession() {
	e.mu.Lock()
	sess := e.session
	e.mu.Unlock()
	e.endSession(sess, "")
}

// Restart starts a new session after the previous one ended.
func (e *Engine) Restart() {
	select {
	case e.restart <- struct{}{}:
	default:
	}
}

// State returns the canonical playback state.
func (e *Engine) State() core.PlaybackState {
	return e.reconciler.State()
}

// Queue returns the upcoming tracks.
func (e *Engine) Queue() []core.NormalizedTrack {
	return e.queue.Items()
}

// Subscribe streams state changes until cancel is called.
func (e *Engine) Subscribe() (<-chan core.PlaybackState, func()) {
	return e.reconciler.Subscribe()
}

func (e *Engine) TogglePlay(ctx context.Context) error {
	return e.dispatcher.TogglePlay(ctx)
}

func (e *Engine) Next(ctx context.Context) error {
	return e.dispatcher.Next(ctx)
}

func (e *Engine) Previous(ctx context.Context) error {
	return e.dispatcher.Previous(ctx)
}

func (e *Engine) Seek(ctx context.Context, positionMs int) error {
	return e.dispatcher.Seek(ctx, positionMs)
}

func (e *Engine) SetVolume(ctx context.Context, volume float64) error {
	return e.dispatcher.SetVolume(ctx, volume)
}

func (e *Engine) ToggleMute(ctx context.Context) error {
	return e.dispatcher.ToggleMute(ctx)
}

func (e *Engine) SetShuffle(ctx context.Context, enabled bool) error {
	return e.dispatcher.SetShuffle(ctx, enabled)
}

func (e *Engine) SetRepeat(ctx context.Context, mode core.RepeatMode) error {
	return e.dispatcher.SetRepeat(ctx, mode)
}

func (e *Engine) StartPlayback(ctx context.Context, req *core.PlayRequest) (*core.StartResult, error) {
	return e.dispatcher.StartPlayback(ctx, req)
}
