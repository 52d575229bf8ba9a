package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"playsync/internal/core"
	"playsync/internal/i18n"
)

const (
	routeLocal  = "local"
	routeRemote = "remote"

	auditTimeout = 5 * time.Second

	// EventPlayRequested is audited when a playback start succeeds
	EventPlayRequested = "play_requested"
	// EventTrackChanged is audited on every genuine track switch
	EventTrackChanged = "track_changed"
)

// errActivationRequired marks a start that failed after audio could not be unlocked.
var errActivationRequired = errors.New("audio activation required")

// Dispatcher routes user commands to the local player or the remote control
// API, whichever is authoritative.
type Dispatcher struct {
	state     *Reconciler
	device    *DeviceController
	player    core.LocalPlayer
	remote    core.RemoteController
	pending   *PendingBuffer
	audit     core.AuditSink
	localizer *i18n.Localizer
	logger    *zap.Logger
	metrics   core.MetricsRecorder
	retry     *deviceRetry

	deviceName  string
	verifyDelay time.Duration

	volMu      sync.Mutex
	lastVolume float64
}

// DispatcherDeps groups the collaborators of a Dispatcher.
type DispatcherDeps struct {
	State     *Reconciler
	Device    *DeviceController
	Player    core.LocalPlayer
	Remote    core.RemoteController
	Pending   *PendingBuffer
	Audit     core.AuditSink
	Localizer *i18n.Localizer
	Metrics   core.MetricsRecorder
}

func NewDispatcher(cfg *core.PlayerConfig, deps DispatcherDeps, logger *zap.Logger) *Dispatcher {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	pending := deps.Pending
	if pending == nil {
		pending = NewPendingBuffer()
	}
	return &Dispatcher{
		state:       deps.State,
		device:      deps.Device,
		player:      deps.Player,
		remote:      deps.Remote,
		pending:     pending,
		audit:       deps.Audit,
		localizer:   deps.Localizer,
		logger:      logger,
		metrics:     metrics,
		retry:       newDeviceRetry(cfg.DeviceRetryDelay),
		deviceName:  cfg.Name,
		verifyDelay: cfg.PlaybackVerifyDelay,
		lastVolume:  cfg.InitialVolume,
	}
}

func route(st core.PlaybackState) string {
	if st.RemoteActive {
		return routeRemote
	}
	return routeLocal
}

// command runs one routed command and records its outcome.
func (d *Dispatcher) command(ctx context.Context, name string,
	local func(ctx context.Context, st core.PlaybackState) error,
	remote func(ctx context.Context, st core.PlaybackState) error,
) error {
	sess := d.state.Session()
	if !sess.Valid() {
		return core.ErrNoSession
	}

	st := d.state.State()
	target := route(st)

	var err error
	switch {
	case target == routeRemote:
		err = remote(ctx, st)
	case d.player == nil || !st.IsReady:
		err = core.ErrDeviceNotReady
	default:
		err = local(ctx, st)
	}

	d.finish(sess, name, target, err)
	if err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

func (d *Dispatcher) finish(sess *Session, name, target string, err error) {
	if err == nil {
		d.metrics.RecordCommand(name, target, "ok")
		d.state.ClearError(sess)
		return
	}

	d.metrics.RecordCommand(name, target, "error")
	if errors.Is(err, core.ErrAuthScope) {
		d.state.RevokePlaybackScope(sess)
	}
	d.state.SetError(sess, d.describe(name, err))
	d.logger.Warn("Playback command failed",
		zap.String("command", name),
		zap.String("route", target),
		zap.Error(err))
}

func (d *Dispatcher) describe(name string, err error) string {
	switch {
	case errors.Is(err, errActivationRequired):
		return d.localizer.T(i18n.KeyActivation)
	case errors.Is(err, core.ErrAuthScope):
		return d.localizer.T(i18n.KeyScope)
	case errors.Is(err, core.ErrDeviceNotReady):
		return d.localizer.T(i18n.KeyDeviceNotReady)
	case errors.Is(err, core.ErrPlaybackNotStarted):
		return d.localizer.T(i18n.KeyNotStarted)
	case errors.Is(err, core.ErrTokenFetch):
		return d.localizer.T(i18n.KeyToken)
	default:
		return d.localizer.T(i18n.KeyCommand, name)
	}
}

// TogglePlay pauses or resumes playback.
func (d *Dispatcher) TogglePlay(ctx context.Context) error {
	return d.command(ctx, "toggle_play",
		func(ctx context.Context, _ core.PlaybackState) error {
			return d.player.TogglePlay(ctx)
		},
		func(ctx context.Context, st core.PlaybackState) error {
			if st.IsPaused {
				return d.remote.Resume(ctx, "")
			}
			return d.remote.Pause(ctx, "")
		})
}

func (d *Dispatcher) Next(ctx context.Context) error {
	return d.command(ctx, "next",
		func(ctx context.Context, _ core.PlaybackState) error {
			return d.player.NextTrack(ctx)
		},
		func(ctx context.Context, _ core.PlaybackState) error {
			return d.remote.Next(ctx, "")
		})
}

func (d *Dispatcher) Previous(ctx context.Context) error {
	return d.command(ctx, "previous",
		func(ctx context.Context, _ core.PlaybackState) error {
			return d.player.PreviousTrack(ctx)
		},
		func(ctx context.Context, _ core.PlaybackState) error {
			return d.remote.Previous(ctx, "")
		})
}

// Seek moves to positionMs, clamped to the current track.
func (d *Dispatcher) Seek(ctx context.Context, positionMs int) error {
	return d.command(ctx, "seek",
		func(ctx context.Context, st core.PlaybackState) error {
			return d.player.Seek(ctx, clampPosition(positionMs, st.Duration))
		},
		func(ctx context.Context, st core.PlaybackState) error {
			return d.remote.Seek(ctx, "", clampPosition(positionMs, st.Duration))
		})
}

func clampPosition(positionMs, durationMs int) int {
	if positionMs < 0 {
		return 0
	}
	if durationMs > 0 && positionMs > durationMs {
		return durationMs
	}
	return positionMs
}

// SetVolume sets the volume in [0,1]. The last non-zero volume is kept so
// that unmuting can restore it.
func (d *Dispatcher) SetVolume(ctx context.Context, volume float64) error {
	volume = math.Max(0, math.Min(1, volume))

	err := d.command(ctx, "volume",
		func(ctx context.Context, _ core.PlaybackState) error {
			return d.player.SetVolume(ctx, volume)
		},
		func(ctx context.Context, _ core.PlaybackState) error {
			return d.remote.SetVolume(ctx, "", int(math.Round(volume*100)))
		})
	if err != nil {
		return err
	}

	if volume > 0 {
		d.volMu.Lock()
		d.lastVolume = volume
		d.volMu.Unlock()
	}
	d.state.SetVolume(d.state.Session(), volume)
	return nil
}

// ToggleMute mutes, or restores the last non-zero volume.
func (d *Dispatcher) ToggleMute(ctx context.Context) error {
	st := d.state.State()
	if st.IsMuted || st.Volume == 0 {
		d.volMu.Lock()
		restore := d.lastVolume
		d.volMu.Unlock()
		if restore <= 0 {
			restore = core.DefaultInitialVolume
		}
		return d.SetVolume(ctx, restore)
	}

	d.volMu.Lock()
	d.lastVolume = st.Volume
	d.volMu.Unlock()
	return d.SetVolume(ctx, 0)
}

// SetShuffle has no embedded player equivalent and always goes through the
// remote API, aimed at the local device unless another device is active.
func (d *Dispatcher) SetShuffle(ctx context.Context, enabled bool) error {
	remote := func(ctx context.Context, st core.PlaybackState) error {
		return d.remote.SetShuffle(ctx, remoteTarget(st), enabled)
	}
	return d.command(ctx, "shuffle", remote, remote)
}

// SetRepeat sets the repeat mode through the remote API.
func (d *Dispatcher) SetRepeat(ctx context.Context, mode core.RepeatMode) error {
	if _, err := core.ParseRepeatMode(string(mode)); err != nil {
		return err
	}
	remote := func(ctx context.Context, st core.PlaybackState) error {
		return d.remote.SetRepeat(ctx, remoteTarget(st), mode)
	}
	return d.command(ctx, "repeat", remote, remote)
}

func remoteTarget(st core.PlaybackState) string {
	if st.RemoteActive {
		return ""
	}
	return st.DeviceID
}

// StartPlayback plays a context or a list of tracks on the local device.
// Before the device is ready the request is parked and replayed on ready.
func (d *Dispatcher) StartPlayback(ctx context.Context, req *core.PlayRequest) (*core.StartResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sess := d.state.Session()
	if !sess.Valid() {
		return nil, core.ErrNoSession
	}

	st := d.state.State()
	if !st.IsReady || st.DeviceID == "" {
		d.pending.Store(req)
		d.state.SetConnecting(sess, true)
		d.metrics.RecordCommand("play", routeLocal, "deferred")
		d.logger.Info("Local device not ready, deferring playback",
			zap.String("context_uri", req.ContextURI),
			zap.Int("uris", len(req.URIs)))
		return &core.StartResult{Deferred: true}, nil
	}

	result, err := d.startOn(ctx, sess, st.DeviceID, req)
	d.finish(sess, "play", routeLocal, err)
	if err != nil {
		return nil, fmt.Errorf("play failed: %w", err)
	}
	return result, nil
}

// ReplayPending runs the parked playback request, if any, once the local
// device became ready.
func (d *Dispatcher) ReplayPending(ctx context.Context) {
	req := d.pending.Take()
	sess := d.state.Session()
	d.state.SetConnecting(sess, false)
	if req == nil {
		return
	}

	st := d.state.State()
	d.logger.Info("Replaying deferred playback", zap.String("device_id", st.DeviceID))

	_, err := d.startOn(ctx, sess, st.DeviceID, req)
	d.finish(sess, "play", routeLocal, err)
}

func (d *Dispatcher) startOn(ctx context.Context, sess *Session, deviceID string,
	req *core.PlayRequest,
) (*core.StartResult, error) {
	activationErr := d.device.ActivateElement(ctx)
	if activationErr != nil {
		d.state.SetError(sess, d.localizer.T(i18n.KeyActivation))
		d.logger.Debug("Audio activation failed", zap.Error(activationErr))
	}

	if err := d.device.TransferPlayback(ctx, deviceID); err != nil {
		return nil, err
	}

	d.state.RememberRequestedTrack(sess, req.Track)

	err := d.retry.run(ctx, func() error {
		return d.remote.Play(ctx, deviceID, req)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start playback on %s: %w", deviceID, err)
	}

	if err := d.verifyStarted(ctx); err != nil {
		if activationErr != nil {
			return nil, fmt.Errorf("%w: %w", errActivationRequired, err)
		}
		return nil, err
	}

	result := &core.StartResult{Warnings: d.applyPlayModes(ctx, deviceID, req)}
	d.auditStart(req)
	return result, nil
}

// verifyStarted checks shortly after a play call that the embedded player
// has a state, and nudges it out of a paused one.
func (d *Dispatcher) verifyStarted(ctx context.Context) error {
	if d.player == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.verifyDelay):
	}

	snap, err := d.player.CurrentState(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrPlaybackNotStarted, err)
	}
	if snap == nil {
		return core.ErrPlaybackNotStarted
	}

	if snap.Paused {
		if err := d.player.Resume(ctx); err != nil {
			d.logger.Warn("Failed to resume paused playback", zap.Error(err))
		}
	}
	return nil
}

// applyPlayModes sets shuffle and repeat after playback started. Failures
// don't fail the start; they are returned as warnings.
func (d *Dispatcher) applyPlayModes(ctx context.Context, deviceID string, req *core.PlayRequest) []string {
	var warnings []string

	if req.Shuffle != nil {
		if err := d.remote.SetShuffle(ctx, deviceID, *req.Shuffle); err != nil {
			state := "off"
			if *req.Shuffle {
				state = "on"
			}
			warnings = append(warnings, d.localizer.T(i18n.KeyShuffleNotApplied, state))
			d.metrics.RecordCommand("shuffle", routeLocal, "dropped")
			d.logger.Debug("Shuffle not applied after start", zap.Error(err))
		}
	}

	if req.Repeat != "" {
		if err := d.remote.SetRepeat(ctx, deviceID, req.Repeat); err != nil {
			warnings = append(warnings, d.localizer.T(i18n.KeyRepeatNotApplied, string(req.Repeat)))
			d.metrics.RecordCommand("repeat", routeLocal, "dropped")
			d.logger.Debug("Repeat not applied after start", zap.Error(err))
		}
	}

	return warnings
}

func (d *Dispatcher) auditStart(req *core.PlayRequest) {
	remote := false
	event := &core.PlaybackEvent{
		Event:      EventPlayRequested,
		ContextURI: req.ContextURI,
		DeviceName: d.deviceName,
		Remote:     &remote,
	}
	if t := req.Track; t != nil {
		event.TrackID = t.ID
		event.TrackURI = t.URI
		event.TrackName = t.Name
		event.Artists = t.Artists
	} else if len(req.URIs) > 0 {
		event.TrackURI = req.URIs[0]
	}
	d.sendAudit(event)
}

// TrackChanged audits genuine track switches.
func (d *Dispatcher) TrackChanged(track *core.NormalizedTrack, remote bool) {
	st := d.state.State()
	deviceName := d.deviceName
	if remote {
		deviceName = st.ActiveDeviceName
	}
	d.sendAudit(&core.PlaybackEvent{
		Event:      EventTrackChanged,
		TrackID:    track.ID,
		TrackURI:   track.URI,
		TrackName:  track.Name,
		Artists:    track.Artists,
		ContextURI: st.ContextURI,
		DeviceName: deviceName,
		Remote:     &remote,
	})
}

// sendAudit delivers an event in the background; failures are only logged.
func (d *Dispatcher) sendAudit(event *core.PlaybackEvent) {
	if d.audit == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		if err := d.audit.LogEvent(ctx, event); err != nil {
			d.logger.Debug("Failed to record playback event",
				zap.String("event", event.Event),
				zap.Error(err))
		}
	}()
}
