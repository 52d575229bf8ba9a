package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"playsync/internal/core"
	"playsync/internal/i18n"
)

// DeviceController moves playback onto the local device and unlocks audio
// output in the embedded player.
type DeviceController struct {
	remote    core.RemoteController
	player    core.LocalPlayer
	state     *Reconciler
	localizer *i18n.Localizer
	logger    *zap.Logger
	retry     *deviceRetry

	// mu serializes transfers so concurrent requests collapse into one call.
	mu        sync.Mutex
	current   string
	activated bool
}

func NewDeviceController(remote core.RemoteController, player core.LocalPlayer, state *Reconciler,
	retryDelay time.Duration, localizer *i18n.Localizer, logger *zap.Logger,
) *DeviceController {
	return &DeviceController{
		remote:    remote,
		player:    player,
		state:     state,
		localizer: localizer,
		logger:    logger,
		retry:     newDeviceRetry(retryDelay),
	}
}

// TransferPlayback makes deviceID the active device. It is a no-op when the
// device already is, and retries once when the device isn't registered yet.
func (c *DeviceController) TransferPlayback(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return core.ErrDeviceNotReady
	}

	sess := c.state.Session()

	c.mu.Lock()
	defer c.mu.Unlock()

	if deviceID == c.current && !c.state.State().RemoteActive {
		return nil
	}

	err := c.retry.run(ctx, func() error {
		return c.remote.TransferPlayback(ctx, deviceID, false)
	})
	if err != nil {
		if errors.Is(err, core.ErrAuthScope) {
			c.state.RevokePlaybackScope(sess)
			c.state.SetError(sess, c.localizer.T(i18n.KeyScope))
			return fmt.Errorf("failed to transfer playback to %s: %w", deviceID, err)
		}

		c.state.SetError(sess, c.localizer.T(i18n.KeyDeviceNotReady))
		c.logger.Warn("Failed to transfer playback",
			zap.String("device_id", deviceID),
			zap.Error(err))
		if errors.Is(err, core.ErrDeviceNotReady) {
			return fmt.Errorf("failed to transfer playback to %s: %w", deviceID, err)
		}
		return fmt.Errorf("failed to transfer playback to %s: %w: %w", deviceID, core.ErrDeviceNotReady, err)
	}

	c.current = deviceID
	c.logger.Debug("Transferred playback", zap.String("device_id", deviceID))
	return nil
}

// ActivateElement unlocks audio output in the embedded player. Once it has
// succeeded further calls do nothing.
func (c *DeviceController) ActivateElement(ctx context.Context) error {
	c.mu.Lock()
	activated := c.activated
	c.mu.Unlock()

	if activated || c.player == nil {
		return nil
	}

	if err := c.player.ActivateElement(ctx); err != nil {
		return fmt.Errorf("failed to activate audio element: %w", err)
	}

	c.mu.Lock()
	c.activated = true
	c.mu.Unlock()
	return nil
}

// Current returns the device of record.
func (c *DeviceController) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Forget drops the device of record, on device loss or teardown.
func (c *DeviceController) Forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = ""
	c.activated = false
}
