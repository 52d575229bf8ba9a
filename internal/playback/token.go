package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"playsync/internal/core"
)

const tokenFlightKey = "playback-token"

// TokenManager caches the playback token and collapses concurrent refreshes
// into a single provider call.
type TokenManager struct {
	provider core.TokenProvider
	logger   *zap.Logger
	metrics  core.MetricsRecorder
	buffer   time.Duration
	now      func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	token   *core.PlaybackToken
	gen     uint64
	onScope func(bool)
}

func NewTokenManager(provider core.TokenProvider, buffer time.Duration, metrics core.MetricsRecorder,
	logger *zap.Logger,
) *TokenManager {
	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	return &TokenManager{
		provider: provider,
		logger:   logger,
		metrics:  metrics,
		buffer:   buffer,
		now:      time.Now,
	}
}

// OnScope registers the callback told whether refreshed tokens carry the
// playback scopes.
func (m *TokenManager) OnScope(fn func(bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onScope = fn
}

// GetToken returns the cached token while it is fresh and otherwise refreshes
// it. Concurrent callers during a refresh share its result.
func (m *TokenManager) GetToken(ctx context.Context) (*core.PlaybackToken, error) {
	m.mu.RLock()
	cached := m.token
	m.mu.RUnlock()

	if cached.Valid(m.now()) {
		return cached, nil
	}

	// The refresh outlives any single caller's cancellation.
	ch := m.group.DoChan(tokenFlightKey, func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*core.PlaybackToken), nil
	}
}

// Token returns the bearer value of a valid token.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	token, err := m.GetToken(ctx)
	if err != nil {
		return "", err
	}
	return token.Value, nil
}

// Clear drops the cached token so the next call refreshes.
func (m *TokenManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = nil
	m.gen++
	m.group.Forget(tokenFlightKey)
}

func (m *TokenManager) refresh(ctx context.Context) (*core.PlaybackToken, error) {
	m.mu.RLock()
	gen := m.gen
	m.mu.RUnlock()

	grant, err := m.provider.PlaybackToken(ctx)
	if err == nil && (grant == nil || grant.AccessToken == "") {
		err = fmt.Errorf("provider returned an empty token")
	}
	if err != nil {
		m.mu.Lock()
		m.token = nil
		m.mu.Unlock()

		m.metrics.RecordTokenRefresh("error")
		m.logger.Warn("Failed to refresh playback token", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", core.ErrTokenFetch, err)
	}

	token := &core.PlaybackToken{
		Value:         grant.AccessToken,
		ExpiresAt:     m.now().Add(time.Duration(grant.ExpiresIn)*time.Second - m.buffer),
		GrantedScopes: grant.Scopes(),
	}
	hasScope := token.HasScopes(core.RequiredPlaybackScopes...)

	m.mu.Lock()
	// A Clear during the refresh wins; the caller still gets the token.
	if m.gen == gen {
		m.token = token
	}
	onScope := m.onScope
	m.mu.Unlock()

	if onScope != nil {
		onScope(hasScope)
	}

	m.metrics.RecordTokenRefresh("ok")
	m.logger.Debug("Refreshed playback token",
		zap.Time("expires_at", token.ExpiresAt),
		zap.Bool("has_playback_scope", hasScope))

	return token, nil
}
