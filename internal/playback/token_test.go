package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"playsync/internal/core"
)

type fakeTokenProvider struct {
	calls   atomic.Int32
	release chan struct{}

	mu    sync.Mutex
	err   error
	grant core.TokenGrant
}

func (p *fakeTokenProvider) PlaybackToken(_ context.Context) (*core.TokenGrant, error) {
	p.calls.Add(1)
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	grant := p.grant
	return &grant, nil
}

func newTestTokenManager(provider core.TokenProvider, now *time.Time) *TokenManager {
	m := NewTokenManager(provider, 60*time.Second, nil, zap.NewNop())
	if now != nil {
		m.now = func() time.Time { return *now }
	}
	return m
}

func TestTokenManager_SingleFlight(t *testing.T) {
	provider := &fakeTokenProvider{
		release: make(chan struct{}),
		grant:   core.TokenGrant{AccessToken: "tok", ExpiresIn: 3600},
	}
	m := newTestTokenManager(provider, nil)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Token(context.Background())
		}(i)
	}

	waitFor(t, func() bool { return provider.calls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(provider.release)
	wg.Wait()

	if got := provider.calls.Load(); got != 1 {
		t.Errorf("provider called %d times, want 1", got)
	}
	for i := range results {
		if errs[i] != nil || results[i] != "tok" {
			t.Errorf("caller %d got %q, %v", i, results[i], errs[i])
		}
	}
}

func TestTokenManager_ExpiryBuffer(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	provider := &fakeTokenProvider{grant: core.TokenGrant{AccessToken: "tok", ExpiresIn: 3600}}
	m := newTestTokenManager(provider, &now)

	token, err := m.GetToken(context.Background())
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if want := now.Add(3540 * time.Second); !token.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", token.ExpiresAt, want)
	}

	now = now.Add(3500 * time.Second)
	if _, err := m.GetToken(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := provider.calls.Load(); got != 1 {
		t.Errorf("fresh token refetched: %d provider calls", got)
	}

	now = now.Add(41 * time.Second)
	if _, err := m.GetToken(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := provider.calls.Load(); got != 2 {
		t.Errorf("token inside the expiry buffer should refresh, got %d provider calls", got)
	}
}

func TestTokenManager_FailureNotCached(t *testing.T) {
	provider := &fakeTokenProvider{err: errors.New("backend down")}
	m := newTestTokenManager(provider, nil)

	_, err := m.GetToken(context.Background())
	if !errors.Is(err, core.ErrTokenFetch) {
		t.Fatalf("GetToken() error = %v, want ErrTokenFetch", err)
	}

	provider.mu.Lock()
	provider.err = nil
	provider.grant = core.TokenGrant{AccessToken: "tok", ExpiresIn: 3600}
	provider.mu.Unlock()

	value, err := m.Token(context.Background())
	if err != nil || value != "tok" {
		t.Fatalf("Token() = %q, %v after recovery", value, err)
	}
	if got := provider.calls.Load(); got != 2 {
		t.Errorf("provider called %d times, want 2", got)
	}
}

func TestTokenManager_ScopeCallback(t *testing.T) {
	provider := &fakeTokenProvider{grant: core.TokenGrant{
		AccessToken: "tok",
		ExpiresIn:   3600,
		Scope:       "streaming user-read-email",
	}}
	m := newTestTokenManager(provider, nil)

	var got *bool
	m.OnScope(func(has bool) { got = &has })

	if _, err := m.GetToken(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got == nil || *got {
		t.Errorf("scope callback = %v, want false for a token without playback control", got)
	}
}

func TestTokenManager_Clear(t *testing.T) {
	provider := &fakeTokenProvider{grant: core.TokenGrant{AccessToken: "tok", ExpiresIn: 3600}}
	m := newTestTokenManager(provider, nil)

	if _, err := m.GetToken(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.Clear()
	if _, err := m.GetToken(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := provider.calls.Load(); got != 2 {
		t.Errorf("Clear should force a refresh, got %d provider calls", got)
	}
}
