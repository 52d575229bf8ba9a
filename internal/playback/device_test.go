package playback

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"playsync/internal/core"
)

func TestDeviceController_TransferIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.ready("dev-1")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.device.TransferPlayback(context.Background(), "dev-1"); err != nil {
				t.Errorf("TransferPlayback() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := h.remote.transferCount(); got != 1 {
		t.Errorf("transfer calls = %d, want 1", got)
	}
	if h.device.Current() != "dev-1" {
		t.Errorf("Current() = %q, want dev-1", h.device.Current())
	}
}

func TestDeviceController_TransferAgainWhenRemoteActive(t *testing.T) {
	h := newHarness(t)
	h.ready("dev-1")

	if err := h.device.TransferPlayback(context.Background(), "dev-1"); err != nil {
		t.Fatal(err)
	}

	h.reconciler.ApplyRemote(h.session, &core.RemoteSnapshot{
		Device: &core.RemoteDevice{ID: "phone", Name: "Phone", IsActive: true},
	})
	if err := h.device.TransferPlayback(context.Background(), "dev-1"); err != nil {
		t.Fatal(err)
	}

	if got := h.remote.transferCount(); got != 2 {
		t.Errorf("transfer calls = %d, want 2 after another device took over", got)
	}
}

func TestDeviceController_RetriesNotFoundOnce(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{
			name:      "404 then success",
			errs:      []error{&core.APIError{Status: http.StatusNotFound}},
			wantCalls: 2,
		},
		{
			name: "404 twice",
			errs: []error{
				&core.APIError{Status: http.StatusNotFound},
				&core.APIError{Status: http.StatusNotFound},
			},
			wantCalls: 2,
			wantErr:   core.ErrDeviceNotReady,
		},
		{
			name:      "500 is not retried",
			errs:      []error{&core.APIError{Status: http.StatusInternalServerError}},
			wantCalls: 1,
			wantErr:   core.ErrDeviceNotReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.ready("dev-1")
			h.remote.transferErrs = tt.errs

			err := h.device.TransferPlayback(context.Background(), "dev-1")
			if tt.wantErr == nil && err != nil {
				t.Fatalf("TransferPlayback() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("TransferPlayback() error = %v, want %v", err, tt.wantErr)
			}
			if got := h.remote.transferCount(); got != tt.wantCalls {
				t.Errorf("transfer calls = %d, want %d", got, tt.wantCalls)
			}
			if tt.wantErr != nil && h.reconciler.State().Error == "" {
				t.Error("a failed transfer should surface an error")
			}
		})
	}
}

func TestDeviceController_ForbiddenRevokesScope(t *testing.T) {
	h := newHarness(t)
	h.ready("dev-1")
	h.remote.transferErrs = []error{&core.APIError{Status: http.StatusForbidden}}

	err := h.device.TransferPlayback(context.Background(), "dev-1")
	if !errors.Is(err, core.ErrAuthScope) {
		t.Fatalf("TransferPlayback() error = %v, want ErrAuthScope", err)
	}
	if got := h.remote.transferCount(); got != 1 {
		t.Errorf("403 must not be retried, got %d calls", got)
	}

	st := h.reconciler.State()
	if st.HasPlaybackScope == nil || *st.HasPlaybackScope {
		t.Fatalf("HasPlaybackScope = %v, want false", st.HasPlaybackScope)
	}

	// a later token refresh must not flip it back within the session
	h.reconciler.SetPlaybackScope(h.session, true)
	if st := h.reconciler.State(); *st.HasPlaybackScope {
		t.Error("revoked playback scope came back before the session ended")
	}
}

func TestDeviceController_EmptyDevice(t *testing.T) {
	h := newHarness(t)
	if err := h.device.TransferPlayback(context.Background(), ""); !errors.Is(err, core.ErrDeviceNotReady) {
		t.Errorf("TransferPlayback(\"\") error = %v, want ErrDeviceNotReady", err)
	}
	if h.remote.transferCount() != 0 {
		t.Error("no call should be made without a device")
	}
}

func TestDeviceController_ActivateOnce(t *testing.T) {
	h := newHarness(t)
	h.player.activateErr = errors.New("blocked")

	if err := h.device.ActivateElement(context.Background()); err == nil {
		t.Fatal("expected activation error")
	}

	h.player.activateErr = nil
	for i := 0; i < 3; i++ {
		if err := h.device.ActivateElement(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	if h.player.activations != 2 {
		t.Errorf("activations = %d, want 2 (one failure, one success)", h.player.activations)
	}

	h.device.Forget()
	if err := h.device.ActivateElement(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.player.activations != 3 {
		t.Errorf("activations = %d, want 3 after Forget", h.player.activations)
	}
}
