package core

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthScope means the token lacks playback control permissions. Sticky for the session.
	ErrAuthScope = errors.New("missing playback scope")
	// ErrDeviceNotReady means the target device is not registered yet. Transient.
	ErrDeviceNotReady = errors.New("device not ready")
	// ErrInitialization means the embedded player failed to load or connect
	ErrInitialization = errors.New("player initialization failed")
	// ErrTokenFetch means no playback token could be obtained
	ErrTokenFetch = errors.New("token fetch failed")
	// ErrNetwork covers transport failures
	ErrNetwork = errors.New("network error")
	// ErrPlaybackNotStarted means a play command succeeded but the player reports no state
	ErrPlaybackNotStarted = errors.New("playback did not start")
	// ErrNoSession means there is no live playback session
	ErrNoSession = errors.New("no playback session")
)

// APIError is a non-success response from a remote HTTP API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

// Is maps status codes onto the sentinel errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuthScope:
		return e.Status == http.StatusForbidden
	case ErrDeviceNotReady:
		return e.Status == http.StatusNotFound
	default:
		return false
	}
}

// StatusCode extracts the HTTP status from err, or 0 when it carries none.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
