package playback

import (
	"sync"

	"playsync/internal/core"
)

// PendingBuffer holds the single play request issued before the local device
// was ready. A newer request replaces an older one.
type PendingBuffer struct {
	mu      sync.Mutex
	request *core.PlayRequest
}

func NewPendingBuffer() *PendingBuffer {
	return &PendingBuffer{}
}

// Store replaces whatever was pending.
func (b *PendingBuffer) Store(req *core.PlayRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.request = req
}

// Take removes and returns the pending request, or nil.
func (b *PendingBuffer) Take() *core.PlayRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	req := b.request
	b.request = nil
	return req
}

// Pending reports whether a request is waiting.
func (b *PendingBuffer) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.request != nil
}

func (b *PendingBuffer) Clear() {
	b.Store(nil)
}
