// Package store keeps track metadata seen during a playback session.
package store

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"playsync/internal/core"
)

// DefaultFalsePositiveRate is the Bloom filter error rate used for track caches.
const DefaultFalsePositiveRate = 0.01

// TrackCache is a bounded, thread-safe cache of normalized tracks keyed by id.
// A Bloom filter answers the common "never seen" case without touching the LRU.
type TrackCache struct {
	bloom             *bloom.BloomFilter
	lru               *lru.Cache[string, *core.NormalizedTrack]
	mutex             sync.RWMutex
	capacity          int
	falsePositiveRate float64
}

// NewTrackCache creates a cache holding at most capacity tracks.
func NewTrackCache(capacity int, falsePositiveRate float64) *TrackCache {
	if capacity <= 0 {
		capacity = core.DefaultTrackCacheSize
	}

	// Only errors on a non-positive size.
	lruCache, _ := lru.New[string, *core.NormalizedTrack](capacity)

	return &TrackCache{
		bloom:             bloom.NewWithEstimates(uint(capacity), falsePositiveRate),
		lru:               lruCache,
		capacity:          capacity,
		falsePositiveRate: falsePositiveRate,
	}
}

// Get returns a copy of the cached track.
func (tc *TrackCache) Get(trackID string) (*core.NormalizedTrack, bool) {
	if trackID == "" {
		return nil, false
	}

	tc.mutex.RLock()
	defer tc.mutex.RUnlock()

	if !tc.bloom.TestString(trackID) {
		return nil, false
	}

	track, ok := tc.lru.Get(trackID)
	if !ok {
		return nil, false
	}
	return track.Clone(), true
}

// Put stores a copy of track under its id.
func (tc *TrackCache) Put(track *core.NormalizedTrack) {
	if track == nil || track.ID == "" {
		return
	}

	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	tc.bloom.AddString(track.ID)
	tc.lru.Add(track.ID, track.Clone())
}

// Len returns the number of cached tracks.
func (tc *TrackCache) Len() int {
	tc.mutex.RLock()
	defer tc.mutex.RUnlock()
	return tc.lru.Len()
}

// Clear drops every cached track.
func (tc *TrackCache) Clear() {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	// Bloom filters can't delete, so start a fresh one.
	tc.bloom = bloom.NewWithEstimates(uint(tc.capacity), tc.falsePositiveRate)
	tc.lru.Purge()
}
