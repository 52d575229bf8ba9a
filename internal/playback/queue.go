package playback

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"playsync/internal/core"
)

// QueuePoller keeps a snapshot of the upcoming queue. It refreshes on a timer
// and once for every newly accepted track.
type QueuePoller struct {
	remote   core.RemoteController
	logger   *zap.Logger
	metrics  core.MetricsRecorder
	limit    int
	interval time.Duration

	mu          sync.RWMutex
	items       []core.NormalizedTrack
	lastTrackID string

	wakeup chan struct{}
}

func NewQueuePoller(remote core.RemoteController, limit int, interval time.Duration,
	metrics core.MetricsRecorder, logger *zap.Logger,
) *QueuePoller {
	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	return &QueuePoller{
		remote:   remote,
		logger:   logger,
		metrics:  metrics,
		limit:    limit,
		interval: interval,
		wakeup:   make(chan struct{}, 1),
	}
}

// TrackChanged schedules an immediate refresh the first time a track id is seen.
func (q *QueuePoller) TrackChanged(track *core.NormalizedTrack, _ bool) {
	if track == nil || track.ID == "" {
		return
	}

	q.mu.Lock()
	if track.ID == q.lastTrackID {
		q.mu.Unlock()
		return
	}
	q.lastTrackID = track.ID
	q.mu.Unlock()

	select {
	case q.wakeup <- struct{}{}:
	default:
	}
}

// Items returns a copy of the latest queue snapshot.
func (q *QueuePoller) Items() []core.NormalizedTrack {
	q.mu.RLock()
	defer q.mu.RUnlock()

	items := make([]core.NormalizedTrack, 0, len(q.items))
	for i := range q.items {
		items = append(items, *q.items[i].Clone())
	}
	return items
}

// Reset drops the snapshot at session teardown.
func (q *QueuePoller) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.lastTrackID = ""

	select {
	case <-q.wakeup:
	default:
	}
}

// Run refreshes the queue until ctx is done.
func (q *QueuePoller) Run(ctx context.Context, sess *Session) error {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	q.refresh(ctx, sess)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			q.refresh(ctx, sess)
		case <-q.wakeup:
			q.refresh(ctx, sess)
		}
	}
}

func (q *QueuePoller) refresh(ctx context.Context, sess *Session) {
	if q.remote == nil || !sess.Valid() {
		return
	}

	items, err := q.remote.Queue(ctx, q.limit)
	if err != nil {
		q.metrics.RecordPoll("queue", "error")
		q.logger.Debug("Queue poll failed, keeping previous snapshot", zap.Error(err))
		return
	}
	q.metrics.RecordPoll("queue", "ok")

	if len(items) > q.limit {
		items = items[:q.limit]
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !sess.Valid() {
		return
	}
	q.items = items
}
