package playback

import (
	"context"

	"go.uber.org/zap"

	"playsync/internal/core"
)

// LogAuditSink writes playback events to the log when no backend records them.
type LogAuditSink struct {
	logger *zap.Logger
}

func NewLogAuditSink(logger *zap.Logger) *LogAuditSink {
	return &LogAuditSink{logger: logger}
}

func (s *LogAuditSink) LogEvent(_ context.Context, event *core.PlaybackEvent) error {
	fields := []zap.Field{
		zap.String("event", event.Event),
		zap.String("track_id", event.TrackID),
		zap.String("track_name", event.TrackName),
		zap.Strings("artists", event.Artists),
		zap.String("context_uri", event.ContextURI),
		zap.String("device_name", event.DeviceName),
	}
	if event.Remote != nil {
		fields = append(fields, zap.Bool("remote", *event.Remote))
	}
	s.logger.Info("Playback event", fields...)
	return nil
}
