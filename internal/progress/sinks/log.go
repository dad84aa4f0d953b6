package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-event-crawler/internal/progress"
)

// LogSink emits one structured log line per progress event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch. Failures log at warn.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Int64("site_id", evt.SiteID),
			zap.String("run_id", evt.RunID),
			zap.String("url", evt.URL),
			zap.String("status", string(evt.Status)),
			zap.String("message", evt.Message),
			zap.Time("ts", evt.TS),
		}
		if evt.Status == progress.StatusFailed {
			s.logger.Warn("progress", append(fields, zap.String("error", evt.Error))...)
			continue
		}
		s.logger.Info("progress", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

// Name labels the sink in hub warnings.
func (*LogSink) Name() string { return "log" }
