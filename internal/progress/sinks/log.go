package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/frontier-crawler/internal/progress"
)

// LogSink writes each event as a structured log line. Per-URL stages are
// logged at debug, lifecycle stages at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every event in batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.DebugLevel
		switch evt.Stage {
		case progress.StageCrawlStart, progress.StageCrawlDone:
			level = zapcore.InfoLevel
		case progress.StageCrawlError:
			level = zapcore.WarnLevel
		}
		ce := s.logger.Check(level, "progress event")
		if ce == nil {
			continue
		}
		ce.Write(
			zap.Stringer("crawl_id", evt.CrawlUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.Int("worker", evt.Worker),
			zap.String("site", evt.Site),
			zap.String("url", evt.URL),
			zap.Int64("bytes", evt.Bytes),
			zap.Int("links", evt.Links),
			zap.String("status_class", string(evt.StatusClass)),
			zap.String("error_kind", evt.ErrorKind),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
