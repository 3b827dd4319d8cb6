package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/progress"
)

// LogSink writes every event as a structured log line. Attempts log at debug
// so a default info logger only shows run and target milestones.
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

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.Time("event_ts", evt.TS),
		}
		if evt.TargetID != "" {
			fields = append(fields, zap.String("target_id", evt.TargetID), zap.String("site", evt.Site))
		}
		switch evt.Stage {
		case progress.StageAttempt:
			fields = append(fields,
				zap.String("channel", evt.Channel),
				zap.String("outcome", evt.Outcome),
				zap.String("error_kind", evt.Kind),
				zap.Duration("dur", evt.Dur),
			)
			s.logger.Debug("progress event", fields...)
			continue
		case progress.StageTargetDone:
			fields = append(fields,
				zap.String("status", evt.Status),
				zap.String("tier", evt.Tier),
				zap.String("channel", evt.Channel),
			)
		case progress.StageRunDone:
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
