package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-admission/internal/audit"
)

// LogSink writes one structured log line per decision.
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

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []audit.Event) error {
	for _, evt := range batch {
		s.logger.Info("admission decision",
			zap.String("tenant_id", evt.TenantID),
			zap.String("job_id", evt.JobID),
			zap.String("outcome", evt.Outcome),
			zap.String("reason", evt.Reason),
			zap.Int("status", evt.Status),
			zap.String("stage", evt.Stage),
			zap.String("url", evt.URL),
			zap.Time("ts", evt.TS),
		)
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
