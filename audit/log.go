package audit

import (
	"context"
	"log/slog"

	"github.com/parley-run/parley/pkg/slogx"
)

type logSink struct {
	log *slog.Logger
}

// NewLog returns a sink that writes each record as one structured log
// line. A nil logger uses slog's default.
func NewLog(log *slog.Logger) Sink {
	if log == nil {
		log = slog.Default()
	}
	return &logSink{log: log}
}

func (s *logSink) Record(ctx context.Context, rec Record) error {
	attrs := []any{
		slogx.Envelope(rec.EnvelopeID),
		slogx.Agent(rec.Sender),
		slogx.Stringer("kind", rec.Kind),
		slog.Any("targets", rec.Targets),
		slog.Any("outcome", rec.Outcome),
	}
	if rec.Denied {
		attrs = append(attrs, slog.Any("violations", rec.Violations))
		s.log.WarnContext(ctx, "delivery denied", attrs...)
		return nil
	}
	s.log.InfoContext(ctx, "delivery routed", attrs...)
	return nil
}
