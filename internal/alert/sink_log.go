package alert

import (
	"context"

	"go.uber.org/zap"

	"vigil/internal/domain"
)

// LogSink writes alerts to the structured log. Always configured so band
// transitions are observable even with no external sink.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink { return &LogSink{log: log} }

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, a *domain.Alert) error {
	sigs := make([]string, len(a.Matches))
	for i, m := range a.Matches {
		sigs[i] = m.SignatureID
	}
	s.log.Info("alert",
		zap.String("session_id", a.SessionID),
		zap.String("channel", string(a.Channel)),
		zap.String("band", string(a.Band)),
		zap.String("prev_band", string(a.PrevBand)),
		zap.String("action", string(a.Action)),
		zap.Strings("signatures", sigs),
		zap.Time("timestamp", a.Timestamp),
	)
	return nil
}

func (s *LogSink) Close(context.Context) error { return nil }
