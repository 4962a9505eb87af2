// Package sweeper runs the background housekeeping loop: idle-session
// auto-close, expired sequence-gap resolution, and ledger write retries.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vigil/internal/domain"
)

// Detection is the slice of the detection service the sweeper drives.
type Detection interface {
	SweepIdle(ctx context.Context, now time.Time) []domain.Session
	GapSessions() []string
	ResolveGaps(ctx context.Context, sessionID string)
	DrainRetries(ctx context.Context)
}

// Run ticks until the context is cancelled. Callers usually start it in an
// errgroup alongside the HTTP server.
func Run(ctx context.Context, svc Detection, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, id := range svc.GapSessions() {
				svc.ResolveGaps(ctx, id)
			}
			closed := svc.SweepIdle(ctx, now.UTC())
			for _, sess := range closed {
				log.Info("sweeper: closed idle session",
					zap.String("session_id", sess.ID),
					zap.Float64("cumulative_score", sess.CumulativeScore),
					zap.String("band", string(sess.CurrentBand)))
			}
			svc.DrainRetries(ctx)
		}
	}
}
