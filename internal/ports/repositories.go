package ports

import (
	"context"
	"time"

	"vigil/internal/domain"
)

// SignatureRepository persists the signature library backing the registry.
type SignatureRepository interface {
	Upsert(ctx context.Context, sig domain.Signature) (domain.Signature, error)
	Deactivate(ctx context.Context, id string) error
	List(ctx context.Context, f SignatureFilter) ([]domain.Signature, error)
	All(ctx context.Context) ([]domain.Signature, error)
}

// LedgerRepository is the append-only detection event store. Append is
// idempotent on (sessionID, sequence) for session traffic.
type LedgerRepository interface {
	Append(ctx context.Context, ev *domain.DetectionEvent) (inserted bool, err error)
	GetBySequence(ctx context.Context, sessionID string, sequence int64) (*domain.DetectionEvent, error)
	History(ctx context.Context, sessionID string) ([]domain.DetectionEvent, error)
	BandDistribution(ctx context.Context, from, to time.Time) (map[domain.Band]int64, error)
}

// SessionRepository durably mirrors live session state.
type SessionRepository interface {
	Save(ctx context.Context, s domain.Session) error
	Get(ctx context.Context, id string) (domain.Session, bool, error)
}

// StatisticsRepository holds per-signature and per-channel counters.
type StatisticsRepository interface {
	BumpSignatures(ctx context.Context, ids []string, at time.Time) error
	BumpChannel(ctx context.Context, ch domain.Channel, threat, block bool, at time.Time) error
	SignatureStats(ctx context.Context) ([]domain.SignatureStatistic, error)
	ChannelStats(ctx context.Context) ([]domain.ChannelStatistic, error)
}
