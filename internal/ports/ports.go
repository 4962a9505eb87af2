package ports

import (
	"context"
	"time"

	"vigil/internal/domain"
)

// RawContent is the channel collaborators' submission before normalization.
type RawContent struct {
	Channel   domain.Channel
	SessionID string
	Sequence  int64
	Text      string
	Language  string
	Region    string
	Metadata  map[string]string
	Timestamp time.Time
}

// Detector scores content units and tracks sessions.
type Detector interface {
	Submit(ctx context.Context, raw RawContent) (*domain.DetectionEvent, error)
	GetSession(ctx context.Context, sessionID string) (domain.Session, []domain.DetectionEvent, error)
	CloseSession(ctx context.Context, sessionID string) error
}

// SignatureFilter narrows registry listings.
type SignatureFilter struct {
	Category domain.Category
	Language string
	Region   string
	Active   *bool
}

// RegistryAdmin manages the signature library.
type RegistryAdmin interface {
	Upsert(ctx context.Context, sig domain.Signature) (domain.Signature, error)
	Deactivate(ctx context.Context, id string) error
	List(ctx context.Context, f SignatureFilter) ([]domain.Signature, error)
	Reload(ctx context.Context) (version int64, quarantined int, err error)
}

// StatisticsReader exports counters to the reporting collaborator.
type StatisticsReader interface {
	SignatureStats(ctx context.Context) ([]domain.SignatureStatistic, error)
	ChannelStats(ctx context.Context) ([]domain.ChannelStatistic, error)
	BandDistribution(ctx context.Context, from, to time.Time) (map[domain.Band]int64, error)
}
