// Package detection orchestrates one scoring step: normalize, match against
// the current registry snapshot, fold into session state, classify, record
// and alert. This is the submitContent entry point every channel
// collaborator calls.
package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vigil/internal/alert"
	"vigil/internal/classify"
	"vigil/internal/domain"
	"vigil/internal/extract"
	"vigil/internal/ports"
	"vigil/internal/registry"
	"vigil/internal/scoring"
	"vigil/internal/session"
)

var (
	ErrInvalidChannel  = errors.New("unknown channel")
	ErrInvalidSequence = errors.New("sequence must be >= 1 for session content")
)

// Service implements ports.Detector.
type Service struct {
	extractors *extract.Set
	reg        *registry.Registry
	agg        *scoring.Aggregator
	policy     classify.Policy
	tracker    *session.Tracker
	ledger     ports.LedgerRepository
	stats      ports.StatisticsRepository
	alerts     *alert.Emitter
	log        *zap.Logger
	now        func() time.Time

	// ledger writes that failed inline; drained by the sweeper so scoring
	// latency never depends on ledger availability
	retry chan *domain.DetectionEvent
}

func New(
	extractors *extract.Set,
	reg *registry.Registry,
	agg *scoring.Aggregator,
	policy classify.Policy,
	tracker *session.Tracker,
	ledger ports.LedgerRepository,
	stats ports.StatisticsRepository,
	alerts *alert.Emitter,
	log *zap.Logger,
) *Service {
	return &Service{
		extractors: extractors,
		reg:        reg,
		agg:        agg,
		policy:     policy,
		tracker:    tracker,
		ledger:     ledger,
		stats:      stats,
		alerts:     alerts,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
		retry:      make(chan *domain.DetectionEvent, 256),
	}
}

// Submit scores one content unit. The caller always gets a DetectionEvent
// for scoreable input, even degraded; hard errors are limited to closed
// sessions, sequence gaps and malformed requests.
func (s *Service) Submit(ctx context.Context, raw ports.RawContent) (*domain.DetectionEvent, error) {
	if !raw.Channel.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, raw.Channel)
	}
	if raw.SessionID != "" && raw.Sequence < 1 {
		return nil, ErrInvalidSequence
	}

	c, err := s.extractors.Normalize(raw)
	if err != nil {
		var xerr *domain.ExtractionError
		if !errors.As(err, &xerr) {
			return nil, err
		}
		// non-fatal: score with zero signal, keep the sequence advancing
		c.Degraded = true
		s.log.Warn("detection: extraction degraded", zap.String("channel", string(raw.Channel)), zap.Error(err))
	}

	if c.SessionID == "" {
		return s.oneShot(ctx, c), nil
	}

	h, err := s.tracker.Acquire(ctx, c.SessionID, c.Channel)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	ev, err := s.step(ctx, h, c)
	if err != nil {
		return nil, err
	}
	s.drainReady(ctx, h)
	return ev, nil
}

// oneShot classifies a sessionless check directly from its own step score.
func (s *Service) oneShot(ctx context.Context, c domain.Content) *domain.DetectionEvent {
	snap := s.reg.Snapshot()
	step, matches := s.agg.Score(snap, c)
	band, action := s.policy.Classify(step, domain.BandNone)
	ev := s.buildEvent(c, step, step, matches, band, action)

	if _, err := s.ledger.Append(ctx, ev); err != nil {
		s.queueRetry(ev, err)
	}
	s.agg.RecordStats(ctx, matches, ev.CreatedAt)
	s.bumpChannel(ctx, ev)
	if band != domain.BandNone {
		s.emit(ctx, c, band, domain.BandNone, action, matches)
	}
	return ev
}

// step runs one admitted unit through scoring while holding the session
// lock. The ledger append happens before any session mutation so a replayed
// (sessionID, sequence) key is a strict no-op.
func (s *Service) step(ctx context.Context, h *session.Handle, c domain.Content) (*domain.DetectionEvent, error) {
	adm, err := h.Gate(c)
	if err != nil {
		return nil, err
	}
	if adm == session.AdmitDuplicate {
		stored, gerr := s.ledger.GetBySequence(ctx, c.SessionID, c.Sequence)
		if gerr != nil {
			return nil, fmt.Errorf("duplicate sequence %d: %w", c.Sequence, gerr)
		}
		return stored, nil
	}

	snap := s.reg.Snapshot()
	step, matches := s.agg.Score(snap, c)

	sess := h.Session()
	cum := sess.CumulativeScore + step
	if cum > 100 {
		cum = 100
	}
	band, action := s.policy.Classify(cum, sess.MaxBand)
	ev := s.buildEvent(c, step, cum, matches, band, action)

	inserted, err := s.ledger.Append(ctx, ev)
	if err != nil {
		// event stands; the write is retried asynchronously
		s.queueRetry(ev, err)
		inserted = true
	}
	if !inserted {
		stored, gerr := s.ledger.GetBySequence(ctx, c.SessionID, c.Sequence)
		if gerr != nil {
			return nil, fmt.Errorf("duplicate sequence %d: %w", c.Sequence, gerr)
		}
		return stored, nil
	}

	h.Apply(c.Sequence, step)
	prev, transition := h.SetBand(band)
	if perr := h.Persist(ctx); perr != nil {
		s.log.Warn("detection: session persist failed", zap.String("session_id", c.SessionID), zap.Error(perr))
	}
	s.agg.RecordStats(ctx, matches, ev.CreatedAt)
	s.bumpChannel(ctx, ev)
	if transition {
		s.emit(ctx, c, band, prev, action, matches)
	}
	return ev, nil
}

// drainReady scores buffered units whose gap just resolved, in order.
func (s *Service) drainReady(ctx context.Context, h *session.Handle) {
	for _, r := range h.TakeReady() {
		if _, err := s.step(ctx, h, r); err != nil {
			s.log.Warn("detection: buffered unit failed",
				zap.String("session_id", r.SessionID), zap.Int64("sequence", r.Sequence), zap.Error(err))
		}
	}
}

// ResolveGaps fills expired sequence gaps with synthetic zero-score events
// and then scores the buffered units. Called by the sweeper.
func (s *Service) ResolveGaps(ctx context.Context, sessionID string) {
	h, err := s.tracker.Acquire(ctx, sessionID, "")
	if err != nil {
		return
	}
	defer h.Release()

	for _, seq := range h.ExpiredMissing(s.now()) {
		filler := domain.Content{
			Channel:   h.Session().Channel,
			SessionID: sessionID,
			Sequence:  seq,
			Degraded:  true,
			Synthetic: true,
			Timestamp: s.now(),
		}
		if _, err := s.step(ctx, h, filler); err != nil {
			s.log.Warn("detection: gap fill failed",
				zap.String("session_id", sessionID), zap.Int64("sequence", seq), zap.Error(err))
			return
		}
	}
	s.drainReady(ctx, h)
}

// GapSessions lists sessions holding buffered out-of-order units.
func (s *Service) GapSessions() []string { return s.tracker.GapSessions() }

// GetSession reports live state plus the event history from the ledger.
func (s *Service) GetSession(ctx context.Context, sessionID string) (domain.Session, []domain.DetectionEvent, error) {
	sess, found, err := s.tracker.Get(ctx, sessionID)
	if err != nil {
		return domain.Session{}, nil, err
	}
	if !found {
		return domain.Session{}, nil, ErrSessionNotFound
	}
	history, err := s.ledger.History(ctx, sessionID)
	if err != nil {
		return sess, nil, err
	}
	return sess, history, nil
}

var ErrSessionNotFound = errors.New("session not found")

// CloseSession terminates the session; in-flight scoring finishes first.
func (s *Service) CloseSession(ctx context.Context, sessionID string) error {
	return s.tracker.Close(ctx, sessionID)
}

// SweepIdle auto-closes idle sessions.
func (s *Service) SweepIdle(ctx context.Context, now time.Time) []domain.Session {
	return s.tracker.SweepIdle(ctx, now)
}

// DrainRetries replays queued ledger writes. Bounded per call so the sweeper
// tick stays short.
func (s *Service) DrainRetries(ctx context.Context) {
	for i := 0; i < 64; i++ {
		select {
		case ev := <-s.retry:
			if _, err := s.ledger.Append(ctx, ev); err != nil {
				s.queueRetry(ev, err)
				return
			}
		default:
			return
		}
	}
}

func (s *Service) buildEvent(c domain.Content, step, cum float64, matches []domain.MatchResult, band domain.Band, action domain.Action) *domain.DetectionEvent {
	return &domain.DetectionEvent{
		ID:              uuid.NewString(),
		Channel:         c.Channel,
		SessionID:       c.SessionID,
		Sequence:        c.Sequence,
		Score:           step,
		CumulativeScore: cum,
		Matches:         matches,
		Band:            band,
		Action:          action,
		Recommendation:  classify.Recommendation(action),
		Degraded:        c.Degraded,
		Synthetic:       c.Synthetic,
		CreatedAt:       s.now(),
	}
}

func (s *Service) bumpChannel(ctx context.Context, ev *domain.DetectionEvent) {
	threat := ev.Band.AtLeast(domain.BandHigh)
	block := ev.Action == domain.ActionRecommendBlock || ev.Action == domain.ActionBlock
	if err := s.stats.BumpChannel(ctx, ev.Channel, threat, block, ev.CreatedAt); err != nil {
		s.log.Warn("detection: channel statistic bump failed", zap.Error(err))
	}
}

func (s *Service) emit(ctx context.Context, c domain.Content, band, prev domain.Band, action domain.Action, matches []domain.MatchResult) {
	s.alerts.Emit(ctx, &domain.Alert{
		SessionID: c.SessionID,
		Channel:   c.Channel,
		Band:      band,
		PrevBand:  prev,
		Action:    action,
		Matches:   matches,
		Timestamp: s.now(),
	})
}

func (s *Service) queueRetry(ev *domain.DetectionEvent, cause error) {
	s.log.Warn("detection: ledger append failed, queueing retry",
		zap.String("event_id", ev.ID), zap.Error(cause))
	select {
	case s.retry <- ev:
	default:
		s.log.Error("detection: retry queue full, event not persisted", zap.String("event_id", ev.ID))
	}
}
