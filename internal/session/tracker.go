// Package session maintains per-conversation scoring state. Each session is
// serialized through its own lock; sessions never share state beyond the
// registry snapshot, so scoring different sessions never contends.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"vigil/internal/domain"
	"vigil/internal/ports"
)

// Config bounds session behavior.
type Config struct {
	IdleTimeout time.Duration // no new content for this long closes the session
	GapWait     time.Duration // how long an out-of-order unit may wait for its gap
	GapBuffer   int           // max buffered out-of-order units per session
}

// DefaultConfig matches the shipped policy file defaults.
var DefaultConfig = Config{
	IdleTimeout: 10 * time.Minute,
	GapWait:     3 * time.Second,
	GapBuffer:   16,
}

// Admission is the gate decision for a content unit.
type Admission int

const (
	// AdmitNew means the unit is next in sequence and must be scored.
	AdmitNew Admission = iota
	// AdmitDuplicate means the (session, sequence) key was already scored;
	// the caller returns the stored event untouched.
	AdmitDuplicate
)

type entry struct {
	mu       sync.Mutex
	sess     domain.Session
	nextSeq  int64 // 0 = not anchored yet; first admitted unit sets it
	buffered map[int64]domain.Content
	gapSince time.Time
}

// Tracker owns all live sessions.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*entry
	repo     ports.SessionRepository
	cfg      Config
	now      func() time.Time
	log      *zap.Logger
}

func NewTracker(cfg Config, repo ports.SessionRepository, log *zap.Logger) *Tracker {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig.IdleTimeout
	}
	if cfg.GapWait <= 0 {
		cfg.GapWait = DefaultConfig.GapWait
	}
	if cfg.GapBuffer <= 0 {
		cfg.GapBuffer = DefaultConfig.GapBuffer
	}
	return &Tracker{
		sessions: map[string]*entry{},
		repo:     repo,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// Handle is an acquired, locked session. Callers must Release it.
type Handle struct {
	t *Tracker
	e *entry
}

// Acquire loads or creates the session and takes its lock. Closed sessions
// reject acquisition with SessionClosedError.
func (t *Tracker) Acquire(ctx context.Context, id string, ch domain.Channel) (*Handle, error) {
	t.mu.Lock()
	e, ok := t.sessions[id]
	if !ok {
		// a repo failure must not mint a fresh Open session: the durable row
		// may be Closed or carry a higher cumulative score
		stored, found, err := t.repo.Get(ctx, id)
		if err != nil {
			t.mu.Unlock()
			return nil, err
		}
		e = &entry{buffered: map[int64]domain.Content{}}
		if found {
			e.sess = stored
		} else {
			now := t.now()
			e.sess = domain.Session{
				ID:          id,
				Channel:     ch,
				State:       domain.SessionOpen,
				CurrentBand: domain.BandNone,
				MaxBand:     domain.BandNone,
				OpenedAt:    now,
				LastSeenAt:  now,
			}
		}
		t.sessions[id] = e
	}
	t.mu.Unlock()

	e.mu.Lock()
	if e.sess.State == domain.SessionClosed {
		e.mu.Unlock()
		return nil, &domain.SessionClosedError{SessionID: id}
	}
	return &Handle{t: t, e: e}, nil
}

func (h *Handle) Release() { h.e.mu.Unlock() }

// Session returns a copy of the current state.
func (h *Handle) Session() domain.Session { return h.e.sess }

// Gate decides how the unit at the given sequence is handled. Out-of-order
// units are buffered (bounded) and reported as a SequenceGapError; they are
// not silently reordered.
func (h *Handle) Gate(c domain.Content) (Admission, error) {
	e := h.e
	if e.nextSeq == 0 {
		// first unit anchors the sequence for this session
		return AdmitNew, nil
	}
	switch {
	case c.Sequence < e.nextSeq:
		return AdmitDuplicate, nil
	case c.Sequence == e.nextSeq:
		return AdmitNew, nil
	}
	if len(e.buffered) < h.t.cfg.GapBuffer {
		if _, dup := e.buffered[c.Sequence]; !dup {
			e.buffered[c.Sequence] = c
		}
		if e.gapSince.IsZero() {
			e.gapSince = h.t.now()
		}
	} else {
		h.t.log.Warn("session: gap buffer full, dropping out-of-order unit",
			zap.String("session_id", e.sess.ID), zap.Int64("sequence", c.Sequence))
	}
	return 0, &domain.SequenceGapError{SessionID: e.sess.ID, Expected: e.nextSeq, Got: c.Sequence}
}

// Apply folds a step score into the session: cumulative score is capped at
// 100 and never decreases, the sequence cursor advances, and the state moves
// Open -> Scoring on first content.
func (h *Handle) Apply(seq int64, step float64) domain.Session {
	e := h.e
	e.sess.CumulativeScore += step
	if e.sess.CumulativeScore > 100 {
		e.sess.CumulativeScore = 100
	}
	if e.sess.State == domain.SessionOpen {
		e.sess.State = domain.SessionScoring
	}
	e.nextSeq = seq + 1
	e.sess.LastSeenAt = h.t.now()
	if len(e.buffered) == 0 {
		e.gapSince = time.Time{}
	}
	return e.sess
}

// SetBand records the classified band, returning the previous one and
// whether this step is a band transition (the first classification counts as
// a transition from None). Reaching High escalates the session.
func (h *Handle) SetBand(band domain.Band) (prev domain.Band, transition bool) {
	e := h.e
	prev = e.sess.CurrentBand
	transition = band != prev
	e.sess.CurrentBand = band
	if band.Rank() > e.sess.MaxBand.Rank() {
		e.sess.MaxBand = band
	}
	if e.sess.MaxBand.AtLeast(domain.BandHigh) && e.sess.State != domain.SessionClosed {
		e.sess.State = domain.SessionEscalated
	}
	return prev, transition
}

// TakeReady pops buffered units that are now consecutive with the cursor, in
// order.
func (h *Handle) TakeReady() []domain.Content {
	e := h.e
	var ready []domain.Content
	for {
		c, ok := e.buffered[e.nextSeq+int64(len(ready))]
		if !ok {
			break
		}
		ready = append(ready, c)
	}
	for _, c := range ready {
		delete(e.buffered, c.Sequence)
	}
	if len(e.buffered) == 0 {
		e.gapSince = time.Time{}
	}
	return ready
}

// ExpiredMissing lists the sequences that must be gap-filled with synthetic
// zero-score events because the buffered units waited longer than GapWait.
func (h *Handle) ExpiredMissing(now time.Time) []int64 {
	e := h.e
	if e.gapSince.IsZero() || now.Sub(e.gapSince) < h.t.cfg.GapWait || len(e.buffered) == 0 || e.nextSeq == 0 {
		return nil
	}
	minSeq := int64(-1)
	for seq := range e.buffered {
		if minSeq < 0 || seq < minSeq {
			minSeq = seq
		}
	}
	var missing []int64
	for seq := e.nextSeq; seq < minSeq; seq++ {
		missing = append(missing, seq)
	}
	return missing
}

// Persist mirrors the session to durable storage.
func (h *Handle) Persist(ctx context.Context) error {
	return h.t.repo.Save(ctx, h.e.sess)
}

// Get returns the session if it is live or stored.
func (t *Tracker) Get(ctx context.Context, id string) (domain.Session, bool, error) {
	t.mu.Lock()
	e, ok := t.sessions[id]
	t.mu.Unlock()
	if ok {
		e.mu.Lock()
		s := e.sess
		e.mu.Unlock()
		return s, true, nil
	}
	return t.repo.Get(ctx, id)
}

// Close terminates the session. Scoring already admitted finishes under the
// session lock before this can take it; afterwards no new content is
// admitted.
func (t *Tracker) Close(ctx context.Context, id string) error {
	t.mu.Lock()
	e, ok := t.sessions[id]
	t.mu.Unlock()
	if !ok {
		stored, found, err := t.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return &domain.SessionClosedError{SessionID: id}
		}
		if stored.State == domain.SessionClosed {
			return nil
		}
		t.mu.Lock()
		e = &entry{sess: stored, buffered: map[int64]domain.Content{}}
		t.sessions[id] = e
		t.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.State == domain.SessionClosed {
		return nil
	}
	now := t.now()
	e.sess.State = domain.SessionClosed
	e.sess.ClosedAt = &now
	return t.repo.Save(ctx, e.sess)
}

// SweepIdle closes sessions with no content inside the idle window and
// evicts entries that have been closed for a full window. Returns the
// sessions closed by this pass.
func (t *Tracker) SweepIdle(ctx context.Context, now time.Time) []domain.Session {
	t.mu.Lock()
	entries := make(map[string]*entry, len(t.sessions))
	for id, e := range t.sessions {
		entries[id] = e
	}
	t.mu.Unlock()

	var closed []domain.Session
	var evict []string
	for id, e := range entries {
		e.mu.Lock()
		switch {
		case e.sess.State == domain.SessionClosed:
			if e.sess.ClosedAt != nil && now.Sub(*e.sess.ClosedAt) > t.cfg.IdleTimeout {
				evict = append(evict, id)
			}
		case now.Sub(e.sess.LastSeenAt) > t.cfg.IdleTimeout:
			closedAt := now
			e.sess.State = domain.SessionClosed
			e.sess.ClosedAt = &closedAt
			if err := t.repo.Save(ctx, e.sess); err != nil {
				t.log.Warn("session: sweep persist failed", zap.String("session_id", id), zap.Error(err))
			}
			closed = append(closed, e.sess)
		}
		e.mu.Unlock()
	}

	if len(evict) > 0 {
		t.mu.Lock()
		for _, id := range evict {
			delete(t.sessions, id)
		}
		t.mu.Unlock()
	}
	return closed
}

// GapSessions lists live sessions currently holding buffered out-of-order
// units, for the sweeper to resolve.
func (t *Tracker) GapSessions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for id, e := range t.sessions {
		e.mu.Lock()
		if len(e.buffered) > 0 && e.sess.State != domain.SessionClosed {
			ids = append(ids, id)
		}
		e.mu.Unlock()
	}
	return ids
}
