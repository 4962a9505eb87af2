// Package memory provides in-memory repository implementations used by tests
// and by local runs without DATABASE_URL. Semantics mirror the postgres
// adapter, including idempotent ledger appends.
package memory

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"vigil/internal/domain"
	"vigil/internal/ports"
)

var ErrNotFound = errors.New("not found")

// Store implements every repository port over process-local maps.
type Store struct {
	mu sync.Mutex

	signatures map[string]domain.Signature

	events   []domain.DetectionEvent
	eventKey map[string]int // "sessionID\x00sequence" -> index into events

	sessions map[string]domain.Session

	sigStats  map[string]domain.SignatureStatistic
	chanStats map[domain.Channel]domain.ChannelStatistic
}

func NewStore() *Store {
	return &Store{
		signatures: map[string]domain.Signature{},
		eventKey:   map[string]int{},
		sessions:   map[string]domain.Session{},
		sigStats:   map[string]domain.SignatureStatistic{},
		chanStats:  map[domain.Channel]domain.ChannelStatistic{},
	}
}

// SignatureRepository

func (s *Store) Upsert(_ context.Context, sig domain.Signature) (domain.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signatures[sig.ID] = sig
	return sig, nil
}

func (s *Store) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signatures[id]
	if !ok {
		return ErrNotFound
	}
	sig.Active = false
	sig.UpdatedAt = time.Now().UTC()
	s.signatures[id] = sig
	return nil
}

func (s *Store) List(_ context.Context, f ports.SignatureFilter) ([]domain.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Signature
	for _, sig := range s.signatures {
		if f.Category != "" && sig.Category != f.Category {
			continue
		}
		if f.Language != "" && !strings.EqualFold(sig.Language, f.Language) {
			continue
		}
		if f.Region != "" && !strings.EqualFold(sig.Region, f.Region) {
			continue
		}
		if f.Active != nil && sig.Active != *f.Active {
			continue
		}
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) All(ctx context.Context) ([]domain.Signature, error) {
	return s.List(ctx, ports.SignatureFilter{})
}

// LedgerRepository

func ledgerKey(sessionID string, seq int64) string {
	return sessionID + "\x00" + strconv.FormatInt(seq, 10)
}

func (s *Store) Append(_ context.Context, ev *domain.DetectionEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.SessionID != "" {
		key := ledgerKey(ev.SessionID, ev.Sequence)
		if _, dup := s.eventKey[key]; dup {
			return false, nil
		}
		s.eventKey[key] = len(s.events)
	}
	s.events = append(s.events, *ev)
	return true, nil
}

func (s *Store) GetBySequence(_ context.Context, sessionID string, seq int64) (*domain.DetectionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.eventKey[ledgerKey(sessionID, seq)]
	if !ok {
		return nil, ErrNotFound
	}
	ev := s.events[idx]
	return &ev, nil
}

func (s *Store) History(_ context.Context, sessionID string) ([]domain.DetectionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DetectionEvent
	for _, ev := range s.events {
		if ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *Store) BandDistribution(_ context.Context, from, to time.Time) (map[domain.Band]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[domain.Band]int64{}
	for _, ev := range s.events {
		if (from.IsZero() || !ev.CreatedAt.Before(from)) && (to.IsZero() || ev.CreatedAt.Before(to)) {
			out[ev.Band]++
		}
	}
	return out, nil
}

// SessionRepository

func (s *Store) Save(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Store) Get(_ context.Context, id string) (domain.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok, nil
}

// StatisticsRepository

func (s *Store) BumpSignatures(_ context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		st := s.sigStats[id]
		st.SignatureID = id
		st.OccurrenceCount++
		st.LastSeenAt = at
		s.sigStats[id] = st
	}
	return nil
}

func (s *Store) BumpChannel(_ context.Context, ch domain.Channel, threat, block bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.chanStats[ch]
	st.Channel = ch
	st.Scored++
	st.LastScoredAt = at
	if threat {
		st.Threats++
		t := at
		st.LastThreatAt = &t
	}
	if block {
		st.Blocks++
	}
	s.chanStats[ch] = st
	return nil
}

func (s *Store) SignatureStats(_ context.Context) ([]domain.SignatureStatistic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SignatureStatistic, 0, len(s.sigStats))
	for _, st := range s.sigStats {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignatureID < out[j].SignatureID })
	return out, nil
}

func (s *Store) ChannelStats(_ context.Context) ([]domain.ChannelStatistic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChannelStatistic, 0, len(s.chanStats))
	for _, ch := range domain.Channels {
		if st, ok := s.chanStats[ch]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}
