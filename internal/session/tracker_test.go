package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigil/internal/adapters/memory"
	"vigil/internal/domain"
	"vigil/internal/ports"
)

func newTestTracker(t *testing.T) (*Tracker, *memory.Store, *time.Time) {
	t.Helper()
	store := memory.NewStore()
	tr := NewTracker(DefaultConfig, store, zap.NewNop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	return tr, store, &now
}

func unit(id string, seq int64) domain.Content {
	return domain.Content{Channel: domain.ChannelCall, SessionID: id, Sequence: seq, Text: "x"}
}

func TestAcquireCreatesOpenSession(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	h, err := tr.Acquire(context.Background(), "s1", domain.ChannelCall)
	require.NoError(t, err)
	defer h.Release()

	s := h.Session()
	assert.Equal(t, domain.SessionOpen, s.State)
	assert.Equal(t, domain.BandNone, s.CurrentBand)
	assert.Equal(t, 0.0, s.CumulativeScore)
}

func TestGateAnchorsOnFirstUnit(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	h, err := tr.Acquire(context.Background(), "s1", domain.ChannelCall)
	require.NoError(t, err)
	defer h.Release()

	// any starting sequence anchors the cursor
	adm, err := h.Gate(unit("s1", 5))
	require.NoError(t, err)
	assert.Equal(t, AdmitNew, adm)
	h.Apply(5, 10)

	adm, err = h.Gate(unit("s1", 6))
	require.NoError(t, err)
	assert.Equal(t, AdmitNew, adm)
}

func TestGateDuplicateAndGap(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	h, err := tr.Acquire(context.Background(), "s1", domain.ChannelCall)
	require.NoError(t, err)
	defer h.Release()

	_, err = h.Gate(unit("s1", 1))
	require.NoError(t, err)
	h.Apply(1, 0)

	adm, err := h.Gate(unit("s1", 1))
	require.NoError(t, err)
	assert.Equal(t, AdmitDuplicate, adm, "replay of a scored sequence")

	_, err = h.Gate(unit("s1", 4))
	var gap *domain.SequenceGapError
	require.ErrorAs(t, err, &gap)
	assert.Equal(t, int64(2), gap.Expected)
	assert.Equal(t, int64(4), gap.Got)
}

func TestTakeReadyDrainsConsecutiveBuffer(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	h, err := tr.Acquire(context.Background(), "s1", domain.ChannelCall)
	require.NoError(t, err)
	defer h.Release()

	_, err = h.Gate(unit("s1", 1))
	require.NoError(t, err)
	h.Apply(1, 0)

	_, _ = h.Gate(unit("s1", 3)) // buffered
	_, _ = h.Gate(unit("s1", 4)) // buffered

	assert.Empty(t, h.TakeReady(), "nothing ready while 2 is missing")

	_, err = h.Gate(unit("s1", 2))
	require.NoError(t, err)
	h.Apply(2, 0)

	ready := h.TakeReady()
	require.Len(t, ready, 2)
	assert.Equal(t, int64(3), ready[0].Sequence)
	assert.Equal(t, int64(4), ready[1].Sequence)
}

func TestExpiredMissing(t *testing.T) {
	tr, _, now := newTestTracker(t)
	h, err := tr.Acquire(context.Background(), "s1", domain.ChannelCall)
	require.NoError(t, err)
	defer h.Release()

	_, err = h.Gate(unit("s1", 1))
	require.NoError(t, err)
	h.Apply(1, 0)
	_, _ = h.Gate(unit("s1", 5))

	assert.Empty(t, h.ExpiredMissing(*now), "gap not old enough yet")

	later := now.Add(DefaultConfig.GapWait + time.Second)
	missing := h.ExpiredMissing(later)
	assert.Equal(t, []int64{2, 3, 4}, missing)
}

func TestApplyCapsCumulativeScore(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	h, err := tr.Acquire(context.Background(), "s1", domain.ChannelCall)
	require.NoError(t, err)
	defer h.Release()

	_, _ = h.Gate(unit("s1", 1))
	s := h.Apply(1, 70)
	assert.Equal(t, 70.0, s.CumulativeScore)
	assert.Equal(t, domain.SessionScoring, s.State)

	_, _ = h.Gate(unit("s1", 2))
	s = h.Apply(2, 70)
	assert.Equal(t, 100.0, s.CumulativeScore)
}

func TestSetBandTransitionsAndEscalation(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	h, err := tr.Acquire(context.Background(), "s1", domain.ChannelCall)
	require.NoError(t, err)
	defer h.Release()

	prev, transition := h.SetBand(domain.BandLow)
	assert.Equal(t, domain.BandNone, prev)
	assert.True(t, transition, "first classification counts as a transition")

	_, transition = h.SetBand(domain.BandLow)
	assert.False(t, transition)

	_, transition = h.SetBand(domain.BandHigh)
	assert.True(t, transition)
	assert.Equal(t, domain.SessionEscalated, h.Session().State)
	assert.Equal(t, domain.BandHigh, h.Session().MaxBand)

	// MaxBand is a high-water mark
	h.SetBand(domain.BandMedium)
	assert.Equal(t, domain.BandHigh, h.Session().MaxBand)
}

func TestCloseRejectsNewContent(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	h, err := tr.Acquire(ctx, "s1", domain.ChannelCall)
	require.NoError(t, err)
	h.Release()

	require.NoError(t, tr.Close(ctx, "s1"))
	require.NoError(t, tr.Close(ctx, "s1"), "close is idempotent")

	_, err = tr.Acquire(ctx, "s1", domain.ChannelCall)
	var closed *domain.SessionClosedError
	require.ErrorAs(t, err, &closed)
}

type flakyRepo struct {
	ports.SessionRepository
	getErr error
}

func (f *flakyRepo) Get(ctx context.Context, id string) (domain.Session, bool, error) {
	if f.getErr != nil {
		return domain.Session{}, false, f.getErr
	}
	return f.SessionRepository.Get(ctx, id)
}

func TestAcquireRepoErrorDoesNotResurrect(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	// a session that escalated, persisted and closed in a previous run
	tr := NewTracker(DefaultConfig, store, zap.NewNop())
	h, err := tr.Acquire(ctx, "s1", domain.ChannelCall)
	require.NoError(t, err)
	_, _ = h.Gate(unit("s1", 1))
	h.Apply(1, 50)
	require.NoError(t, h.Persist(ctx))
	h.Release()
	require.NoError(t, tr.Close(ctx, "s1"))

	// fresh tracker, storage down: acquisition fails outright instead of
	// minting an Open session with score zero over the closed row
	flaky := &flakyRepo{SessionRepository: store, getErr: errors.New("db down")}
	tr2 := NewTracker(DefaultConfig, flaky, zap.NewNop())
	_, err = tr2.Acquire(ctx, "s1", domain.ChannelCall)
	require.ErrorContains(t, err, "db down")

	// storage recovers: the closed state is still honored
	flaky.getErr = nil
	_, err = tr2.Acquire(ctx, "s1", domain.ChannelCall)
	var closed *domain.SessionClosedError
	require.ErrorAs(t, err, &closed)

	stored, found, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.SessionClosed, stored.State)
	assert.Equal(t, 50.0, stored.CumulativeScore)
}

func TestAcquireResurrectsStoredSession(t *testing.T) {
	tr, store, _ := newTestTracker(t)
	ctx := context.Background()

	h, err := tr.Acquire(ctx, "s1", domain.ChannelSMS)
	require.NoError(t, err)
	_, _ = h.Gate(unit("s1", 1))
	h.Apply(1, 42)
	require.NoError(t, h.Persist(ctx))
	h.Release()

	// a fresh tracker finds the persisted state
	tr2 := NewTracker(DefaultConfig, store, zap.NewNop())
	h2, err := tr2.Acquire(ctx, "s1", domain.ChannelSMS)
	require.NoError(t, err)
	defer h2.Release()
	assert.Equal(t, 42.0, h2.Session().CumulativeScore)
}

func TestSweepIdle(t *testing.T) {
	tr, _, now := newTestTracker(t)
	ctx := context.Background()

	h, err := tr.Acquire(ctx, "idle", domain.ChannelCall)
	require.NoError(t, err)
	_, _ = h.Gate(unit("idle", 1))
	h.Apply(1, 0)
	h.Release()

	closed := tr.SweepIdle(ctx, now.Add(time.Minute))
	assert.Empty(t, closed, "still inside the idle window")

	closed = tr.SweepIdle(ctx, now.Add(DefaultConfig.IdleTimeout+time.Minute))
	require.Len(t, closed, 1)
	assert.Equal(t, "idle", closed[0].ID)
	assert.Equal(t, domain.SessionClosed, closed[0].State)

	// a second sweep past another window evicts the closed entry
	tr.SweepIdle(ctx, now.Add(3*DefaultConfig.IdleTimeout))
	tr.mu.Lock()
	_, still := tr.sessions["idle"]
	tr.mu.Unlock()
	assert.False(t, still)
}

func TestGapSessions(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	h, err := tr.Acquire(ctx, "gappy", domain.ChannelCall)
	require.NoError(t, err)
	_, _ = h.Gate(unit("gappy", 1))
	h.Apply(1, 0)
	_, _ = h.Gate(unit("gappy", 3))
	h.Release()

	h2, err := tr.Acquire(ctx, "clean", domain.ChannelCall)
	require.NoError(t, err)
	h2.Release()

	assert.Equal(t, []string{"gappy"}, tr.GapSessions())
}
