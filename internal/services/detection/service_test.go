package detection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigil/internal/adapters/memory"
	"vigil/internal/alert"
	"vigil/internal/classify"
	"vigil/internal/domain"
	"vigil/internal/extract"
	"vigil/internal/ports"
	"vigil/internal/registry"
	"vigil/internal/scoring"
	"vigil/internal/session"
)

type captureSink struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Deliver(_ context.Context, a *domain.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, *a)
	return nil
}

func (c *captureSink) Close(context.Context) error { return nil }

func (c *captureSink) taken() []domain.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

type fixture struct {
	svc     *Service
	store   *memory.Store
	reg     *registry.Registry
	emitter *alert.Emitter
	sink    *captureSink
}

// alerts drains the emitter and returns everything delivered so far.
func (f *fixture) alerts() []domain.Alert {
	f.emitter.Close(context.Background())
	return f.sink.taken()
}

func newFixture(t *testing.T, sigs ...domain.Signature) *fixture {
	t.Helper()
	log := zap.NewNop()
	store := memory.NewStore()
	reg := registry.New(log)
	if len(sigs) > 0 {
		_, quarantined := reg.Replace(sigs)
		require.Empty(t, quarantined)
	}
	sink := &captureSink{}
	emitter := alert.NewEmitter(alert.Config{QueueSize: 64, Workers: 1}, []alert.Sink{sink}, log)
	tracker := session.NewTracker(session.DefaultConfig, store, log)
	agg := scoring.New(scoring.DefaultPoints, store, log)
	svc := New(extract.NewSet(), reg, agg, classify.DefaultPolicy(), tracker, store, store, emitter, log)
	return &fixture{svc: svc, store: store, reg: reg, emitter: emitter, sink: sink}
}

func sig(id string, kind domain.MatchKind, pattern string, weight float64) domain.Signature {
	return domain.Signature{
		ID:       id,
		Category: domain.CategoryFraud,
		Kind:     kind,
		Pattern:  pattern,
		Weight:   weight,
		Active:   true,
	}
}

func smsUnit(sessionID string, seq int64, text string) ports.RawContent {
	return ports.RawContent{
		Channel:   domain.ChannelSMS,
		SessionID: sessionID,
		Sequence:  seq,
		Text:      text,
	}
}

func TestSubmitSessionAccumulatesAndAlertsOnTransition(t *testing.T) {
	f := newFixture(t,
		sig("kw-otp", domain.MatchKeyword, "otp", 1.0),
		sig("ph-sendyour", domain.MatchPhrase, "send your", 0.5),
		sig("kw-transfer", domain.MatchKeyword, "transfer", 1.0),
		sig("ph-immediately", domain.MatchPhrase, "immediately", 1.0),
	)
	ctx := context.Background()

	ev1, err := f.svc.Submit(ctx, smsUnit("s1", 1, "send your OTP now"))
	require.NoError(t, err)
	assert.Equal(t, 15.0, ev1.Score)
	assert.Equal(t, 15.0, ev1.CumulativeScore)
	assert.Equal(t, domain.BandNone, ev1.Band)
	require.Len(t, ev1.Matches, 2)

	ev2, err := f.svc.Submit(ctx, smsUnit("s1", 2, "transfer 50000 immediately"))
	require.NoError(t, err)
	assert.Equal(t, 20.0, ev2.Score)
	assert.Equal(t, 35.0, ev2.CumulativeScore)
	assert.Equal(t, domain.BandLow, ev2.Band)
	assert.Equal(t, domain.ActionMonitor, ev2.Action)

	// zero-match chunk still records an event, changes nothing else
	ev3, err := f.svc.Submit(ctx, smsUnit("s1", 3, "see you at lunch"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, ev3.Score)
	assert.Equal(t, 35.0, ev3.CumulativeScore)
	assert.Equal(t, domain.BandLow, ev3.Band)

	history, err := f.store.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 3)

	alerts := f.alerts()
	require.Len(t, alerts, 1, "exactly one band transition")
	assert.Equal(t, domain.BandLow, alerts[0].Band)
	assert.Equal(t, domain.BandNone, alerts[0].PrevBand)
	assert.Equal(t, "s1", alerts[0].SessionID)
}

func TestSubmitDuplicateIsIdempotent(t *testing.T) {
	f := newFixture(t, sig("kw-otp", domain.MatchKeyword, "otp", 1.0))
	ctx := context.Background()

	ev1, err := f.svc.Submit(ctx, smsUnit("s1", 1, "your otp is 1234"))
	require.NoError(t, err)

	// deactivating the signature must not change the replayed outcome
	f.reg.Deactivate("kw-otp")

	ev2, err := f.svc.Submit(ctx, smsUnit("s1", 1, "your otp is 1234"))
	require.NoError(t, err)
	assert.Equal(t, ev1.ID, ev2.ID, "replay returns the stored event")
	assert.Equal(t, ev1.Score, ev2.Score)

	sess, _, err := f.svc.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, sess.CumulativeScore, "replay must not double-count")

	stats, err := f.store.SignatureStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].OccurrenceCount, "replay must not bump counters")
}

func TestSubmitAfterDeactivation(t *testing.T) {
	f := newFixture(t,
		sig("kw-otp", domain.MatchKeyword, "otp", 1.0),
		sig("ph-sendyour", domain.MatchPhrase, "send your", 0.5),
	)
	ctx := context.Background()

	ev1, err := f.svc.Submit(ctx, smsUnit("s1", 1, "send your otp now"))
	require.NoError(t, err)
	assert.Equal(t, 15.0, ev1.Score)

	f.reg.Deactivate("kw-otp")

	// a new sequence scores against the current snapshot
	ev2, err := f.svc.Submit(ctx, smsUnit("s1", 2, "send your otp now"))
	require.NoError(t, err)
	assert.Equal(t, 5.0, ev2.Score)

	// the historical event is untouched
	stored, err := f.store.GetBySequence(ctx, "s1", 1)
	require.NoError(t, err)
	assert.Equal(t, 15.0, stored.Score)
}

func TestSubmitOneShotURL(t *testing.T) {
	f := newFixture(t,
		sig("snd-ip", domain.MatchSender, "ip-literal", 1.6),
		sig("ph-verify", domain.MatchPhrase, "verify", 0.6),
	)
	ctx := context.Background()

	ev, err := f.svc.Submit(ctx, ports.RawContent{
		Channel: domain.ChannelURL,
		Text:    "http://192.168.1.1/login-verify",
	})
	require.NoError(t, err)
	assert.Equal(t, 30.0, ev.Score)
	assert.Equal(t, 30.0, ev.CumulativeScore)
	assert.Equal(t, domain.BandLow, ev.Band)
	assert.Empty(t, ev.SessionID)

	alerts := f.alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.BandLow, alerts[0].Band)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, ports.RawContent{Channel: "fax", Text: "x"})
	require.ErrorIs(t, err, ErrInvalidChannel)

	_, err = f.svc.Submit(ctx, ports.RawContent{Channel: domain.ChannelSMS, SessionID: "s1", Text: "x"})
	require.ErrorIs(t, err, ErrInvalidSequence)
}

func TestSubmitDegradedUnitScoresZero(t *testing.T) {
	f := newFixture(t, sig("kw", domain.MatchKeyword, "otp", 1.0))
	ctx := context.Background()

	ev, err := f.svc.Submit(ctx, smsUnit("s1", 1, "\x00\x01"))
	require.NoError(t, err, "extraction failure degrades, it does not reject")
	assert.True(t, ev.Degraded)
	assert.Equal(t, 0.0, ev.Score)

	// the sequence advanced despite the degraded unit
	ev2, err := f.svc.Submit(ctx, smsUnit("s1", 2, "otp here"))
	require.NoError(t, err)
	assert.Equal(t, 10.0, ev2.Score)
}

func TestSubmitSequenceGapBuffersThenDrains(t *testing.T) {
	f := newFixture(t, sig("kw", domain.MatchKeyword, "otp", 1.0))
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, smsUnit("s1", 1, "hello"))
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, smsUnit("s1", 3, "otp late"))
	var gap *domain.SequenceGapError
	require.ErrorAs(t, err, &gap)

	// the missing unit arrives; the buffered one is scored in the same call
	_, err = f.svc.Submit(ctx, smsUnit("s1", 2, "filler"))
	require.NoError(t, err)

	history, err := f.store.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int64(3), history[2].Sequence)
	assert.Equal(t, 10.0, history[2].Score)

	sess, _, err := f.svc.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, sess.CumulativeScore)
}

func TestResolveGapsWritesSyntheticFillers(t *testing.T) {
	f := newFixture(t, sig("kw", domain.MatchKeyword, "otp", 1.0))
	ctx := context.Background()
	f.svc.now = func() time.Time { return time.Now().UTC().Add(time.Minute) }

	_, err := f.svc.Submit(ctx, smsUnit("s1", 1, "hello"))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, smsUnit("s1", 4, "otp late"))
	var gap *domain.SequenceGapError
	require.ErrorAs(t, err, &gap)

	require.Equal(t, []string{"s1"}, f.svc.GapSessions())
	f.svc.ResolveGaps(ctx, "s1")

	history, err := f.store.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.True(t, history[1].Synthetic, "sequence 2 gap-filled")
	assert.True(t, history[2].Synthetic, "sequence 3 gap-filled")
	assert.Equal(t, 0.0, history[1].Score)
	assert.Equal(t, 10.0, history[3].Score, "buffered unit scored after the fill")
	assert.Empty(t, f.svc.GapSessions())
}

func TestCloseSessionRejectsFurtherContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, smsUnit("s1", 1, "hello"))
	require.NoError(t, err)

	require.NoError(t, f.svc.CloseSession(ctx, "s1"))

	_, err = f.svc.Submit(ctx, smsUnit("s1", 2, "more"))
	var closed *domain.SessionClosedError
	require.ErrorAs(t, err, &closed)
}

func TestGetSessionNotFound(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.GetSession(context.Background(), "nope")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHysteresisAcrossSteps(t *testing.T) {
	f := newFixture(t, sig("kw-heavy", domain.MatchKeyword, "fraudword", 7.0))
	ctx := context.Background()

	// 70 points: band High, session escalates
	ev, err := f.svc.Submit(ctx, smsUnit("s1", 1, "fraudword"))
	require.NoError(t, err)
	assert.Equal(t, domain.BandHigh, ev.Band)

	sess, _, err := f.svc.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionEscalated, sess.State)
	assert.Equal(t, domain.BandHigh, sess.MaxBand)
}
