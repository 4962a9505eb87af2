package alert

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigil/internal/domain"
)

type stubSink struct {
	name      string
	fail      bool
	delivered atomic.Int64
	block     chan struct{}
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Deliver(context.Context, *domain.Alert) error {
	if s.block != nil {
		<-s.block
	}
	s.delivered.Add(1)
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *stubSink) Close(context.Context) error { return nil }

func testAlert() *domain.Alert {
	return &domain.Alert{
		SessionID: "s1",
		Channel:   domain.ChannelCall,
		Band:      domain.BandMedium,
		PrevBand:  domain.BandLow,
		Action:    domain.ActionWarn,
		Timestamp: time.Now().UTC(),
	}
}

func TestEmitterDeliversToAllSinks(t *testing.T) {
	a := &stubSink{name: "a"}
	b := &stubSink{name: "b"}
	e := NewEmitter(Config{QueueSize: 8, Workers: 1}, []Sink{a, b}, zap.NewNop())

	e.Emit(context.Background(), testAlert())
	e.Emit(context.Background(), testAlert())
	e.Close(context.Background())

	assert.Equal(t, int64(2), a.delivered.Load())
	assert.Equal(t, int64(2), b.delivered.Load())

	m := e.MetricsSnapshot()
	assert.Equal(t, uint64(2), m.Enqueued())
	assert.Equal(t, uint64(0), m.Dropped())
	assert.Equal(t, uint64(2), m.SinkSuccess("a"))
	assert.Equal(t, uint64(2), m.SinkSuccess("b"))
}

func TestEmitterCountsSinkFailures(t *testing.T) {
	bad := &stubSink{name: "bad", fail: true}
	good := &stubSink{name: "good"}
	e := NewEmitter(Config{QueueSize: 8, Workers: 1}, []Sink{bad, good}, zap.NewNop())

	e.Emit(context.Background(), testAlert())
	e.Close(context.Background())

	m := e.MetricsSnapshot()
	assert.Equal(t, uint64(1), m.SinkFailure("bad"))
	assert.Equal(t, uint64(1), m.SinkSuccess("good"), "one failing sink must not starve the others")
}

func TestEmitterDropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	slow := &stubSink{name: "slow", block: block}
	e := NewEmitter(Config{QueueSize: 1, Workers: 1, ShutdownTimeout: 200 * time.Millisecond}, []Sink{slow}, zap.NewNop())

	// worker blocks on the first alert, queue holds one more, rest drop
	for i := 0; i < 5; i++ {
		e.Emit(context.Background(), testAlert())
	}
	m := e.MetricsSnapshot()
	assert.Equal(t, uint64(5), m.Enqueued()+m.Dropped())
	assert.GreaterOrEqual(t, m.Dropped(), uint64(3))

	close(block)
	e.Close(context.Background())
}

func TestEmitterEmitAfterCloseDrops(t *testing.T) {
	e := NewEmitter(Config{QueueSize: 8, Workers: 1}, nil, zap.NewNop())
	e.Close(context.Background())
	e.Emit(context.Background(), testAlert())
	m := e.MetricsSnapshot()
	assert.Equal(t, uint64(1), m.Dropped())
}

func TestLogSink(t *testing.T) {
	s := NewLogSink(zap.NewNop())
	require.NoError(t, s.Deliver(context.Background(), testAlert()))
	require.NoError(t, s.Close(context.Background()))
}

func TestWebhookSinkDelivers(t *testing.T) {
	var mu sync.Mutex
	var got webhookPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(srv.URL, map[string]string{"Authorization": "Bearer t"}, time.Second)
	require.NoError(t, err)

	require.NoError(t, sink.Deliver(context.Background(), testAlert()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer t", auth)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, domain.BandMedium, got.Band)
}

func TestWebhookSinkRetriesThenFails(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(srv.URL, nil, time.Second)
	require.NoError(t, err)

	err = sink.Deliver(context.Background(), testAlert())
	require.Error(t, err)
	assert.Equal(t, int64(3), calls.Load(), "initial attempt plus two retries")
}

func TestWebhookSinkRequiresURL(t *testing.T) {
	_, err := NewWebhookSink("", nil, time.Second)
	require.Error(t, err)
}
