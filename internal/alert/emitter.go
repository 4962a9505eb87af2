// Package alert buffers band-transition alerts and delivers them to
// configured sinks off the scoring path.
package alert

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"vigil/internal/domain"
)

// Sink consumes alerts (log, webhook, websocket stream, ...).
type Sink interface {
	Name() string
	Deliver(ctx context.Context, a *domain.Alert) error
	Close(ctx context.Context) error
}

// Metrics holds delivery counters.
type Metrics struct {
	enqueued uint64
	dropped  uint64

	sinkSuccess map[string]uint64
	sinkFailure map[string]uint64
}

func (m *Metrics) Enqueued() uint64 { return m.enqueued }
func (m *Metrics) Dropped() uint64  { return m.dropped }
func (m *Metrics) SinkSuccess(name string) uint64 {
	if m == nil {
		return 0
	}
	return m.sinkSuccess[name]
}
func (m *Metrics) SinkFailure(name string) uint64 {
	if m == nil {
		return 0
	}
	return m.sinkFailure[name]
}

// Snapshot copies the counters for observation.
func (m *Metrics) Snapshot() Metrics {
	if m == nil {
		return Metrics{}
	}
	out := Metrics{
		enqueued:    m.enqueued,
		dropped:     m.dropped,
		sinkSuccess: make(map[string]uint64, len(m.sinkSuccess)),
		sinkFailure: make(map[string]uint64, len(m.sinkFailure)),
	}
	for k, v := range m.sinkSuccess {
		out.sinkSuccess[k] = v
	}
	for k, v := range m.sinkFailure {
		out.sinkFailure[k] = v
	}
	return out
}

// Config sizes the emitter.
type Config struct {
	QueueSize       int
	Workers         int
	ShutdownTimeout time.Duration
}

// Emitter fans alerts out to sinks via a bounded queue; a full queue drops
// rather than blocking live scoring.
type Emitter struct {
	queue           chan *domain.Alert
	sinks           []Sink
	metrics         *Metrics
	shutdownTimeout time.Duration
	log             *zap.Logger

	mu        sync.RWMutex
	metricsMu sync.Mutex
	closed    bool
	wg        sync.WaitGroup
}

// NewEmitter starts delivery workers for the provided sinks.
func NewEmitter(cfg Config, sinks []Sink, log *zap.Logger) *Emitter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}

	m := &Metrics{
		sinkSuccess: make(map[string]uint64, len(sinks)),
		sinkFailure: make(map[string]uint64, len(sinks)),
	}
	for _, s := range sinks {
		m.sinkSuccess[s.Name()] = 0
		m.sinkFailure[s.Name()] = 0
	}

	em := &Emitter{
		queue:           make(chan *domain.Alert, cfg.QueueSize),
		sinks:           sinks,
		metrics:         m,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             log,
	}
	for i := 0; i < cfg.Workers; i++ {
		em.wg.Add(1)
		go em.worker()
	}
	return em
}

// Emit enqueues without blocking the scoring path.
func (e *Emitter) Emit(ctx context.Context, a *domain.Alert) {
	if e == nil || a == nil {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.count(func(m *Metrics) { m.dropped++ })
		return
	}
	select {
	case e.queue <- a:
		e.count(func(m *Metrics) { m.enqueued++ })
	default:
		e.count(func(m *Metrics) { m.dropped++ })
	}
}

// Close stops intake and drains the queue briefly.
func (e *Emitter) Close(ctx context.Context) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	waitCtx := ctx
	if waitCtx == nil {
		waitCtx = context.Background()
	}
	var cancel context.CancelFunc
	waitCtx, cancel = context.WithTimeout(waitCtx, e.shutdownTimeout)
	defer cancel()

	select {
	case <-done:
	case <-waitCtx.Done():
	}

	for _, s := range e.sinks {
		if err := s.Close(waitCtx); err != nil {
			e.log.Warn("alert: sink close error", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
}

// MetricsSnapshot safely copies current counters.
func (e *Emitter) MetricsSnapshot() Metrics {
	if e == nil || e.metrics == nil {
		return Metrics{}
	}
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	return e.metrics.Snapshot()
}

func (e *Emitter) count(fn func(*Metrics)) {
	e.metricsMu.Lock()
	fn(e.metrics)
	e.metricsMu.Unlock()
}

func (e *Emitter) worker() {
	defer e.wg.Done()
	for a := range e.queue {
		for _, s := range e.sinks {
			if err := s.Deliver(context.Background(), a); err != nil {
				e.log.Warn("alert: sink delivery failed", zap.String("sink", s.Name()), zap.Error(err))
				e.count(func(m *Metrics) { m.sinkFailure[s.Name()]++ })
				continue
			}
			e.count(func(m *Metrics) { m.sinkSuccess[s.Name()]++ })
		}
	}
}
