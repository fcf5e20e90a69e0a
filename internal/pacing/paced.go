package pacing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/livedb/internal/engine"
	"github.com/roach88/livedb/internal/txn"
)

var Flushes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "livedb",
	Subsystem: "pacing",
	Name:      "flushes_total",
	Help:      "Paced transactions handed to persistence.",
}, []string{"strategy"})

// Collectors returns the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{Flushes}
}

// OnMutateFunc applies the optimistic writes of one call. Collection
// mutations made with ctx join the paced transaction.
type OnMutateFunc[T any] func(ctx context.Context, input T) error

// Config configures a PacedMutations.
type Config[T any] struct {
	OnMutate   OnMutateFunc[T]
	MutationFn txn.MutationFn
	Strategy   Strategy
}

// Option configures a PacedMutations.
type Option func(*pacer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *pacer) {
		p.logger = logger
	}
}

// WithTxnManager sets the manager transactions are created on. It must be
// the manager of the collections OnMutate writes to.
func WithTxnManager(m *txn.Manager) Option {
	return func(p *pacer) {
		p.manager = m
	}
}

// WithTimeSource sets the clock driving windows.
func WithTimeSource(ts engine.TimeSource) Option {
	return func(p *pacer) {
		p.clock = ts
	}
}

// pacer is the state shared by all strategies: the open transaction and the
// single window timer.
type pacer struct {
	ctx     context.Context
	fn      txn.MutationFn
	manager *txn.Manager
	clock   engine.TimeSource
	logger  *slog.Logger

	persisted atomic.Int64

	mu      sync.Mutex
	pending *txn.Transaction
	timer   engine.Timer
	gen     uint64
}

func (p *pacer) newTx() (*txn.Transaction, error) {
	return p.manager.New(p.fn, txn.WithAutoCommit(false))
}

// open returns the pending transaction, creating it when there is none.
func (p *pacer) open() (*txn.Transaction, bool, error) {
	if p.pending != nil {
		return p.pending, false, nil
	}
	tx, err := p.newTx()
	if err != nil {
		return nil, false, err
	}
	p.pending = tx
	return tx, true, nil
}

func (p *pacer) take() []*txn.Transaction {
	tx := p.pending
	p.pending = nil
	if tx == nil {
		return nil
	}
	return []*txn.Transaction{tx}
}

// after rearms the window timer. fn runs locked unless the timer was
// replaced or stopped in the meantime; its result is committed unlocked.
func (p *pacer) after(d time.Duration, fn func() []*txn.Transaction) {
	p.stop()
	gen := p.gen
	p.timer = p.clock.AfterFunc(d, func() {
		p.mu.Lock()
		if gen != p.gen {
			p.mu.Unlock()
			return
		}
		p.timer = nil
		due := fn()
		p.mu.Unlock()
		p.commit(due)
	})
}

func (p *pacer) stop() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.gen++
}

func (p *pacer) commit(txs []*txn.Transaction) {
	for _, tx := range txs {
		if err := tx.CommitAsync(p.ctx); err != nil {
			p.logger.Warn("paced transaction did not commit", "tx", tx.ID(), "error", err)
			continue
		}
		p.persisted.Add(1)
	}
}

// PacedMutations runs mutation calls through a Strategy.
//
// Thread-safety: all methods are safe for concurrent use. Calls are applied
// one at a time in the order they acquire the pacer.
type PacedMutations[T any] struct {
	p        *pacer
	sched    scheduler
	onMutate OnMutateFunc[T]
	strategy Strategy
	closed   bool
}

// New validates cfg and creates a PacedMutations.
func New[T any](cfg Config[T], opts ...Option) (*PacedMutations[T], error) {
	switch {
	case cfg.OnMutate == nil:
		return nil, &Error{Code: ErrCodeInvalidConfig, Message: "OnMutate is required"}
	case cfg.MutationFn == nil:
		return nil, &Error{Code: ErrCodeInvalidConfig, Message: "MutationFn is required"}
	case cfg.Strategy == nil:
		return nil, &Error{Code: ErrCodeInvalidConfig, Message: "Strategy is required"}
	}
	if err := cfg.Strategy.validate(); err != nil {
		return nil, err
	}

	name := cfg.Strategy.Name()
	p := &pacer{
		ctx:     context.Background(),
		manager: txn.Default(),
		clock:   engine.SystemTime{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("strategy", name)
	p.fn = func(ctx context.Context, tx *txn.Transaction) error {
		Flushes.WithLabelValues(name).Inc()
		p.logger.Debug("persisting paced transaction", "tx", tx.ID(), "mutations", len(tx.Mutations()))
		return cfg.MutationFn(ctx, tx)
	}

	return &PacedMutations[T]{
		p:        p,
		sched:    cfg.Strategy.newScheduler(p),
		onMutate: cfg.OnMutate,
		strategy: cfg.Strategy,
	}, nil
}

// Strategy returns the strategy the mutations were created with.
func (m *PacedMutations[T]) Strategy() Strategy {
	return m.strategy
}

// Mutate runs OnMutate for input inside the transaction the strategy picks
// and returns that transaction. Calls merged by the strategy return the same
// transaction. Persistence is observed with the transaction's Wait.
//
// If OnMutate fails on a transaction created for this call, the transaction
// is rolled back. Writes it made to a shared transaction before failing stay.
func (m *PacedMutations[T]) Mutate(ctx context.Context, input T) (*txn.Transaction, error) {
	p := m.p
	p.mu.Lock()
	if m.closed {
		p.mu.Unlock()
		return nil, &Error{Code: ErrCodeClosed, Message: "paced mutations are closed", Strategy: m.strategy.Name()}
	}

	tx, fresh, err := m.sched.join()
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}

	err = tx.Mutate(ctx, func(ctx context.Context) error {
		return m.onMutate(ctx, input)
	})
	if err != nil {
		err = fmt.Errorf("on mutate: %w", err)
	} else {
		var due []*txn.Transaction
		due, err = m.sched.added(tx)
		if err == nil {
			p.mu.Unlock()
			p.commit(due)
			return tx, nil
		}
	}

	if fresh {
		m.sched.discard(tx)
	}
	p.mu.Unlock()

	if fresh {
		_ = tx.Rollback()
	}
	return nil, err
}

// Flush ends any open window and commits the pending transaction now.
// Queued items are not affected.
func (m *PacedMutations[T]) Flush() {
	m.p.mu.Lock()
	due := m.sched.flush()
	m.p.mu.Unlock()
	m.p.commit(due)
}

// Close flushes and rejects later calls. Queued items still persist.
func (m *PacedMutations[T]) Close() {
	m.p.mu.Lock()
	if m.closed {
		m.p.mu.Unlock()
		return
	}
	m.closed = true
	due := m.sched.flush()
	m.p.mu.Unlock()
	m.p.commit(due)
}

// Persisted returns how many transactions were handed to persistence.
func (m *PacedMutations[T]) Persisted() int64 {
	return m.p.persisted.Load()
}
