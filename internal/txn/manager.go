package txn

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/livedb/internal/engine"
)

// Manager creates transactions and tracks the live (pending or persisting)
// ones for rollback cascades and overlay ordering.
//
// Collections and pacing strategies that share rows must share a Manager.
// Most programs use Default().
type Manager struct {
	clock  *engine.Clock
	ids    engine.IDGenerator
	time   engine.TimeSource
	logger *slog.Logger

	mu   sync.Mutex
	live map[string]*Transaction
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithIDGenerator sets the transaction id generator (default UUIDv7).
func WithIDGenerator(gen engine.IDGenerator) ManagerOption {
	return func(m *Manager) {
		m.ids = gen
	}
}

// WithTimeSource sets the source of creation timestamps.
func WithTimeSource(ts engine.TimeSource) ManagerOption {
	return func(m *Manager) {
		m.time = ts
	}
}

// WithManagerLogger sets the logger for transaction state transitions.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		clock:  engine.NewClock(),
		ids:    engine.UUIDv7Generator{},
		time:   engine.SystemTime{},
		logger: slog.Default(),
		live:   make(map[string]*Transaction),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var defaultManager = NewManager()

// Default returns the process-wide Manager.
func Default() *Manager {
	return defaultManager
}

// New creates a pending transaction that persists with fn.
func (m *Manager) New(fn MutationFn, opts ...Option) (*Transaction, error) {
	if fn == nil {
		return nil, &Error{Code: ErrCodeMissingMutationFn, Message: "transaction requires a mutation function"}
	}

	tx := &Transaction{
		manager:    m,
		seq:        m.clock.Next(),
		createdAt:  m.time.Now(),
		mutationFn: fn,
		autoCommit: true,
		state:      StatePending,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(tx)
	}
	if tx.id == "" {
		tx.id = m.ids.Generate()
	}

	m.mu.Lock()
	m.live[tx.id] = tx
	m.mu.Unlock()

	m.logger.Debug("transaction created", "tx", tx.id, "seq", tx.seq)
	return tx, nil
}

// Live returns pending and persisting transactions in creation order.
func (m *Manager) Live() []*Transaction {
	m.mu.Lock()
	out := make([]*Transaction, 0, len(m.live))
	for _, tx := range m.live {
		out = append(out, tx)
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b *Transaction) int { return a.CompareCreatedAt(b) })
	return out
}

func (m *Manager) forget(tx *Transaction) {
	m.mu.Lock()
	delete(m.live, tx.id)
	m.mu.Unlock()
}

// New creates a transaction on the default Manager.
func New(fn MutationFn, opts ...Option) (*Transaction, error) {
	return defaultManager.New(fn, opts...)
}
