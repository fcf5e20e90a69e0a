package collection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/livedb/internal/engine"
	"github.com/roach88/livedb/internal/index"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/txn"
)

var collectionSeq = engine.NewClock()

// Collection is a keyed set of rows with optimistic mutations.
//
// Thread-safety: all methods are safe for concurrent use. State is guarded
// by one mutex; listeners run without it.
type Collection struct {
	id          string
	cfg         Config
	gcTime      time.Duration
	logger      *slog.Logger
	manager     *txn.Manager
	time        engine.TimeSource
	mutationIDs engine.IDGenerator
	dispatch    *engine.Dispatcher
	counters    counters

	mu sync.Mutex

	status    Status
	syncErr   error
	statusCh  chan struct{} // closed and replaced on every status change
	readyOnce bool
	onReady   []func()
	statusFns map[int]func(Status)
	statusSeq int

	synced      map[ir.Key]ir.IRObject
	upserts     map[ir.Key]ir.IRObject
	deletes     map[ir.Key]struct{}
	txs         map[string]*txn.Transaction
	pendingSync []*syncBatch
	openBatch   *syncBatch

	indexes  map[string]*index.BTreeIndex // by path signature
	indexSeq int

	subs   map[int64]*Subscription
	subSeq int64

	syncGen    int
	syncCancel context.CancelFunc
	gcTimer    engine.Timer
}

// New validates cfg and creates a collection.
func New(cfg Config, opts ...Option) (*Collection, error) {
	if cfg.GetKey == nil {
		return nil, &Error{Code: ErrCodeMissingGetKey, Message: "collection requires a GetKey function", Collection: cfg.ID}
	}
	if cfg.Sync == nil {
		return nil, &Error{Code: ErrCodeMissingSync, Message: "collection requires a Sync function", Collection: cfg.ID}
	}
	switch cfg.AutoIndex {
	case "":
		cfg.AutoIndex = AutoIndexEager
	case AutoIndexEager, AutoIndexOff:
	default:
		return nil, &Error{Code: ErrCodeInvalidAutoIndex, Message: fmt.Sprintf("unknown auto-index mode %q", cfg.AutoIndex), Collection: cfg.ID}
	}
	switch cfg.RowUpdateMode {
	case "":
		cfg.RowUpdateMode = RowUpdatePartial
	case RowUpdatePartial, RowUpdateFull:
	default:
		return nil, &Error{Code: ErrCodeInvalidRowUpdate, Message: fmt.Sprintf("unknown row update mode %q", cfg.RowUpdateMode), Collection: cfg.ID}
	}
	if cfg.ID == "" {
		cfg.ID = fmt.Sprintf("collection-%d", collectionSeq.Next())
	}

	c := &Collection{
		id:          cfg.ID,
		cfg:         cfg,
		gcTime:      cfg.GCTime,
		logger:      slog.Default(),
		manager:     txn.Default(),
		time:        engine.SystemTime{},
		mutationIDs: engine.UUIDv7Generator{},
		dispatch:    engine.NewDispatcher(),
		status:      StatusIdle,
		statusCh:    make(chan struct{}),
		statusFns:   make(map[int]func(Status)),
		synced:      make(map[ir.Key]ir.IRObject),
		upserts:     make(map[ir.Key]ir.IRObject),
		deletes:     make(map[ir.Key]struct{}),
		txs:         make(map[string]*txn.Transaction),
		indexes:     make(map[string]*index.BTreeIndex),
		subs:        make(map[int64]*Subscription),
	}
	if c.gcTime == 0 {
		c.gcTime = DefaultGCTime
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("collection", c.id)

	if cfg.StartSync {
		c.startSync()
	}
	return c, nil
}

// ID returns the collection id.
func (c *Collection) ID() string { return c.id }

// ParticipantID implements txn.Participant.
func (c *Collection) ParticipantID() string { return c.id }

// AutoIndexMode returns the configured auto-index mode.
func (c *Collection) AutoIndexMode() AutoIndexMode { return c.cfg.AutoIndex }

// KeyOf returns the key of row.
func (c *Collection) KeyOf(row ir.IRObject) ir.Key { return c.cfg.GetKey(row) }

// Status returns the lifecycle status.
func (c *Collection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SyncError returns the error that moved the collection to StatusError.
func (c *Collection) SyncError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncErr
}

// IsReady reports whether the sync source marked the collection ready.
func (c *Collection) IsReady() bool {
	return c.Status() == StatusReady
}

// Get returns the visible row for key.
func (c *Collection) Get(key ir.Key) (ir.IRObject, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibleLocked(key)
}

// Has reports whether key is visible.
func (c *Collection) Has(key ir.Key) bool {
	_, ok := c.Get(key)
	return ok
}

// Size returns the number of visible rows.
func (c *Collection) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.synced {
		if _, del := c.deletes[k]; !del {
			n++
		}
	}
	for k := range c.upserts {
		if _, inSynced := c.synced[k]; !inSynced {
			n++
		}
	}
	return n
}

// Keys returns the visible keys in ir.Compare order.
func (c *Collection) Keys() []ir.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibleKeysLocked()
}

// Entry is a key and its row.
type Entry struct {
	Key ir.Key
	Row ir.IRObject
}

// Entries returns the visible rows in key order.
func (c *Collection) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.visibleKeysLocked()
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		row, _ := c.visibleLocked(k)
		out = append(out, Entry{Key: k, Row: row})
	}
	return out
}

// Values returns the visible rows in key order.
func (c *Collection) Values() []ir.IRObject {
	entries := c.Entries()
	out := make([]ir.IRObject, len(entries))
	for i, e := range entries {
		out[i] = e.Row
	}
	return out
}

// ToArray is Values.
func (c *Collection) ToArray() []ir.IRObject {
	return c.Values()
}

func (c *Collection) visibleLocked(key ir.Key) (ir.IRObject, bool) {
	if _, del := c.deletes[key]; del {
		return nil, false
	}
	if row, ok := c.upserts[key]; ok {
		return row, true
	}
	row, ok := c.synced[key]
	return row, ok
}

func (c *Collection) visibleKeysLocked() []ir.Key {
	keys := make([]ir.Key, 0, len(c.synced)+len(c.upserts))
	for k := range c.synced {
		if _, del := c.deletes[k]; !del {
			keys = append(keys, k)
		}
	}
	for k := range c.upserts {
		if _, inSynced := c.synced[k]; !inSynced {
			keys = append(keys, k)
		}
	}
	ir.SortKeys(keys)
	return keys
}

// OnFirstReady runs fn once the collection is first marked ready, or
// immediately if it already is.
func (c *Collection) OnFirstReady(fn func()) {
	c.mu.Lock()
	if c.readyOnce {
		c.mu.Unlock()
		fn()
		return
	}
	c.onReady = append(c.onReady, fn)
	c.mu.Unlock()
}

// SubscribeStatus calls fn after every status change. It returns a function
// that removes the listener.
func (c *Collection) SubscribeStatus(fn func(Status)) func() {
	c.mu.Lock()
	c.statusSeq++
	id := c.statusSeq
	c.statusFns[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.statusFns, id)
		c.mu.Unlock()
	}
}

// WaitReady starts sync if needed and blocks until the collection is ready.
// It returns the sync error if the collection fails first.
func (c *Collection) WaitReady(ctx context.Context) error {
	c.startSync()
	for {
		c.mu.Lock()
		st, err, ch := c.status, c.syncErr, c.statusCh
		c.mu.Unlock()

		switch st {
		case StatusReady:
			return nil
		case StatusError:
			return err
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Preload starts sync without subscribing and waits until ready.
func (c *Collection) Preload(ctx context.Context) error {
	return c.WaitReady(ctx)
}

// setStatusLocked records a status change. The returned function notifies
// listeners and must be called after unlocking.
func (c *Collection) setStatusLocked(st Status) func() {
	if c.status == st {
		return func() {}
	}
	c.logger.Debug("collection status", "from", c.status, "to", st)
	c.status = st
	close(c.statusCh)
	c.statusCh = make(chan struct{})

	var ready []func()
	if st == StatusReady && !c.readyOnce {
		c.readyOnce = true
		ready = c.onReady
		c.onReady = nil
	}
	fns := make([]func(Status), 0, len(c.statusFns))
	for _, fn := range c.statusFns {
		fns = append(fns, fn)
	}

	return func() {
		for _, fn := range ready {
			fn()
		}
		for _, fn := range fns {
			fn(st)
		}
	}
}
