package collection

import (
	"slices"
	"sync"

	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/queryir"
)

// SubscribeOptions configures SubscribeChanges.
type SubscribeOptions struct {
	// IncludeInitialState delivers the matching rows as inserts before any
	// later change.
	IncludeInitialState bool

	// Where filters delivered changes. It references row fields directly.
	Where queryir.Expr
}

// SnapshotOptions configures Subscription.RequestSnapshot.
type SnapshotOptions struct {
	// Where narrows the subscription filter for this snapshot.
	Where queryir.Expr

	OptimizedOnly bool
}

// LimitedSnapshotOptions configures Subscription.RequestLimitedSnapshot.
type LimitedSnapshotOptions struct {
	// OrderBy is the field path rows are ordered by.
	OrderBy []string

	Descending bool
	Limit      int

	// MinValue is where loading starts (inclusive). Nil starts at the
	// beginning of the order.
	MinValue ir.IRValue
}

// Subscription is a registered change listener.
//
// The subscription remembers the last row it delivered for every key, so
// snapshots and change batches never deliver a row twice.
type Subscription struct {
	id       int64
	c        *Collection
	listener Listener
	where    queryir.Expr
	pred     queryir.Predicate

	mu              sync.Mutex
	sent            map[ir.Key]ir.IRObject
	awaitingInitial bool
	loadedInitial   bool
	closed          bool
}

// SubscribeChanges registers listener and starts sync if needed.
func (c *Collection) SubscribeChanges(listener Listener, opts SubscribeOptions) (*Subscription, error) {
	if listener == nil {
		return nil, &Error{Code: ErrCodeMissingHandler, Message: "subscription requires a listener", Collection: c.id}
	}
	pred, err := c.compileWhere(opts.Where)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.subSeq++
	s := &Subscription{
		id:              c.subSeq,
		c:               c,
		listener:        listener,
		where:           opts.Where,
		pred:            pred,
		sent:            make(map[ir.Key]ir.IRObject),
		awaitingInitial: opts.IncludeInitialState,
	}
	c.subs[s.id] = s
	c.autoIndexLocked(opts.Where)
	c.stopGCLocked()
	c.mu.Unlock()

	c.startSync()

	if opts.IncludeInitialState {
		// Runs after every batch already queued, which the snapshot supersedes.
		c.dispatch.Dispatch(func() {
			changes, _, _ := s.RequestSnapshot(SnapshotOptions{})
			s.mu.Lock()
			s.awaitingInitial = false
			closed := s.closed
			s.mu.Unlock()
			if len(changes) > 0 && !closed {
				s.listener(changes)
			}
		})
	}
	return s, nil
}

// Where returns the subscription filter.
func (s *Subscription) Where() queryir.Expr { return s.where }

// LoadedInitialState reports whether an unfiltered snapshot was taken.
func (s *Subscription) LoadedInitialState() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadedInitial
}

// Unsubscribe stops delivery. It is idempotent. When the last subscriber
// leaves, garbage collection is scheduled.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	c := s.c
	c.mu.Lock()
	delete(c.subs, s.id)
	if len(c.subs) == 0 {
		c.scheduleGCLocked()
	}
	c.mu.Unlock()
}

// RequestSnapshot returns the rows matching the subscription filter (and
// opts.Where) that were not delivered yet, and records them as delivered.
// The caller passes them on; the listener is not called.
func (s *Subscription) RequestSnapshot(opts SnapshotOptions) ([]ChangeMessage, bool, error) {
	where := s.where
	if opts.Where != nil {
		where = queryir.AndAll(append(queryir.Conjuncts(s.where), opts.Where))
	}
	changes, ok, err := s.c.CurrentStateAsChanges(StateOptions{Where: where, OptimizedOnly: opts.OptimizedOnly})
	if err != nil || !ok {
		return nil, ok, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if opts.Where == nil {
		s.loadedInitial = true
	}
	return s.markSentLocked(changes), true, nil
}

// RequestLimitedSnapshot loads up to opts.Limit undelivered rows in the
// order of opts.OrderBy, starting at opts.MinValue, using the index on that
// path. The index is created when auto-indexing is on.
func (s *Subscription) RequestLimitedSnapshot(opts LimitedSnapshotOptions) ([]ChangeMessage, error) {
	c := s.c
	c.mu.Lock()
	x, ok := c.indexes[queryir.PathKey(opts.OrderBy)]
	if !ok {
		if c.cfg.AutoIndex != AutoIndexEager {
			c.mu.Unlock()
			return nil, &Error{Code: ErrCodeMissingOrderIndex, Message: "ordered snapshot requires an index on " + queryir.PathKey(opts.OrderBy), Collection: c.id}
		}
		var created bool
		var err error
		x, created, err = c.ensureIndexLocked(opts.OrderBy)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		if created {
			c.countAutoIndex()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Overlay rows are not in the index; they are merged in below.
	filter := func(k ir.Key) bool {
		if _, sent := s.sent[k]; sent {
			return false
		}
		if _, touched := c.upserts[k]; touched {
			return false
		}
		if _, deleted := c.deletes[k]; deleted {
			return false
		}
		return s.pred(c.synced[k])
	}

	var keys []ir.Key
	if opts.Descending {
		keys = x.TakeReversedFrom(opts.Limit, opts.MinValue, filter)
	} else {
		keys = x.TakeFrom(opts.Limit, opts.MinValue, filter)
	}
	c.countIndexLookup()

	type candidate struct {
		key   ir.Key
		value ir.IRValue
		row   ir.IRObject
	}
	cands := make([]candidate, 0, len(keys))
	for _, k := range keys {
		v, _ := x.ValueOf(k)
		cands = append(cands, candidate{key: k, value: v, row: c.synced[k]})
	}
	for k, row := range c.upserts {
		if _, sent := s.sent[k]; sent || !s.pred(row) {
			continue
		}
		v, _ := ir.GetPath(row, opts.OrderBy)
		if opts.MinValue != nil {
			cmp := ir.Compare(v, opts.MinValue)
			if (!opts.Descending && cmp < 0) || (opts.Descending && cmp > 0) {
				continue
			}
		}
		cands = append(cands, candidate{key: k, value: v, row: row})
	}
	c.mu.Unlock()

	slices.SortFunc(cands, func(a, b candidate) int {
		cmp := ir.Compare(a.value, b.value)
		if cmp == 0 {
			cmp = ir.Compare(a.key, b.key)
		}
		if opts.Descending {
			return -cmp
		}
		return cmp
	})
	if len(cands) > opts.Limit {
		cands = cands[:opts.Limit]
	}

	changes := make([]ChangeMessage, len(cands))
	for i, cand := range cands {
		changes[i] = ChangeMessage{Type: ChangeInsert, Key: cand.key, Value: cand.row}
	}
	return s.markSentLocked(changes), nil
}

// markSentLocked drops rows already delivered unchanged and records the rest.
func (s *Subscription) markSentLocked(changes []ChangeMessage) []ChangeMessage {
	out := changes[:0]
	for _, ch := range changes {
		if prev, ok := s.sent[ch.Key]; ok {
			if ir.Equal(prev, ch.Value) {
				continue
			}
			ch = ChangeMessage{Type: ChangeUpdate, Key: ch.Key, Value: ch.Value, PreviousValue: prev}
		}
		s.sent[ch.Key] = ch.Value
		out = append(out, ch)
	}
	return out
}

// deliver translates a collection batch against what this subscription has
// delivered and calls the listener with the result.
func (s *Subscription) deliver(changes []ChangeMessage) {
	s.mu.Lock()
	if s.closed || s.awaitingInitial {
		s.mu.Unlock()
		return
	}

	var out []ChangeMessage
	for _, ch := range changes {
		next, visible := ch.Value, ch.Type != ChangeDelete && s.pred(ch.Value)
		prev, sent := s.sent[ch.Key]

		switch {
		case visible && !sent:
			out = append(out, ChangeMessage{Type: ChangeInsert, Key: ch.Key, Value: next})
			s.sent[ch.Key] = next
		case visible && sent:
			if !ir.Equal(prev, next) {
				out = append(out, ChangeMessage{Type: ChangeUpdate, Key: ch.Key, Value: next, PreviousValue: prev})
				s.sent[ch.Key] = next
			}
		case sent:
			out = append(out, ChangeMessage{Type: ChangeDelete, Key: ch.Key, Value: prev})
			delete(s.sent, ch.Key)
		}
	}
	s.mu.Unlock()

	if len(out) > 0 {
		s.listener(out)
	}
}

// Delivered returns the row last delivered for key, if any.
func (s *Subscription) Delivered(key ir.Key) (ir.IRObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.sent[key]
	return row, ok
}
