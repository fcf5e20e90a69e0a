package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/engine"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/query"
	"github.com/roach88/livedb/internal/queryir"
)

// ErrClosed is returned by WaitReady after Close.
var ErrClosed = errors.New("live query closed")

var querySeq = engine.NewClock()

// Query is a running live query. Its result is the derived collection
// returned by Collection.
//
// Thread-safety: all methods are safe for concurrent use. Source batches are
// processed one at a time under the query lock; the derived collection is
// written after the lock is released.
type Query struct {
	id       string
	plan     *query.Plan
	logger   *slog.Logger
	opts     options
	counters counters

	derived  *collection.Collection
	wmu      sync.Mutex
	writer   collection.SyncWriter
	events   *engine.Queue[event]
	outbox   *engine.Queue[outBatch]
	dispatch *engine.Dispatcher

	mu           sync.Mutex
	started      bool
	closed       bool
	inputs       []*input
	joins        []*joinStage
	residual     []queryir.Predicate
	groups       *groupStage
	shape        *shaper
	sink         *sink
	emitted      map[ir.Key]ir.IRObject
	touched      []ir.Key
	ready        bool
	failed       error
	failReported bool
}

// event is a unit of work for the query: a source batch, a source status
// change or the initial load.
type event struct {
	input   int
	keys    []ir.Key
	status  bool
	initial bool
}

// outBatch is one write to the derived collection.
type outBatch struct {
	msgs  []collection.SyncMessage
	ready bool
	err   error
}

// New compiles qc and starts it. The query closes when ctx is done.
func New(ctx context.Context, qc *query.Context, opts ...Option) (*Query, error) {
	plan, err := query.Compile(qc)
	if err != nil {
		return nil, err
	}
	return Start(ctx, plan, opts...)
}

// Start runs an already compiled plan. The query closes when ctx is done.
func Start(ctx context.Context, plan *query.Plan, opts ...Option) (*Query, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = fmt.Sprintf("live-%d", querySeq.Next())
	}

	q := &Query{
		id:       o.id,
		plan:     plan,
		logger:   o.logger.With("query", o.id),
		opts:     o,
		events:   engine.NewQueue[event](),
		outbox:   engine.NewQueue[outBatch](),
		dispatch: engine.NewDispatcher(),
		emitted:  make(map[ir.Key]ir.IRObject),
	}
	if err := q.build(); err != nil {
		return nil, err
	}

	derived, err := collection.New(collection.Config{
		ID: o.id,
		// Rows are keyed by the query; callers cannot insert.
		GetKey: func(ir.IRObject) ir.Key { return nil },
		Sync: func(_ context.Context, w collection.SyncWriter) error {
			q.wmu.Lock()
			q.writer = w
			q.wmu.Unlock()
			return nil
		},
		RowUpdateMode: collection.RowUpdateFull,
		GCTime:        -1,
		StartSync:     true,
	}, collection.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	q.derived = derived

	if err := q.connect(ctx); err != nil {
		q.Close()
		return nil, err
	}
	context.AfterFunc(ctx, q.Close)

	q.logger.Debug("live query started", "signature", plan.Query.Signature())
	q.mu.Lock()
	q.started = true
	q.mu.Unlock()
	q.enqueue(event{initial: true})
	return q, nil
}

// build compiles the pipeline stages.
func (q *Query) build() error {
	qc := q.plan.Query
	for _, jp := range q.plan.Joins {
		j, err := newJoinStage(jp)
		if err != nil {
			return fmt.Errorf("join %s: %w", jp.Alias, err)
		}
		q.joins = append(q.joins, j)
	}
	for _, r := range q.plan.Residual {
		pred, err := queryir.CompileFilter(r)
		if err != nil {
			return fmt.Errorf("where %s: %w", queryir.Format(r), err)
		}
		q.residual = append(q.residual, pred)
	}
	if q.plan.Grouped {
		g, err := newGroupStage(qc)
		if err != nil {
			return fmt.Errorf("group by: %w", err)
		}
		q.groups = g
	} else {
		shape, err := newShaper(qc, queryir.Compile)
		if err != nil {
			return fmt.Errorf("select: %w", err)
		}
		q.shape = shape
	}
	q.sink = newSink(qc)
	return nil
}

// connect subscribes to every source. Batches delivered before the initial
// load are queued and reconciled in order.
func (q *Query) connect(ctx context.Context) error {
	for i, sp := range q.plan.Sources {
		coll := sp.Collection
		var child *Query
		if sp.Subquery != nil {
			opts := []Option{WithLogger(q.opts.logger), WithID(q.id + "." + sp.Alias)}
			var err error
			child, err = Start(ctx, sp.Subquery, opts...)
			if err != nil {
				return fmt.Errorf("subquery %s: %w", sp.Alias, err)
			}
			coll = child.Collection()
		}

		in := newInput(sp, coll)
		in.child = child
		if i == 0 {
			in.window = q.plan.Window
		}
		q.mu.Lock()
		q.inputs = append(q.inputs, in)
		q.mu.Unlock()

		if sp.Access == query.AccessProbe && !coll.EnsureIndex(sp.ProbeKey...) {
			q.logger.Debug("probe key is not indexed", "source", sp.Alias, "path", queryir.PathKey(sp.ProbeKey))
		}

		sub, err := coll.SubscribeChanges(func(changes []collection.ChangeMessage) {
			q.enqueue(event{input: i, keys: changeKeys(changes)})
		}, collection.SubscribeOptions{Where: sp.Where})
		if err != nil {
			return fmt.Errorf("source %s: %w", sp.Alias, err)
		}
		in.sub = sub
		in.stopStatus = coll.SubscribeStatus(func(collection.Status) {
			q.enqueue(event{input: i, status: true})
		})
	}
	return nil
}

func (q *Query) enqueue(ev event) {
	q.events.Enqueue(ev)
	q.process()
}

// process runs every queued event, then writes the resulting batches.
func (q *Query) process() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	n := 0
	for {
		ev, ok := q.events.TryDequeue()
		if !ok {
			break
		}
		if !q.closed && q.step(ev) {
			n++
		}
	}
	q.mu.Unlock()

	for range n {
		q.dispatch.Dispatch(q.writeNext)
	}
}

// step processes one event and queues its output batch. It reports whether
// a batch was queued.
func (q *Query) step(ev event) bool {
	q.touched = q.touched[:0]
	var err error
	switch {
	case ev.initial:
		changed := make(map[int][]delta)
		for i, in := range q.inputs {
			if in.plan.Access != query.AccessScan {
				continue
			}
			ds, lerr := in.load()
			if lerr != nil {
				err = fmt.Errorf("load %s: %w", in.plan.Alias, lerr)
				break
			}
			changed[i] = ds
		}
		if err == nil {
			err = q.propagate(changed)
		}
	case ev.status:
	default:
		if ds := q.inputs[ev.input].reconcile(ev.keys); len(ds) > 0 {
			err = q.propagate(map[int][]delta{ev.input: ds})
		}
	}
	if err == nil && q.plan.Window != nil {
		err = q.fillWindow()
	}
	if err != nil && q.failed == nil {
		q.logger.Warn("live query failed", "error", err)
		q.failed = err
	}
	return q.emit()
}

// propagate pushes source deltas through joins, the residual filter,
// grouping and the window.
func (q *Query) propagate(changed map[int][]delta) error {
	q.countStep()
	from := q.inputs[0]
	stage := namespace(from.plan.Alias, changed[0])
	for i, j := range q.joins {
		right := changed[i+1]
		switch j.plan.Strategy {
		case query.DriveLeft:
			extra, probed, err := q.inputs[i+1].probe(j.leftValues(stage))
			if err != nil {
				return fmt.Errorf("probe %s: %w", j.plan.Alias, err)
			}
			if probed {
				q.countProbe()
			}
			right = append(right, extra...)
		case query.DriveRight:
			extra, probed, err := from.probe(j.rightValues(right))
			if err != nil {
				return fmt.Errorf("probe %s: %w", from.plan.Alias, err)
			}
			if probed {
				q.countProbe()
			}
			stage = append(stage, namespace(from.plan.Alias, extra)...)
		}
		stage = j.apply(stage, right)
	}

	if len(q.residual) > 0 {
		stage = q.filter(stage)
	}
	var cs []change
	if q.groups != nil {
		cs = q.groups.apply(stage)
	} else {
		cs = q.shape.project(stage)
	}
	q.touched = append(q.touched, q.sink.apply(cs)...)
	return nil
}

func (q *Query) filter(ds []delta) []delta {
	keep := func(row ir.IRObject) ir.IRObject {
		if row == nil {
			return nil
		}
		for _, pred := range q.residual {
			if !pred(row) {
				return nil
			}
		}
		return row
	}
	out := make([]delta, 0, len(ds))
	for _, d := range ds {
		before, after := keep(d.before), keep(d.after)
		if before == nil && after == nil {
			continue
		}
		out = append(out, delta{key: d.key, before: before, after: after})
	}
	return out
}

// fillWindow loads index-ordered pages until the visible window is backed
// by loaded rows only.
func (q *Query) fillWindow() error {
	in := q.inputs[0]
	size := q.plan.Window.Size
	for !in.exhausted && q.windowShort(in, size) {
		ds, err := in.loadPage(size)
		if err != nil {
			return fmt.Errorf("load window: %w", err)
		}
		q.countWindowLoad()
		if len(ds) == 0 {
			return nil
		}
		if err := q.propagate(map[int][]delta{0: ds}); err != nil {
			return err
		}
	}
	return nil
}

// windowShort reports whether rows past the frontier could still enter the
// window: fewer than size rows are loaded, or the last window row sorts
// after the frontier.
func (q *Query) windowShort(in *input, size int) bool {
	if len(in.rows) < size {
		return true
	}
	last, ok := q.sink.nth(size - 1)
	if !ok {
		return true
	}
	return in.beyondFrontier(last.sort[0], last.key)
}

// emit diffs the touched result rows against what the derived collection
// holds and queues the batch.
func (q *Query) emit() bool {
	var msgs []collection.SyncMessage
	seen := make(map[ir.Key]bool, len(q.touched))
	for _, k := range q.touched {
		if seen[k] {
			continue
		}
		seen[k] = true
		prev, had := q.emitted[k]
		next, ok := q.sink.row(k)
		switch {
		case ok && !had:
			msgs = append(msgs, collection.SyncMessage{Type: collection.ChangeInsert, Key: k, Value: next})
			q.emitted[k] = next
		case ok && !sameRow(prev, next):
			msgs = append(msgs, collection.SyncMessage{Type: collection.ChangeUpdate, Key: k, Value: next})
			q.emitted[k] = next
		case !ok && had:
			msgs = append(msgs, collection.SyncMessage{Type: collection.ChangeDelete, Key: k})
			delete(q.emitted, k)
		}
	}
	slices.SortFunc(msgs, func(a, b collection.SyncMessage) int { return ir.Compare(a.Key, b.Key) })

	b := outBatch{msgs: msgs}
	if q.failed == nil {
		q.failed = q.sourceError()
	}
	if q.failed != nil && !q.failReported {
		q.failReported = true
		b.err = q.failed
	}
	if !q.ready && q.failed == nil && q.sourcesReady() {
		q.ready = true
		b.ready = true
	}
	if len(msgs) == 0 && !b.ready && b.err == nil {
		return false
	}
	q.outbox.Enqueue(b)
	return true
}

func (q *Query) sourcesReady() bool {
	for _, in := range q.inputs {
		if !in.ready {
			in.ready = in.coll.IsReady()
		}
		if !in.ready {
			return false
		}
	}
	return true
}

func (q *Query) sourceError() error {
	for _, in := range q.inputs {
		if in.coll.Status() == collection.StatusError {
			return fmt.Errorf("source %s: %w", in.plan.Alias, in.coll.SyncError())
		}
	}
	return nil
}

// writeNext writes the oldest queued batch.
func (q *Query) writeNext() {
	b, ok := q.outbox.TryDequeue()
	if !ok {
		return
	}
	q.wmu.Lock()
	w := q.writer
	q.wmu.Unlock()

	if len(b.msgs) > 0 {
		if err := write(w, b.msgs); err != nil {
			if collection.HasCode(err, collection.ErrCodeSyncStopped) {
				q.logger.Debug("result batch dropped after close")
			} else {
				q.logger.Warn("write result batch", "error", err)
			}
		}
	}
	if b.err != nil {
		w.Fail(b.err)
	}
	if b.ready {
		w.MarkReady()
	}
}

func write(w collection.SyncWriter, msgs []collection.SyncMessage) error {
	if err := w.Begin(); err != nil {
		return err
	}
	for _, m := range msgs {
		if err := w.Write(m); err != nil {
			w.Rollback()
			return err
		}
	}
	return w.Commit()
}

// ID returns the query id, which is also the derived collection's id.
func (q *Query) ID() string { return q.id }

// Plan returns the compiled plan.
func (q *Query) Plan() *query.Plan { return q.plan }

// Collection returns the derived collection holding the result.
func (q *Query) Collection() *collection.Collection { return q.derived }

// Status returns the status of the derived collection.
func (q *Query) Status() collection.Status { return q.derived.Status() }

// Rows returns the current result, in ORDER BY order when the query has
// one and by key otherwise.
func (q *Query) Rows() []ir.IRObject {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sink.rows()
}

// Get returns the result row for key.
func (q *Query) Get(key ir.Key) (ir.IRObject, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sink.row(key)
}

// Value returns the first result row. It is the result of FindOne queries.
func (q *Query) Value() (ir.IRObject, bool) {
	rows := q.Rows()
	if len(rows) == 0 {
		return nil, false
	}
	return rows[0], true
}

// WaitReady blocks until every source is ready and the initial result is
// written. It returns the source error if a source fails first.
func (q *Query) WaitReady(ctx context.Context) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return q.derived.WaitReady(ctx)
}

// Close unsubscribes from every source and drops the result. It is
// idempotent.
func (q *Query) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	inputs := q.inputs
	q.mu.Unlock()

	for _, in := range inputs {
		if in.sub != nil {
			in.sub.Unsubscribe()
		}
		if in.stopStatus != nil {
			in.stopStatus()
		}
		if in.child != nil {
			in.child.Close()
		}
	}
	if q.derived != nil {
		q.derived.Cleanup()
	}
	q.logger.Debug("live query closed")
}
