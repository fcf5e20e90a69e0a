package pacing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/testutil"
	"github.com/roach88/livedb/internal/txn"
)

type item struct {
	ID    int
	Value int
}

// fixture is a local-only collection plus a recording MutationFn that
// confirms every persisted transaction into it.
type fixture struct {
	clock   *testutil.ManualClock
	manager *txn.Manager
	items   *collection.LocalOnly

	mu    sync.Mutex
	calls []*txn.Transaction
	fail  func(tx *txn.Transaction) error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: testutil.NewManualClock()}
	f.manager = txn.NewManager(txn.WithTimeSource(f.clock))
	items, err := collection.NewLocalOnly(collection.LocalOnlyConfig{
		ID:     "items",
		GetKey: collection.KeyField("id"),
	}, collection.WithTxnManager(f.manager))
	require.NoError(t, err)
	f.items = items
	return f
}

// upsert inserts the item or updates its value.
func (f *fixture) upsert(ctx context.Context, in item) error {
	key := ir.IRInt(in.ID)
	if f.items.Has(key) {
		_, err := f.items.Update(ctx, key, func(draft ir.IRObject) {
			draft["value"] = ir.IRInt(in.Value)
		})
		return err
	}
	_, err := f.items.Insert(ctx, ir.IRObject{"id": key, "value": ir.IRInt(in.Value)})
	return err
}

func (f *fixture) persist(_ context.Context, tx *txn.Transaction) error {
	f.mu.Lock()
	f.calls = append(f.calls, tx)
	fail := f.fail
	f.mu.Unlock()
	if fail != nil {
		if err := fail(tx); err != nil {
			return err
		}
	}
	return f.items.AcceptMutations(tx)
}

func (f *fixture) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fixture) paced(t *testing.T, s Strategy) *PacedMutations[item] {
	t.Helper()
	p, err := New(Config[item]{OnMutate: f.upsert, MutationFn: f.persist, Strategy: s},
		WithTimeSource(f.clock), WithTxnManager(f.manager))
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func (f *fixture) value(t *testing.T, id int) ir.IRValue {
	t.Helper()
	row, ok := f.items.Get(ir.IRInt(id))
	require.True(t, ok, "no item %d", id)
	return row["value"]
}

func mutate(t *testing.T, p *PacedMutations[item], in item) *txn.Transaction {
	t.Helper()
	tx, err := p.Mutate(context.Background(), in)
	require.NoError(t, err)
	return tx
}

func wait(t *testing.T, tx *txn.Transaction) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return tx.Wait(ctx)
}

func TestDebounce_MergesCallsIntoOneTransaction(t *testing.T) {
	f := newFixture(t)
	p := f.paced(t, Debounce{Wait: 50 * time.Millisecond})

	tx1 := mutate(t, p, item{ID: 1, Value: 1})
	f.clock.Advance(10 * time.Millisecond)
	tx2 := mutate(t, p, item{ID: 1, Value: 2})
	f.clock.Advance(10 * time.Millisecond)
	tx3 := mutate(t, p, item{ID: 1, Value: 3})

	assert.Same(t, tx1, tx2)
	assert.Same(t, tx2, tx3)
	require.Len(t, tx1.Mutations(), 1)
	m := tx1.Mutations()[0]
	assert.Equal(t, txn.MutationInsert, m.Type)
	assert.Equal(t, ir.IRObject{"id": ir.IRInt(1), "value": ir.IRInt(3)}, m.Changes)

	// Optimistic state is visible before persistence.
	assert.Equal(t, ir.IRInt(3), f.value(t, 1))

	// The window restarts with every call.
	f.clock.Advance(49 * time.Millisecond)
	assert.Zero(t, f.callCount())
	assert.Equal(t, txn.StatePending, tx1.State())

	f.clock.Advance(time.Millisecond)
	require.NoError(t, wait(t, tx1))
	assert.Equal(t, 1, f.callCount())
	assert.Equal(t, txn.StateCompleted, tx1.State())
	assert.Equal(t, ir.IRInt(3), f.value(t, 1))
	assert.Equal(t, int64(1), p.Persisted())
}

func TestDebounce_Leading(t *testing.T) {
	f := newFixture(t)
	p := f.paced(t, Debounce{Wait: 50 * time.Millisecond, Leading: true})

	tx1 := mutate(t, p, item{ID: 1, Value: 1})
	require.NoError(t, wait(t, tx1), "the first call persists at once")
	assert.Equal(t, 1, f.callCount())

	f.clock.Advance(10 * time.Millisecond)
	tx2 := mutate(t, p, item{ID: 2, Value: 2})
	f.clock.Advance(10 * time.Millisecond)
	tx3 := mutate(t, p, item{ID: 3, Value: 3})
	assert.NotSame(t, tx1, tx2)
	assert.Same(t, tx2, tx3)

	f.clock.Advance(50 * time.Millisecond)
	require.NoError(t, wait(t, tx2))
	assert.Equal(t, 2, f.callCount())
	assert.Len(t, tx2.Mutations(), 2)

	// The window has closed; the next call leads again.
	tx4 := mutate(t, p, item{ID: 4, Value: 4})
	require.NoError(t, wait(t, tx4))
	assert.Equal(t, 3, f.callCount())
}

func TestThrottle_LeadingAndTrailing(t *testing.T) {
	f := newFixture(t)
	p := f.paced(t, Throttle{Wait: 100 * time.Millisecond, Leading: true, Trailing: true})

	tx1 := mutate(t, p, item{ID: 1, Value: 1})
	require.NoError(t, wait(t, tx1))

	f.clock.Advance(20 * time.Millisecond)
	tx2 := mutate(t, p, item{ID: 2, Value: 2})
	f.clock.Advance(10 * time.Millisecond)
	tx3 := mutate(t, p, item{ID: 3, Value: 3})
	assert.NotSame(t, tx1, tx2)
	assert.Same(t, tx2, tx3)
	assert.Equal(t, 1, f.callCount())

	f.clock.Advance(70 * time.Millisecond)
	require.NoError(t, wait(t, tx2))
	assert.Equal(t, 2, f.callCount())
	assert.Len(t, tx2.Mutations(), 2)

	// The trailing flush opened the next window.
	f.clock.Advance(50 * time.Millisecond)
	tx4 := mutate(t, p, item{ID: 4, Value: 4})
	assert.Equal(t, txn.StatePending, tx4.State())
	f.clock.Advance(50 * time.Millisecond)
	require.NoError(t, wait(t, tx4))
	assert.Equal(t, 3, f.callCount())
}

func TestThrottle_TrailingOnly(t *testing.T) {
	f := newFixture(t)
	p := f.paced(t, Throttle{Wait: 50 * time.Millisecond, Trailing: true})

	tx1 := mutate(t, p, item{ID: 1, Value: 1})
	assert.Equal(t, txn.StatePending, tx1.State())
	assert.Zero(t, f.callCount())

	f.clock.Advance(50 * time.Millisecond)
	require.NoError(t, wait(t, tx1))
	assert.Equal(t, 1, f.callCount())
}

func TestThrottle_LeadingOnlyCarriesCallsToNextWindow(t *testing.T) {
	f := newFixture(t)
	p := f.paced(t, Throttle{Wait: 50 * time.Millisecond, Leading: true})

	tx1 := mutate(t, p, item{ID: 1, Value: 1})
	require.NoError(t, wait(t, tx1))

	tx2 := mutate(t, p, item{ID: 2, Value: 2})
	f.clock.Advance(60 * time.Millisecond)
	assert.Equal(t, txn.StatePending, tx2.State())

	tx3 := mutate(t, p, item{ID: 3, Value: 3})
	assert.Same(t, tx2, tx3)
	require.NoError(t, wait(t, tx2))
	assert.Len(t, tx2.Mutations(), 2)
	assert.Equal(t, 2, f.callCount())
}

func TestQueue_PersistsSequentiallyInCallOrder(t *testing.T) {
	f := newFixture(t)
	var inflight, maxInflight atomic.Int32
	var order []ir.IRValue
	f.fail = func(tx *txn.Transaction) error {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		if n > maxInflight.Load() {
			maxInflight.Store(n)
		}
		order = append(order, tx.Mutations()[0].Key)
		time.Sleep(2 * time.Millisecond)
		return nil
	}
	p := f.paced(t, Queue{})

	txs := []*txn.Transaction{
		mutate(t, p, item{ID: 1, Value: 1}),
		mutate(t, p, item{ID: 2, Value: 2}),
		mutate(t, p, item{ID: 3, Value: 3}),
	}
	assert.NotSame(t, txs[0], txs[1])
	assert.NotSame(t, txs[1], txs[2])

	for _, tx := range txs {
		require.NoError(t, wait(t, tx))
		assert.Len(t, tx.Mutations(), 1)
	}
	assert.Equal(t, []ir.IRValue{ir.IRInt(1), ir.IRInt(2), ir.IRInt(3)}, order)
	assert.Equal(t, int32(1), maxInflight.Load())
	assert.Equal(t, 3, f.items.Size())
}

func TestQueue_FailureDoesNotBlockLaterItems(t *testing.T) {
	f := newFixture(t)
	f.fail = func(tx *txn.Transaction) error {
		if tx.Mutations()[0].Key == ir.IRInt(2) {
			return errors.New("rejected")
		}
		return nil
	}
	p := f.paced(t, Queue{})

	tx1 := mutate(t, p, item{ID: 1, Value: 1})
	tx2 := mutate(t, p, item{ID: 2, Value: 2})
	tx3 := mutate(t, p, item{ID: 3, Value: 3})

	require.NoError(t, wait(t, tx1))
	err := wait(t, tx2)
	require.Error(t, err)
	assert.True(t, txn.IsPersistError(err))
	assert.Contains(t, err.Error(), "rejected")
	require.NoError(t, wait(t, tx3))

	assert.Equal(t, txn.StateFailed, tx2.State())
	assert.False(t, f.items.Has(ir.IRInt(2)), "the failed insert is rolled back")
	assert.True(t, f.items.Has(ir.IRInt(3)))
}

func TestQueue_FailedItemKeepsLaterItemOnSameRow(t *testing.T) {
	f := newFixture(t)
	p := f.paced(t, Queue{})
	require.NoError(t, wait(t, mutate(t, p, item{ID: 5, Value: 0})))

	var calls atomic.Int32
	f.mu.Lock()
	f.fail = func(*txn.Transaction) error {
		if calls.Add(1) == 1 {
			return errors.New("rejected")
		}
		return nil
	}
	f.mu.Unlock()
	failed := mutate(t, p, item{ID: 5, Value: 1})
	later := mutate(t, p, item{ID: 5, Value: 2})

	require.Error(t, wait(t, failed))
	require.NoError(t, wait(t, later))

	assert.Equal(t, txn.StateFailed, failed.State())
	assert.Equal(t, txn.StateCompleted, later.State())
	assert.Equal(t, ir.IRInt(2), f.value(t, 5))
}

func TestQueue_WaitSpacesItems(t *testing.T) {
	f := newFixture(t)
	p := f.paced(t, Queue{Wait: 50 * time.Millisecond})

	tx1 := mutate(t, p, item{ID: 1, Value: 1})
	tx2 := mutate(t, p, item{ID: 2, Value: 2})

	require.NoError(t, wait(t, tx1))
	require.Eventually(t, func() bool { return f.clock.Pending() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, txn.StatePending, tx2.State())

	f.clock.Advance(50 * time.Millisecond)
	require.NoError(t, wait(t, tx2))
	assert.Equal(t, 2, f.callCount())
}

func TestQueue_MaxSize(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{}, 3)
	release := make(chan struct{})
	f.fail = func(*txn.Transaction) error {
		started <- struct{}{}
		<-release
		return nil
	}
	p := f.paced(t, Queue{MaxSize: 1})

	tx1 := mutate(t, p, item{ID: 1, Value: 1})
	<-started
	tx2 := mutate(t, p, item{ID: 2, Value: 2})

	_, err := p.Mutate(context.Background(), item{ID: 3, Value: 3})
	require.Error(t, err)
	assert.True(t, IsQueueFull(err))
	assert.False(t, f.items.Has(ir.IRInt(3)), "the rejected call is rolled back")

	close(release)
	require.NoError(t, wait(t, tx1))
	require.NoError(t, wait(t, tx2))
}

func TestMutate_OnMutateErrorRollsBack(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	p, err := New(Config[item]{
		OnMutate: func(ctx context.Context, in item) error {
			if err := f.upsert(ctx, in); err != nil {
				return err
			}
			if in.Value < 0 {
				return boom
			}
			return nil
		},
		MutationFn: f.persist,
		Strategy:   Debounce{Wait: 50 * time.Millisecond},
	}, WithTimeSource(f.clock), WithTxnManager(f.manager))
	require.NoError(t, err)

	_, err = p.Mutate(context.Background(), item{ID: 1, Value: -1})
	require.ErrorIs(t, err, boom)
	assert.False(t, f.items.Has(ir.IRInt(1)))

	tx := mutate(t, p, item{ID: 2, Value: 2})
	assert.Equal(t, txn.StatePending, tx.State())
	f.clock.Advance(50 * time.Millisecond)
	require.NoError(t, wait(t, tx))
	assert.Equal(t, 1, f.callCount())
}

func TestPacedMutations_FlushAndClose(t *testing.T) {
	f := newFixture(t)
	p := f.paced(t, Debounce{Wait: time.Minute})

	tx1 := mutate(t, p, item{ID: 1, Value: 1})
	p.Flush()
	require.NoError(t, wait(t, tx1))
	assert.Zero(t, f.clock.Pending(), "flush stops the window timer")

	tx2 := mutate(t, p, item{ID: 2, Value: 2})
	p.Close()
	p.Close()
	require.NoError(t, wait(t, tx2))

	_, err := p.Mutate(context.Background(), item{ID: 3, Value: 3})
	assert.True(t, IsClosed(err))
}

func TestNew_InvalidConfig(t *testing.T) {
	noop := func(context.Context, item) error { return nil }
	persist := func(context.Context, *txn.Transaction) error { return nil }

	tests := []struct {
		name string
		cfg  Config[item]
	}{
		{name: "missing on mutate", cfg: Config[item]{MutationFn: persist, Strategy: Queue{}}},
		{name: "missing mutation fn", cfg: Config[item]{OnMutate: noop, Strategy: Queue{}}},
		{name: "missing strategy", cfg: Config[item]{OnMutate: noop, MutationFn: persist}},
		{name: "negative wait", cfg: Config[item]{OnMutate: noop, MutationFn: persist, Strategy: Debounce{Wait: -time.Second}}},
		{name: "throttle without edges", cfg: Config[item]{OnMutate: noop, MutationFn: persist, Strategy: Throttle{Wait: time.Second}}},
		{name: "negative queue size", cfg: Config[item]{OnMutate: noop, MutationFn: persist, Strategy: Queue{MaxSize: -1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.True(t, IsInvalidConfig(err))
		})
	}
}

func TestFlushes_CountsPerStrategy(t *testing.T) {
	f := newFixture(t)
	before := promtest.ToFloat64(Flushes.WithLabelValues("throttle"))
	p := f.paced(t, Throttle{Wait: time.Second, Leading: true})

	require.NoError(t, wait(t, mutate(t, p, item{ID: 1, Value: 1})))
	assert.Equal(t, before+1, promtest.ToFloat64(Flushes.WithLabelValues("throttle")))
}
