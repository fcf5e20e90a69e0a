package pacing

import (
	"fmt"
	"time"

	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/txn"
)

// Strategy decides which transaction a call joins and when it persists.
// Implementations are Debounce, Throttle and Queue.
type Strategy interface {
	// Name identifies the strategy kind.
	Name() string

	// Params returns the configuration values that identify the strategy.
	Params() ir.IRObject

	validate() error
	newScheduler(p *pacer) scheduler
}

// scheduler holds per-strategy window state. Every method runs with the
// pacer locked and returns the transactions to commit once it is unlocked.
type scheduler interface {
	// join returns the transaction the next call adds to and whether it was
	// created for this call.
	join() (tx *txn.Transaction, fresh bool, err error)

	// added runs after OnMutate succeeded on tx.
	added(tx *txn.Transaction) ([]*txn.Transaction, error)

	// discard forgets a fresh transaction whose call failed.
	discard(tx *txn.Transaction)

	// flush ends any open window and returns what is pending.
	flush() []*txn.Transaction
}

// Debounce collapses calls that arrive within Wait of each other.
type Debounce struct {
	Wait    time.Duration
	Leading bool
}

func (Debounce) Name() string { return "debounce" }

func (d Debounce) Params() ir.IRObject {
	return ir.IRObject{
		"wait":    ir.IRInt(d.Wait),
		"leading": ir.IRBool(d.Leading),
	}
}

func (d Debounce) validate() error {
	return checkWait(d.Name(), d.Wait)
}

func (d Debounce) newScheduler(p *pacer) scheduler {
	return &debouncer{pacer: p, cfg: d}
}

// Throttle starts at most one persistence call per Wait window.
type Throttle struct {
	Wait     time.Duration
	Leading  bool
	Trailing bool
}

func (Throttle) Name() string { return "throttle" }

func (t Throttle) Params() ir.IRObject {
	return ir.IRObject{
		"wait":     ir.IRInt(t.Wait),
		"leading":  ir.IRBool(t.Leading),
		"trailing": ir.IRBool(t.Trailing),
	}
}

func (t Throttle) validate() error {
	if err := checkWait(t.Name(), t.Wait); err != nil {
		return err
	}
	if !t.Leading && !t.Trailing {
		return &Error{Code: ErrCodeInvalidConfig, Message: "leading or trailing must be set", Strategy: t.Name()}
	}
	return nil
}

func (t Throttle) newScheduler(p *pacer) scheduler {
	return &throttler{pacer: p, cfg: t}
}

// Queue persists one transaction per call, strictly in call order. Wait is
// the pause between one item settling and the next starting. MaxSize bounds
// the items waiting to start; zero means unbounded.
type Queue struct {
	Wait    time.Duration
	MaxSize int
}

func (Queue) Name() string { return "queue" }

func (q Queue) Params() ir.IRObject {
	return ir.IRObject{
		"wait":     ir.IRInt(q.Wait),
		"max_size": ir.IRInt(q.MaxSize),
	}
}

func (q Queue) validate() error {
	if err := checkWait(q.Name(), q.Wait); err != nil {
		return err
	}
	if q.MaxSize < 0 {
		return &Error{Code: ErrCodeInvalidConfig, Message: fmt.Sprintf("max size %d is negative", q.MaxSize), Strategy: q.Name()}
	}
	return nil
}

func (q Queue) newScheduler(p *pacer) scheduler {
	return &queuer{pacer: p, cfg: q}
}

func checkWait(name string, wait time.Duration) error {
	if wait < 0 {
		return &Error{Code: ErrCodeInvalidConfig, Message: fmt.Sprintf("wait %s is negative", wait), Strategy: name}
	}
	return nil
}

type debouncer struct {
	*pacer
	cfg Debounce

	// window is open between a leading flush and the quiet period after it.
	window bool
}

func (d *debouncer) join() (*txn.Transaction, bool, error) { return d.open() }

func (d *debouncer) added(tx *txn.Transaction) ([]*txn.Transaction, error) {
	d.after(d.cfg.Wait, d.expire)
	if d.cfg.Leading && !d.window {
		d.window = true
		return d.take(), nil
	}
	return nil, nil
}

func (d *debouncer) expire() []*txn.Transaction {
	d.window = false
	return d.take()
}

func (d *debouncer) discard(*txn.Transaction) { d.pending = nil }

func (d *debouncer) flush() []*txn.Transaction {
	d.stop()
	return d.expire()
}

type throttler struct {
	*pacer
	cfg Throttle

	window bool
}

func (t *throttler) join() (*txn.Transaction, bool, error) { return t.open() }

func (t *throttler) added(tx *txn.Transaction) ([]*txn.Transaction, error) {
	if t.window {
		return nil, nil
	}
	t.window = true
	t.after(t.cfg.Wait, t.expire)
	if t.cfg.Leading {
		return t.take(), nil
	}
	return nil, nil
}

// expire closes the window. A trailing flush opens the next one, so two
// flushes are always at least Wait apart. Without Trailing, calls from the
// window stay pending and go out with the next leading flush.
func (t *throttler) expire() []*txn.Transaction {
	t.window = false
	if t.pending == nil || !t.cfg.Trailing {
		return nil
	}
	t.window = true
	t.after(t.cfg.Wait, t.expire)
	return t.take()
}

func (t *throttler) discard(*txn.Transaction) { t.pending = nil }

func (t *throttler) flush() []*txn.Transaction {
	t.stop()
	t.window = false
	return t.take()
}

type queuer struct {
	*pacer
	cfg Queue

	items   []*txn.Transaction
	running bool
}

// join gives every call its own transaction. Queued transactions are
// isolated so a failed item never rolls back the ones behind it.
func (q *queuer) join() (*txn.Transaction, bool, error) {
	tx, err := q.manager.New(q.fn, txn.WithAutoCommit(false), txn.WithIsolation())
	return tx, true, err
}

func (q *queuer) added(tx *txn.Transaction) ([]*txn.Transaction, error) {
	if q.cfg.MaxSize > 0 && len(q.items) >= q.cfg.MaxSize {
		return nil, &Error{Code: ErrCodeQueueFull, Message: fmt.Sprintf("%d items are waiting", len(q.items)), Strategy: q.cfg.Name()}
	}
	q.items = append(q.items, tx)
	if !q.running {
		q.running = true
		go q.run()
	}
	return nil, nil
}

// run persists queued items one at a time until the queue is empty.
func (q *queuer) run() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		tx := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		if err := tx.Commit(q.ctx); err != nil {
			q.logger.Debug("queued transaction failed", "tx", tx.ID(), "error", err)
		}
		q.persisted.Add(1)

		if q.cfg.Wait > 0 {
			done := make(chan struct{})
			q.clock.AfterFunc(q.cfg.Wait, func() { close(done) })
			<-done
		}
	}
}

func (q *queuer) discard(*txn.Transaction) {}

func (q *queuer) flush() []*txn.Transaction { return nil }
