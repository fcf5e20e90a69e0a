package txn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/livedb/internal/ir"
)

// State is the lifecycle state of a transaction.
type State string

const (
	StatePending    State = "pending"
	StatePersisting State = "persisting"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// IsTerminal reports whether s is completed or failed.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// MutationFn persists the mutations of a transaction. Returning an error
// rolls the transaction back.
type MutationFn func(ctx context.Context, tx *Transaction) error

// Option configures a Transaction.
type Option func(*Transaction)

// WithID sets an explicit transaction id.
func WithID(id string) Option {
	return func(tx *Transaction) {
		tx.id = id
	}
}

// WithAutoCommit controls whether Mutate commits when its callback returns.
// Default true.
func WithAutoCommit(auto bool) Option {
	return func(tx *Transaction) {
		tx.autoCommit = auto
	}
}

// WithMetadata attaches caller metadata.
func WithMetadata(md ir.IRObject) Option {
	return func(tx *Transaction) {
		tx.metadata = md
	}
}

// WithIsolation keeps the transaction pending when another transaction
// touching the same rows fails. Its own failure still cascades.
func WithIsolation() Option {
	return func(tx *Transaction) {
		tx.isolated = true
	}
}

// Transaction is a set of pending mutations persisted together.
//
// Thread-safety: all methods are safe for concurrent use. Participant
// callbacks and the MutationFn run without the transaction lock held.
type Transaction struct {
	manager    *Manager
	id         string
	seq        int64
	createdAt  time.Time
	mutationFn MutationFn
	autoCommit bool
	isolated   bool
	metadata   ir.IRObject

	mu        sync.Mutex
	state     State
	mutations []*Mutation
	err       error
	done      chan struct{}
}

// ID returns the transaction id.
func (tx *Transaction) ID() string { return tx.id }

// Seq returns the creation sequence number.
func (tx *Transaction) Seq() int64 { return tx.seq }

// CreatedAt returns the creation time.
func (tx *Transaction) CreatedAt() time.Time { return tx.createdAt }

// AutoCommit reports whether Mutate commits automatically.
func (tx *Transaction) AutoCommit() bool { return tx.autoCommit }

// Metadata returns caller metadata.
func (tx *Transaction) Metadata() ir.IRObject { return tx.metadata }

// State returns the current state.
func (tx *Transaction) State() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// Mutations returns a snapshot of the merged mutations in first-seen order.
func (tx *Transaction) Mutations() []Mutation {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	out := make([]Mutation, len(tx.mutations))
	for i, m := range tx.mutations {
		out[i] = *m
	}
	return out
}

// Touches reports whether the transaction holds a mutation for globalKey.
func (tx *Transaction) Touches(globalKey string) bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for _, m := range tx.mutations {
		if m.GlobalKey == globalKey {
			return true
		}
	}
	return false
}

// Err returns the failure cause once the transaction failed, nil otherwise.
func (tx *Transaction) Err() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.err
}

// Done is closed when the transaction reaches completed or failed.
func (tx *Transaction) Done() <-chan struct{} {
	return tx.done
}

// Wait blocks until the transaction is persisted or failed and its
// participants have been notified.
// It returns the failure cause, or ctx.Err() if ctx ends first.
func (tx *Transaction) Wait(ctx context.Context) error {
	select {
	case <-tx.done:
		return tx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CompareCreatedAt orders transactions by creation time, then sequence.
func (tx *Transaction) CompareCreatedAt(other *Transaction) int {
	if c := tx.createdAt.Compare(other.createdAt); c != 0 {
		return c
	}
	switch {
	case tx.seq < other.seq:
		return -1
	case tx.seq > other.seq:
		return 1
	}
	return 0
}

// ApplyMutations merges ms into the transaction.
func (tx *Transaction) ApplyMutations(ms ...*Mutation) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != StatePending {
		return &Error{Code: ErrCodeNotPendingMutate, Message: fmt.Sprintf("cannot mutate a %s transaction", tx.state), TxID: tx.id}
	}

	for _, incoming := range ms {
		idx := -1
		for i, m := range tx.mutations {
			if m.GlobalKey == incoming.GlobalKey {
				idx = i
				break
			}
		}
		if idx < 0 {
			tx.mutations = append(tx.mutations, incoming)
			continue
		}
		merged := mergeMutations(tx.mutations[idx], incoming)
		if merged == nil {
			tx.mutations = append(tx.mutations[:idx], tx.mutations[idx+1:]...)
		} else {
			tx.mutations[idx] = merged
		}
	}
	return nil
}

// Mutate runs fn with tx as the ambient transaction of ctx. When the
// transaction auto-commits, persistence starts in the background once fn
// returns without error; observe it with Wait.
func (tx *Transaction) Mutate(ctx context.Context, fn func(ctx context.Context) error) error {
	if st := tx.State(); st != StatePending {
		return &Error{Code: ErrCodeNotPendingMutate, Message: fmt.Sprintf("cannot mutate a %s transaction", st), TxID: tx.id}
	}
	if err := fn(WithTransaction(ctx, tx)); err != nil {
		return err
	}
	if tx.autoCommit {
		return tx.CommitAsync(ctx)
	}
	return nil
}

// Commit persists the transaction and blocks until the MutationFn returns.
// A MutationFn error rolls the transaction back and is returned wrapped in a
// PERSIST_FAILED *Error.
func (tx *Transaction) Commit(ctx context.Context) error {
	empty, err := tx.beginCommit()
	if err != nil {
		return err
	}
	if empty {
		return nil
	}
	return tx.persist(ctx)
}

// CommitAsync moves the transaction to persisting and runs the MutationFn on
// a new goroutine. The result is observed with Wait, Done and Err.
func (tx *Transaction) CommitAsync(ctx context.Context) error {
	empty, err := tx.beginCommit()
	if err != nil {
		return err
	}
	if !empty {
		go func() {
			_ = tx.persist(context.WithoutCancel(ctx))
		}()
	}
	return nil
}

func (tx *Transaction) beginCommit() (empty bool, err error) {
	tx.mu.Lock()
	if tx.state != StatePending {
		st := tx.state
		tx.mu.Unlock()
		return false, &Error{Code: ErrCodeNotPendingCommit, Message: fmt.Sprintf("cannot commit a %s transaction", st), TxID: tx.id}
	}
	tx.state = StatePersisting
	empty = len(tx.mutations) == 0
	if empty {
		tx.state = StateCompleted
		close(tx.done)
	}
	tx.mu.Unlock()

	if empty {
		tx.manager.forget(tx)
		tx.manager.logger.Debug("transaction completed", "tx", tx.id, "mutations", 0)
		return true, nil
	}

	tx.manager.logger.Debug("transaction persisting", "tx", tx.id)
	tx.touchParticipants()
	return false, nil
}

func (tx *Transaction) persist(ctx context.Context) error {
	if err := tx.mutationFn(ctx, tx); err != nil {
		cause := &Error{Code: ErrCodePersistFailed, Message: "mutation function failed", TxID: tx.id, Err: err}
		tx.manager.logger.Warn("transaction failed", "tx", tx.id, "error", err)
		tx.rollback(cause, false)
		return cause
	}

	tx.mu.Lock()
	if tx.state == StateFailed {
		// Rolled back while the MutationFn ran.
		err := tx.err
		tx.mu.Unlock()
		return err
	}
	tx.state = StateCompleted
	tx.mu.Unlock()

	tx.manager.forget(tx)
	tx.manager.logger.Debug("transaction completed", "tx", tx.id)
	tx.touchParticipants()
	close(tx.done)
	return nil
}

// Rollback fails the transaction, discarding its optimistic state, and rolls
// back other pending transactions that touch the same rows.
func (tx *Transaction) Rollback() error {
	return tx.rollback(&Error{Code: ErrCodeRolledBack, Message: "transaction rolled back", TxID: tx.id}, false)
}

func (tx *Transaction) rollback(cause error, secondary bool) error {
	tx.mu.Lock()
	switch tx.state {
	case StateCompleted:
		tx.mu.Unlock()
		return &Error{Code: ErrCodeAlreadyCompleted, Message: "cannot roll back a completed transaction", TxID: tx.id}
	case StateFailed:
		tx.mu.Unlock()
		return nil
	}
	tx.state = StateFailed
	tx.err = cause
	keys := make(map[string]struct{}, len(tx.mutations))
	for _, m := range tx.mutations {
		keys[m.GlobalKey] = struct{}{}
	}
	tx.mu.Unlock()

	tx.manager.forget(tx)

	if !secondary {
		for _, other := range tx.manager.Live() {
			if other.isolated || other.State() != StatePending || !other.touchesAny(keys) {
				continue
			}
			tx.manager.logger.Debug("cascading rollback", "tx", other.id, "cause", tx.id)
			_ = other.rollback(&Error{
				Code:    ErrCodeRolledBack,
				Message: fmt.Sprintf("rolled back with transaction %s", tx.id),
				TxID:    other.id,
			}, true)
		}
	}

	tx.touchParticipants()
	close(tx.done)
	return nil
}

func (tx *Transaction) touchesAny(keys map[string]struct{}) bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for _, m := range tx.mutations {
		if _, ok := keys[m.GlobalKey]; ok {
			return true
		}
	}
	return false
}

// touchParticipants notifies each distinct participant once, in first-seen order.
func (tx *Transaction) touchParticipants() {
	tx.mu.Lock()
	var parts []Participant
	seen := make(map[string]bool)
	for _, m := range tx.mutations {
		if m.Participant == nil {
			continue
		}
		id := m.Participant.ParticipantID()
		if !seen[id] {
			seen[id] = true
			parts = append(parts, m.Participant)
		}
	}
	tx.mu.Unlock()

	for _, p := range parts {
		p.OnTransactionStateChange(tx)
	}
}
