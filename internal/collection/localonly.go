package collection

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/txn"
)

// LocalOnlyConfig describes an in-memory collection without a remote source.
type LocalOnlyConfig struct {
	ID          string
	GetKey      GetKeyFunc
	InitialData []ir.IRObject

	// Optional handlers run before the mutation is confirmed locally.
	OnInsert MutationHandler
	OnUpdate MutationHandler
	OnDelete MutationHandler

	AutoIndex AutoIndexMode
}

// LocalOnly is a collection whose mutations are confirmed by writing them
// through its own sync writer.
//
// Mutations made inside an explicit transaction are confirmed only when the
// transaction's MutationFn calls AcceptMutations.
type LocalOnly struct {
	*Collection

	mu     sync.Mutex // serializes confirmation batches
	writer SyncWriter
}

// NewLocalOnly creates a ready local-only collection seeded with
// cfg.InitialData.
func NewLocalOnly(cfg LocalOnlyConfig, opts ...Option) (*LocalOnly, error) {
	lo := &LocalOnly{}

	confirm := func(user MutationHandler) MutationHandler {
		return func(ctx context.Context, p MutationParams) error {
			if user != nil {
				if err := user(ctx, p); err != nil {
					return err
				}
			}
			return lo.AcceptMutations(p.Transaction)
		}
	}

	c, err := New(Config{
		ID:     cfg.ID,
		GetKey: cfg.GetKey,
		Sync: func(_ context.Context, w SyncWriter) error {
			lo.mu.Lock()
			defer lo.mu.Unlock()
			lo.writer = w

			if err := w.Begin(); err != nil {
				return err
			}
			for _, row := range cfg.InitialData {
				if err := w.Write(SyncMessage{Type: ChangeInsert, Value: row}); err != nil {
					return err
				}
			}
			if err := w.Commit(); err != nil {
				return err
			}
			w.MarkReady()
			return nil
		},
		OnInsert:      confirm(cfg.OnInsert),
		OnUpdate:      confirm(cfg.OnUpdate),
		OnDelete:      confirm(cfg.OnDelete),
		AutoIndex:     cfg.AutoIndex,
		RowUpdateMode: RowUpdateFull,
		GCTime:        -1,
		StartSync:     true,
	}, opts...)
	if err != nil {
		return nil, err
	}
	lo.Collection = c
	return lo, nil
}

// AcceptMutations confirms the mutations of tx that belong to this
// collection.
func (lo *LocalOnly) AcceptMutations(tx *txn.Transaction) error {
	lo.mu.Lock()
	defer lo.mu.Unlock()
	w := lo.writer
	if w == nil {
		return fmt.Errorf("local-only collection %s is not syncing", lo.ID())
	}

	var msgs []SyncMessage
	for _, m := range tx.Mutations() {
		if m.Participant != txn.Participant(lo.Collection) {
			continue
		}
		switch m.Type {
		case txn.MutationInsert:
			msgs = append(msgs, SyncMessage{Type: ChangeInsert, Key: m.Key, Value: m.Modified})
		case txn.MutationUpdate:
			msgs = append(msgs, SyncMessage{Type: ChangeUpdate, Key: m.Key, Value: m.Modified})
		case txn.MutationDelete:
			msgs = append(msgs, SyncMessage{Type: ChangeDelete, Key: m.Key})
		}
	}
	if len(msgs) == 0 {
		return nil
	}

	if err := w.Begin(); err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := w.Write(msg); err != nil {
			w.Rollback()
			return err
		}
	}
	return w.Commit()
}
