package collection

import (
	"context"
	"fmt"

	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/txn"
)

// Insert adds rows to the optimistic layer.
//
// With an ambient transaction in ctx (txn.WithTransaction) the mutations join
// it. Otherwise an auto-commit transaction is created and Config.OnInsert
// persists it in the background. Subscribers see the rows before Insert
// returns.
func (c *Collection) Insert(ctx context.Context, rows ...ir.IRObject) (*txn.Transaction, error) {
	return c.mutate(ctx, "insert", c.cfg.OnInsert, func() ([]*txn.Mutation, error) {
		seen := make(map[ir.Key]struct{}, len(rows))
		ms := make([]*txn.Mutation, 0, len(rows))
		for _, row := range rows {
			key := c.cfg.GetKey(row)
			if err := ir.ValidateKey(key); err != nil {
				return nil, &Error{Code: ErrCodeInvalidKey, Message: err.Error(), Collection: c.id, Key: ir.KeyString(key)}
			}
			_, dup := seen[key]
			if _, exists := c.visibleLocked(key); dup || exists {
				return nil, &Error{Code: ErrCodeDuplicateKey, Message: "a row with this key already exists", Collection: c.id, Key: ir.KeyString(key)}
			}
			seen[key] = struct{}{}

			ms = append(ms, c.newMutation(txn.MutationInsert, key, ir.IRObject{}, row.Clone(), row.Clone()))
		}
		return ms, nil
	})
}

// Update applies recipe to a copy of the row at key. Only fields that
// changed are recorded.
func (c *Collection) Update(ctx context.Context, key ir.Key, recipe func(draft ir.IRObject)) (*txn.Transaction, error) {
	return c.UpdateMany(ctx, []ir.Key{key}, func(_ ir.Key, draft ir.IRObject) {
		recipe(draft)
	})
}

// UpdateMany applies recipe to a copy of each row in keys within one
// transaction. Rows the recipe leaves unchanged produce no mutation.
func (c *Collection) UpdateMany(ctx context.Context, keys []ir.Key, recipe func(key ir.Key, draft ir.IRObject)) (*txn.Transaction, error) {
	return c.mutate(ctx, "update", c.cfg.OnUpdate, func() ([]*txn.Mutation, error) {
		ms := make([]*txn.Mutation, 0, len(keys))
		for _, key := range keys {
			if err := ir.ValidateKey(key); err != nil {
				return nil, &Error{Code: ErrCodeInvalidKey, Message: err.Error(), Collection: c.id, Key: ir.KeyString(key)}
			}
			row, ok := c.visibleLocked(key)
			if !ok {
				return nil, &Error{Code: ErrCodeKeyNotFound, Message: "update of a missing row", Collection: c.id, Key: ir.KeyString(key)}
			}

			draft := row.Clone()
			recipe(key, draft)
			if !ir.Equal(c.cfg.GetKey(draft), key) {
				return nil, &Error{Code: ErrCodeKeyChange, Message: "update changed the row key", Collection: c.id, Key: ir.KeyString(key)}
			}

			changes := changedFields(row, draft)
			if len(changes) == 0 && len(draft) == len(row) {
				continue
			}
			ms = append(ms, c.newMutation(txn.MutationUpdate, key, row, draft, changes))
		}
		return ms, nil
	})
}

// Delete removes rows from the optimistic layer. Repeated keys are ignored.
func (c *Collection) Delete(ctx context.Context, keys ...ir.Key) (*txn.Transaction, error) {
	return c.mutate(ctx, "delete", c.cfg.OnDelete, func() ([]*txn.Mutation, error) {
		seen := make(map[ir.Key]struct{}, len(keys))
		ms := make([]*txn.Mutation, 0, len(keys))
		for _, key := range keys {
			if err := ir.ValidateKey(key); err != nil {
				return nil, &Error{Code: ErrCodeInvalidKey, Message: err.Error(), Collection: c.id, Key: ir.KeyString(key)}
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			row, ok := c.visibleLocked(key)
			if !ok {
				return nil, &Error{Code: ErrCodeKeyNotFound, Message: "delete of a missing row", Collection: c.id, Key: ir.KeyString(key)}
			}
			ms = append(ms, c.newMutation(txn.MutationDelete, key, row, row, row))
		}
		return ms, nil
	})
}

func (c *Collection) newMutation(typ txn.MutationType, key ir.Key, original, modified, changes ir.IRObject) *txn.Mutation {
	return &txn.Mutation{
		MutationID:  c.mutationIDs.Generate(),
		Type:        typ,
		Key:         key,
		GlobalKey:   txn.GlobalKey(c.id, key),
		Original:    original,
		Modified:    modified,
		Changes:     changes,
		Participant: c,
	}
}

// mutate builds mutations under the collection lock, adds them to the
// ambient or a new implicit transaction and publishes the optimistic change.
func (c *Collection) mutate(ctx context.Context, op string, handler MutationHandler, build func() ([]*txn.Mutation, error)) (*txn.Transaction, error) {
	tx, ambient := txn.FromContext(ctx)
	if !ambient && handler == nil {
		return nil, &Error{
			Code:       ErrCodeMissingHandler,
			Message:    fmt.Sprintf("%s outside a transaction requires an On%s handler", op, handlerName(op)),
			Collection: c.id,
		}
	}

	c.mu.Lock()
	ms, err := build()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	if !ambient {
		tx, err = c.manager.New(func(ctx context.Context, tx *txn.Transaction) error {
			return handler(ctx, MutationParams{Transaction: tx, Collection: c})
		})
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
	}
	if err := tx.ApplyMutations(ms...); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.txs[tx.ID()] = tx

	keys := make([]ir.Key, len(ms))
	for i, m := range ms {
		keys[i] = m.Key
	}
	changes := c.settleLocked(keys...)
	c.mu.Unlock()

	c.emit(changes)

	if !ambient {
		if err := tx.CommitAsync(ctx); err != nil {
			c.logger.Warn("implicit transaction did not commit", "tx", tx.ID(), "error", err)
		}
	}
	return tx, nil
}

func handlerName(op string) string {
	switch op {
	case "insert":
		return "Insert"
	case "update":
		return "Update"
	default:
		return "Delete"
	}
}

// changedFields returns the fields of next that differ from prev.
func changedFields(prev, next ir.IRObject) ir.IRObject {
	out := ir.IRObject{}
	for k, v := range next {
		if old, ok := prev[k]; !ok || !ir.Equal(old, v) {
			out[k] = v
		}
	}
	return out
}
