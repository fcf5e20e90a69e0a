package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/txn"
)

// change is one row write, as delivered to sync feeds.
type change struct {
	collection string
	key        ir.Key
	row        ir.IRObject // nil for deletes
}

// Persist writes the mutations of tx. It has the shape of txn.MutationFn.
//
// All mutations are written in one SQL transaction together with the
// transaction id; a transaction that was already persisted is skipped.
// Inserts and updates store the full modified row.
func (s *Store) Persist(ctx context.Context, tx *txn.Transaction) error {
	return s.persist(ctx, tx, nil)
}

// PersistFor is Persist restricted to the mutations of the named
// collections, for transactions that also write elsewhere.
func (s *Store) PersistFor(ids ...string) txn.MutationFn {
	return func(ctx context.Context, tx *txn.Transaction) error {
		return s.persist(ctx, tx, func(id string) bool { return slices.Contains(ids, id) })
	}
}

func (s *Store) persist(ctx context.Context, tx *txn.Transaction, keep func(string) bool) error {
	var changes []change
	for _, m := range tx.Mutations() {
		id := m.Participant.ParticipantID()
		if keep != nil && !keep(id) {
			continue
		}
		c := change{collection: id, key: m.Key}
		if m.Type != txn.MutationDelete {
			c.row = m.Modified
		}
		changes = append(changes, c)
	}
	if len(changes) == 0 {
		return nil
	}

	written, err := s.write(ctx, tx.ID(), changes)
	if err != nil {
		return fmt.Errorf("persist %s: %w", tx.ID(), err)
	}
	if !written {
		s.logger.Debug("transaction already persisted", "tx", tx.ID())
		return nil
	}
	s.logger.Debug("transaction persisted", "tx", tx.ID(), "mutations", len(changes))
	s.publish(changes)
	return nil
}

// Put writes rows to a collection directly, as a remote writer would. Rows
// are keyed with getKey.
func (s *Store) Put(ctx context.Context, collection string, getKey func(ir.IRObject) ir.Key, rows ...ir.IRObject) error {
	if len(rows) == 0 {
		return nil
	}
	changes := make([]change, len(rows))
	for i, row := range rows {
		key := getKey(row)
		if err := ir.ValidateKey(key); err != nil {
			return fmt.Errorf("put %s: row %d: %w", collection, i, err)
		}
		changes[i] = change{collection: collection, key: key, row: row}
	}
	if _, err := s.write(ctx, s.ids.Generate(), changes); err != nil {
		return fmt.Errorf("put %s: %w", collection, err)
	}
	s.publish(changes)
	return nil
}

// Remove deletes rows from a collection directly. Missing keys are ignored.
func (s *Store) Remove(ctx context.Context, collection string, keys ...ir.Key) error {
	if len(keys) == 0 {
		return nil
	}
	changes := make([]change, len(keys))
	for i, key := range keys {
		changes[i] = change{collection: collection, key: key}
	}
	if _, err := s.write(ctx, s.ids.Generate(), changes); err != nil {
		return fmt.Errorf("remove %s: %w", collection, err)
	}
	s.publish(changes)
	return nil
}

// write applies changes under transaction id. It reports false when the id
// was already written.
func (s *Store) write(ctx context.Context, id string, changes []change) (bool, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx, `
		INSERT INTO transactions (id, mutations)
		VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, len(changes))
	if err != nil {
		return false, fmt.Errorf("record transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record transaction: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("record transaction: %w", err)
	}

	for _, c := range changes {
		if err := writeRow(ctx, sqlTx, seq, c); err != nil {
			return false, err
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func writeRow(ctx context.Context, sqlTx *sql.Tx, seq int64, c change) error {
	key := ir.KeyString(c.key)
	if c.row == nil {
		if _, err := sqlTx.ExecContext(ctx, `
			DELETE FROM rows WHERE collection = ? AND key = ?
		`, c.collection, key); err != nil {
			return fmt.Errorf("delete %s %s: %w", c.collection, key, err)
		}
		return nil
	}

	data, err := json.Marshal(c.row)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", c.collection, key, err)
	}
	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO rows (collection, key, row, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET row = excluded.row, seq = excluded.seq
	`, c.collection, key, string(data), seq)
	if err != nil {
		return fmt.Errorf("write %s %s: %w", c.collection, key, err)
	}
	return nil
}
