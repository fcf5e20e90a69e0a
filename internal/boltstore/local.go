package boltstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/txn"
)

// Config describes a local collection.
type Config struct {
	// ID names the collection. Defaults to "local-collection:<Bucket>".
	ID string

	// Bucket is the Bolt bucket holding the rows.
	Bucket string

	GetKey collection.GetKeyFunc

	// Optional handlers run before the mutations are written.
	OnInsert collection.MutationHandler
	OnUpdate collection.MutationHandler
	OnDelete collection.MutationHandler

	AutoIndex collection.AutoIndexMode
	GCTime    time.Duration
}

// Local is a collection persisted in a Bolt bucket.
//
// Mutations outside an explicit transaction are written by the collection's
// handlers. Inside an explicit transaction they are written only when the
// transaction's MutationFn calls AcceptMutations.
type Local struct {
	*collection.Collection

	db     *DB
	bucket string

	mu     sync.Mutex
	writer collection.SyncWriter

	// known maps every row the collection was given to its version key.
	known map[ir.Key]string
}

// Collection opens a local collection on cfg.Bucket and starts its sync.
func (db *DB) Collection(cfg Config, opts ...collection.Option) (*Local, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("boltstore: bucket is required")
	}
	id := cfg.ID
	if id == "" {
		id = "local-collection:" + cfg.Bucket
	}

	l := &Local{db: db, bucket: cfg.Bucket, known: make(map[ir.Key]string)}

	persist := func(user collection.MutationHandler) collection.MutationHandler {
		return func(ctx context.Context, p collection.MutationParams) error {
			if user != nil {
				if err := user(ctx, p); err != nil {
					return err
				}
			}
			return l.AcceptMutations(p.Transaction)
		}
	}

	c, err := collection.New(collection.Config{
		ID:            id,
		GetKey:        cfg.GetKey,
		Sync:          l.sync,
		OnInsert:      persist(cfg.OnInsert),
		OnUpdate:      persist(cfg.OnUpdate),
		OnDelete:      persist(cfg.OnDelete),
		AutoIndex:     cfg.AutoIndex,
		RowUpdateMode: collection.RowUpdateFull,
		GCTime:        cfg.GCTime,
		StartSync:     true,
	}, opts...)
	if err != nil {
		return nil, err
	}
	l.Collection = c
	return l, nil
}

// sync loads the bucket and keeps the writer for confirmations and reloads
// until the collection is cleaned up.
func (l *Local) sync(ctx context.Context, w collection.SyncWriter) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := l.load()
	if err != nil {
		return err
	}

	if err := w.Begin(); err != nil {
		return err
	}
	for key, it := range data {
		if err := w.Write(collection.SyncMessage{Type: collection.ChangeInsert, Key: key, Value: it.row}); err != nil {
			w.Rollback()
			return err
		}
	}
	if err := w.Commit(); err != nil {
		return err
	}
	w.MarkReady()

	l.writer = w
	l.known = versions(data)
	l.db.register(l.bucket, l)

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		defer l.mu.Unlock()
		// A restarted sync owns the registration now.
		if l.writer == w {
			l.writer = nil
			l.db.unregister(l.bucket, l)
		}
	}()
	return nil
}

type loadedItem struct {
	version string
	row     ir.IRObject
}

func versions(data map[ir.Key]loadedItem) map[ir.Key]string {
	out := make(map[ir.Key]string, len(data))
	for k, it := range data {
		out[k] = it.version
	}
	return out
}

// load reads every row of the bucket. A missing bucket is empty.
func (l *Local) load() (map[ir.Key]loadedItem, error) {
	data := make(map[ir.Key]loadedItem)
	err := l.db.bdb.View(func(btx *bbolt.Tx) error {
		b := btx.Bucket([]byte(l.bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			key, err := DecodeKey(k)
			if err != nil {
				return err
			}
			version, row, err := decodeItem(v)
			if err != nil {
				return fmt.Errorf("%w (key %s)", err, k)
			}
			data[key] = loadedItem{version: version, row: row}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: load %s: %w", l.bucket, err)
	}
	return data, nil
}

// AcceptMutations writes the mutations of tx that belong to this collection
// and confirms them through sync.
func (l *Local) AcceptMutations(tx *txn.Transaction) error {
	var muts []txn.Mutation
	for _, m := range tx.Mutations() {
		if m.Participant == txn.Participant(l.Collection) {
			muts = append(muts, m)
		}
	}
	if len(muts) == 0 {
		return nil
	}

	l.mu.Lock()
	written, err := l.write(muts)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	for k, v := range written {
		if v == "" {
			delete(l.known, k)
		} else {
			l.known[k] = v
		}
	}
	err = l.confirm(muts)
	l.mu.Unlock()
	if err != nil {
		return err
	}

	l.db.notify(l.bucket, l)
	return nil
}

// write stores muts in one Bolt transaction and returns the new version key
// per row, empty for deletes.
func (l *Local) write(muts []txn.Mutation) (map[ir.Key]string, error) {
	written := make(map[ir.Key]string, len(muts))
	err := l.db.bdb.Update(func(btx *bbolt.Tx) error {
		b, err := btx.CreateBucketIfNotExists([]byte(l.bucket))
		if err != nil {
			return err
		}
		for _, m := range muts {
			k, err := EncodeKey(m.Key)
			if err != nil {
				return err
			}
			if m.Type == txn.MutationDelete {
				if err := b.Delete(k); err != nil {
					return err
				}
				written[m.Key] = ""
				continue
			}
			version := l.db.ids.Generate()
			v, err := encodeItem(version, m.Modified)
			if err != nil {
				return err
			}
			if err := b.Put(k, v); err != nil {
				return err
			}
			written[m.Key] = version
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: write %s: %w", l.bucket, err)
	}
	return written, nil
}

// confirm writes muts through the sync writer. Without a running sync the
// rows are picked up by the next load.
func (l *Local) confirm(muts []txn.Mutation) error {
	w := l.writer
	if w == nil {
		return nil
	}
	if err := w.Begin(); err != nil {
		return err
	}
	for _, m := range muts {
		msg := collection.SyncMessage{Key: m.Key, Value: m.Modified}
		switch m.Type {
		case txn.MutationInsert:
			msg.Type = collection.ChangeInsert
		case txn.MutationUpdate:
			msg.Type = collection.ChangeUpdate
		default:
			msg = collection.SyncMessage{Type: collection.ChangeDelete, Key: m.Key}
		}
		if err := w.Write(msg); err != nil {
			w.Rollback()
			return err
		}
	}
	return w.Commit()
}

// Reload reads the bucket and applies what changed since the collection last
// saw it, comparing version keys.
func (l *Local) Reload() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.writer
	if w == nil {
		return nil
	}

	data, err := l.load()
	if err != nil {
		return err
	}

	var msgs []collection.SyncMessage
	for key, version := range l.known {
		it, ok := data[key]
		switch {
		case !ok:
			msgs = append(msgs, collection.SyncMessage{Type: collection.ChangeDelete, Key: key})
		case it.version != version:
			msgs = append(msgs, collection.SyncMessage{Type: collection.ChangeUpdate, Key: key, Value: it.row})
		}
	}
	for key, it := range data {
		if _, ok := l.known[key]; !ok {
			msgs = append(msgs, collection.SyncMessage{Type: collection.ChangeInsert, Key: key, Value: it.row})
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
	if err := w.Commit(); err != nil {
		return err
	}
	l.known = versions(data)
	return nil
}

// Clear removes the bucket. Other collections on the bucket reload and see
// every row deleted; this collection keeps its rows until Reload.
func (l *Local) Clear() error {
	err := l.db.bdb.Update(func(btx *bbolt.Tx) error {
		err := btx.DeleteBucket([]byte(l.bucket))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("boltstore: clear %s: %w", l.bucket, err)
	}
	l.db.notify(l.bucket, l)
	return nil
}

// StorageSize returns the bytes held by the bucket's keys and values.
func (l *Local) StorageSize() (int64, error) {
	var size int64
	err := l.db.bdb.View(func(btx *bbolt.Tx) error {
		b := btx.Bucket([]byte(l.bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			size += int64(len(k) + len(v))
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("boltstore: size %s: %w", l.bucket, err)
	}
	return size, nil
}
