package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/queryir"
)

// feed is one running sync session. seen holds the keys the collection has
// received, so every write maps to the right insert, update or delete.
type feed struct {
	mu    sync.Mutex
	w     collection.SyncWriter
	match queryir.Predicate
	seen  map[ir.Key]struct{}
}

// SyncFunc returns a collection SyncFunc for the named collection. It loads
// the rows matching where, marks the collection ready and then delivers
// every later write until the collection is cleaned up.
//
// A row that stops matching where is delivered as a delete.
func (s *Store) SyncFunc(name string, where queryir.Expr) (collection.SyncFunc, error) {
	f, err := s.newFilter(where)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, w collection.SyncWriter) error {
		fd := &feed{w: w, match: f.match, seen: make(map[ir.Key]struct{})}

		// Register before loading: a write that lands in between is seen
		// by both, and the second delivery becomes an update.
		fd.mu.Lock()
		defer fd.mu.Unlock()
		s.register(name, fd)

		rows, err := s.load(ctx, name, f)
		if err != nil {
			s.unregister(name, fd)
			return err
		}

		if err := w.Begin(); err != nil {
			s.unregister(name, fd)
			return err
		}
		for _, r := range rows {
			if err := w.Write(collection.SyncMessage{Type: collection.ChangeInsert, Key: r.Key, Value: r.Value}); err != nil {
				w.Rollback()
				s.unregister(name, fd)
				return err
			}
			fd.seen[r.Key] = struct{}{}
		}
		if err := w.Commit(); err != nil {
			s.unregister(name, fd)
			return err
		}
		w.MarkReady()
		s.logger.Debug("sync loaded", "collection", name, "rows", len(rows))

		go func() {
			<-ctx.Done()
			s.unregister(name, fd)
		}()
		return nil
	}, nil
}

// Config returns a collection config backed by the store: rows load and
// stream through SyncFunc, and mutations outside explicit transactions are
// persisted with Persist.
func (s *Store) Config(id string, getKey collection.GetKeyFunc, where queryir.Expr) (collection.Config, error) {
	if id == "" {
		return collection.Config{}, fmt.Errorf("store config: collection id is required")
	}
	syncFn, err := s.SyncFunc(id, where)
	if err != nil {
		return collection.Config{}, err
	}
	persist := func(ctx context.Context, p collection.MutationParams) error {
		return s.Persist(ctx, p.Transaction)
	}
	return collection.Config{
		ID:            id,
		GetKey:        getKey,
		Sync:          syncFn,
		OnInsert:      persist,
		OnUpdate:      persist,
		OnDelete:      persist,
		RowUpdateMode: collection.RowUpdateFull,
	}, nil
}

func (s *Store) register(name string, fd *feed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[name] = append(s.feeds[name], fd)
}

func (s *Store) unregister(name string, fd *feed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[name] = slices.DeleteFunc(s.feeds[name], func(x *feed) bool { return x == fd })
	if len(s.feeds[name]) == 0 {
		delete(s.feeds, name)
	}
}

// Feeds returns the number of running sync sessions for a collection.
func (s *Store) Feeds(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feeds[name])
}

// publish delivers written changes to the feeds of their collections, one
// batch per feed.
func (s *Store) publish(changes []change) {
	byCollection := make(map[string][]change)
	for _, c := range changes {
		byCollection[c.collection] = append(byCollection[c.collection], c)
	}

	s.mu.Lock()
	type delivery struct {
		fd      *feed
		name    string
		changes []change
	}
	var deliveries []delivery
	for name, cs := range byCollection {
		for _, fd := range s.feeds[name] {
			deliveries = append(deliveries, delivery{fd: fd, name: name, changes: cs})
		}
	}
	s.mu.Unlock()

	for _, d := range deliveries {
		if err := d.fd.deliver(d.changes); err != nil {
			s.logger.Warn("sync delivery failed", "collection", d.name, "error", err)
		}
	}
}

func (fd *feed) deliver(changes []change) error {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	var msgs []collection.SyncMessage
	for _, c := range changes {
		_, had := fd.seen[c.key]
		matches := c.row != nil && fd.match(c.row)
		switch {
		case matches && had:
			msgs = append(msgs, collection.SyncMessage{Type: collection.ChangeUpdate, Key: c.key, Value: c.row})
		case matches:
			msgs = append(msgs, collection.SyncMessage{Type: collection.ChangeInsert, Key: c.key, Value: c.row})
			fd.seen[c.key] = struct{}{}
		case had:
			msgs = append(msgs, collection.SyncMessage{Type: collection.ChangeDelete, Key: c.key})
			delete(fd.seen, c.key)
		}
	}
	if len(msgs) == 0 {
		return nil
	}

	if err := fd.w.Begin(); err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := fd.w.Write(msg); err != nil {
			fd.w.Rollback()
			return err
		}
	}
	return fd.w.Commit()
}
