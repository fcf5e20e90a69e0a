package boltstore

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/roach88/livedb/internal/engine"
)

// DB is a Bolt database holding local collections.
type DB struct {
	bdb    *bbolt.DB
	logger *slog.Logger
	ids    engine.IDGenerator

	mu     sync.Mutex
	locals map[string][]*Local // by bucket
}

// Options configures Open.
type Options struct {
	Logger *slog.Logger

	// VersionKeys generates row version keys. Defaults to UUIDv7.
	VersionKeys engine.IDGenerator

	// IsTesting skips fsync and keeps the initial mmap small.
	IsTesting bool
}

// Open opens or creates the database at path.
func Open(path string, opt Options) (*DB, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}

	bdb, err := bbolt.Open(path, 0o666, &bopt)
	if err != nil {
		return nil, fmt.Errorf("boltstore: %w", err)
	}

	db := &DB{
		bdb:    bdb,
		logger: opt.Logger,
		ids:    opt.VersionKeys,
		locals: make(map[string][]*Local),
	}
	if db.logger == nil {
		db.logger = slog.Default()
	}
	if db.ids == nil {
		db.ids = engine.UUIDv7Generator{}
	}
	return db, nil
}

// Bolt returns the underlying Bolt database.
func (db *DB) Bolt() *bbolt.DB {
	return db.bdb
}

// Close closes the database.
func (db *DB) Close() error {
	if err := db.bdb.Close(); err != nil {
		return fmt.Errorf("boltstore: closing: %w", err)
	}
	return nil
}

func (db *DB) register(bucket string, l *Local) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !slices.Contains(db.locals[bucket], l) {
		db.locals[bucket] = append(db.locals[bucket], l)
	}
}

func (db *DB) unregister(bucket string, l *Local) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.locals[bucket] = slices.DeleteFunc(db.locals[bucket], func(x *Local) bool { return x == l })
	if len(db.locals[bucket]) == 0 {
		delete(db.locals, bucket)
	}
}

// notify reloads every collection on bucket except from.
func (db *DB) notify(bucket string, from *Local) {
	db.mu.Lock()
	others := slices.DeleteFunc(slices.Clone(db.locals[bucket]), func(x *Local) bool { return x == from })
	db.mu.Unlock()

	for _, l := range others {
		if err := l.Reload(); err != nil {
			db.logger.Warn("reload after write failed", "bucket", bucket, "collection", l.ID(), "error", err)
		}
	}
}
