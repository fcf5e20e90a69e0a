package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/livedb/internal/boltstore"
	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/compiler"
	"github.com/roach88/livedb/internal/engine"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/store"
	"github.com/roach88/livedb/internal/txn"
)

// EnvOptions configures OpenEnv.
type EnvOptions struct {
	// Dir holds livedb.sqlite and livedb.bolt. When empty, SQLite runs in
	// memory and Bolt uses a temporary directory removed on Close.
	Dir string

	Logger *slog.Logger

	// IDs generates transaction ids. Defaults to tx-1, tx-2, ...
	IDs engine.IDGenerator
}

// Env holds the live collections declared by a set of definitions, all
// sharing one transaction manager.
type Env struct {
	Defs    *compiler.Definitions
	Manager *txn.Manager
	Sources compiler.Sources

	logger  *slog.Logger
	tempDir string
	store   *store.Store
	bolt    *boltstore.DB
	locals  map[string]*collection.LocalOnly
	bolts   map[string]*boltstore.Local
	sqlite  []string
	colls   []*collection.Collection
}

// OpenEnv creates and seeds a collection for every collection definition.
// It returns once every collection is ready.
func OpenEnv(ctx context.Context, defs *compiler.Definitions, opts EnvOptions) (*Env, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IDs == nil {
		opts.IDs = &engine.SequenceGenerator{Prefix: "tx"}
	}

	e := &Env{
		Defs:    defs,
		Manager: txn.NewManager(txn.WithIDGenerator(opts.IDs), txn.WithManagerLogger(opts.Logger)),
		Sources: compiler.Sources{},
		logger:  opts.Logger,
		locals:  make(map[string]*collection.LocalOnly),
		bolts:   make(map[string]*boltstore.Local),
	}
	for i := range defs.Collections {
		def := &defs.Collections[i]
		if err := e.add(ctx, def, opts); err != nil {
			if cerr := e.Close(); cerr != nil {
				e.logger.Warn("closing environment", "error", cerr)
			}
			return nil, fmt.Errorf("collection %s: %w", def.Name, err)
		}
	}
	return e, nil
}

// add opens def, waits for it to be ready and registers it. A collection
// that fails after opening is still registered so Close cleans it up.
func (e *Env) add(ctx context.Context, def *compiler.CollectionDef, opts EnvOptions) error {
	c, err := e.open(ctx, def, opts)
	if err != nil {
		return err
	}
	e.colls = append(e.colls, c)
	if err := c.WaitReady(ctx); err != nil {
		return err
	}
	for _, path := range def.Indexes {
		if err := c.CreateIndex(path...); err != nil {
			return err
		}
	}
	if def.Storage == compiler.StorageBolt {
		if err := e.seedBolt(ctx, def); err != nil {
			return err
		}
	}
	e.Sources[def.Name] = c
	e.logger.Debug("collection opened", "collection", def.Name, "storage", def.Storage, "rows", c.Size())
	return nil
}

// gcTime keeps collections alive between steps unless a time is declared.
func gcTime(def *compiler.CollectionDef) time.Duration {
	if def.GCTime == 0 {
		return -1
	}
	return def.GCTime
}

func (e *Env) open(ctx context.Context, def *compiler.CollectionDef, opts EnvOptions) (*collection.Collection, error) {
	copts := []collection.Option{
		collection.WithLogger(e.logger),
		collection.WithTxnManager(e.Manager),
	}

	switch def.Storage {
	case compiler.StorageSQLite:
		st, err := e.openStore(opts)
		if err != nil {
			return nil, err
		}
		if len(def.Rows) > 0 {
			if err := st.Put(ctx, def.Name, def.GetKey(), def.Rows...); err != nil {
				return nil, err
			}
		}
		cfg, err := st.Config(def.Name, def.GetKey(), def.Where)
		if err != nil {
			return nil, err
		}
		cfg.AutoIndex = def.AutoIndex
		cfg.GCTime = gcTime(def)
		cfg.StartSync = true
		c, err := collection.New(cfg, copts...)
		if err != nil {
			return nil, err
		}
		e.sqlite = append(e.sqlite, def.Name)
		return c, nil

	case compiler.StorageBolt:
		db, err := e.openBolt(opts)
		if err != nil {
			return nil, err
		}
		bucket := def.Bucket
		if bucket == "" {
			bucket = def.Name
		}
		l, err := db.Collection(boltstore.Config{
			ID:        def.Name,
			Bucket:    bucket,
			GetKey:    def.GetKey(),
			AutoIndex: def.AutoIndex,
			GCTime:    gcTime(def),
		}, copts...)
		if err != nil {
			return nil, err
		}
		e.bolts[def.Name] = l
		return l.Collection, nil

	default:
		lo, err := collection.NewLocalOnly(collection.LocalOnlyConfig{
			ID:          def.Name,
			GetKey:      def.GetKey(),
			InitialData: def.Rows,
			AutoIndex:   def.AutoIndex,
		}, copts...)
		if err != nil {
			return nil, err
		}
		e.locals[def.Name] = lo
		return lo.Collection, nil
	}
}

// seedBolt inserts the declared rows a reopened bucket does not have yet.
func (e *Env) seedBolt(ctx context.Context, def *compiler.CollectionDef) error {
	l := e.bolts[def.Name]
	getKey := def.GetKey()
	var missing []ir.IRObject
	for _, row := range def.Rows {
		if !l.Has(getKey(row)) {
			missing = append(missing, row)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	tx, err := l.Insert(ctx, missing...)
	if err != nil {
		return err
	}
	return tx.Wait(ctx)
}

func (e *Env) openStore(opts EnvOptions) (*store.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	path := ":memory:"
	if opts.Dir != "" {
		path = filepath.Join(opts.Dir, "livedb.sqlite")
	}
	st, err := store.Open(path,
		store.WithLogger(e.logger),
		store.WithIDGenerator(&engine.SequenceGenerator{Prefix: "put"}),
	)
	if err != nil {
		return nil, err
	}
	e.store = st
	return st, nil
}

func (e *Env) openBolt(opts EnvOptions) (*boltstore.DB, error) {
	if e.bolt != nil {
		return e.bolt, nil
	}
	dir := opts.Dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "livedb-")
		if err != nil {
			return nil, err
		}
		e.tempDir = tmp
		dir = tmp
	}
	db, err := boltstore.Open(filepath.Join(dir, "livedb.bolt"), boltstore.Options{
		Logger:      e.logger,
		VersionKeys: &engine.SequenceGenerator{Prefix: "v"},
		IsTesting:   opts.Dir == "",
	})
	if err != nil {
		return nil, err
	}
	e.bolt = db
	return db, nil
}

// Collection returns the live collection for name.
func (e *Env) Collection(name string) (*collection.Collection, bool) {
	c, ok := e.Sources[name]
	return c, ok
}

// Store returns the SQLite store, nil when no collection uses it.
func (e *Env) Store() *store.Store { return e.store }

// Persist writes the mutations of an explicit transaction to the backend of
// each collection it touches. It has the shape of txn.MutationFn.
func (e *Env) Persist(ctx context.Context, tx *txn.Transaction) error {
	if e.store != nil && len(e.sqlite) > 0 {
		if err := e.store.PersistFor(e.sqlite...)(ctx, tx); err != nil {
			return err
		}
	}
	for _, lo := range e.locals {
		if err := lo.AcceptMutations(tx); err != nil {
			return err
		}
	}
	for _, l := range e.bolts {
		if err := l.AcceptMutations(tx); err != nil {
			return err
		}
	}
	return nil
}

// Put writes rows directly to the backend of a SQLite collection, the way
// a remote writer would. The change reaches the collection through sync.
func (e *Env) Put(ctx context.Context, name string, rows ...ir.IRObject) error {
	def, err := e.sqliteDef(name)
	if err != nil {
		return err
	}
	return e.store.Put(ctx, name, def.GetKey(), rows...)
}

// Remove deletes rows directly from the backend of a SQLite collection.
func (e *Env) Remove(ctx context.Context, name string, keys ...ir.Key) error {
	if _, err := e.sqliteDef(name); err != nil {
		return err
	}
	return e.store.Remove(ctx, name, keys...)
}

func (e *Env) sqliteDef(name string) (*compiler.CollectionDef, error) {
	def, ok := e.Defs.Collection(name)
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", name)
	}
	if def.Storage != compiler.StorageSQLite {
		return nil, fmt.Errorf("collection %s: direct writes need sqlite storage, got %s", name, def.Storage)
	}
	return def, nil
}

// Close cleans up every collection and closes the backends.
func (e *Env) Close() error {
	for _, c := range e.colls {
		c.Cleanup()
	}
	var errs []error
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	if e.bolt != nil {
		errs = append(errs, e.bolt.Close())
	}
	if e.tempDir != "" {
		errs = append(errs, os.RemoveAll(e.tempDir))
	}
	return errors.Join(errs...)
}
