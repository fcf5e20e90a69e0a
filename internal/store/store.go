package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/livedb/internal/engine"
	"github.com/roach88/livedb/internal/querysql"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is written to PRAGMA user_version. Databases with a newer
// version are rejected.
const schemaVersion = 1

// Store persists collection rows in SQLite and feeds them back through sync.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	ids    engine.IDGenerator
	where  *querysql.Compiler

	closeOnce sync.Once
	closeErr  error

	mu    sync.Mutex
	feeds map[string][]*feed
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithIDGenerator sets the generator for the transaction ids of direct
// writes (Put, Remove).
func WithIDGenerator(gen engine.IDGenerator) Option {
	return func(s *Store) {
		s.ids = gen
	}
}

// Open opens the SQLite database at path, creating it and its tables when
// missing. Reopening an existing database keeps its rows.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One connection: a single writer, and :memory: databases live per
	// connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := prepare(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	s := &Store{
		db:     db,
		logger: slog.Default(),
		ids:    engine.UUIDv7Generator{},
		where:  querysql.NewCompiler("row"),
		feeds:  make(map[string][]*feed),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the database. Later calls are no-ops.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// settings are applied to every connection before the schema.
var settings = []struct{ name, value string }{
	{"journal_mode", "WAL"},
	{"synchronous", "NORMAL"},
	{"busy_timeout", "5000"},
	{"foreign_keys", "ON"},
	{"case_sensitive_like", "ON"},
}

func prepare(db *sql.DB) error {
	for _, st := range settings {
		if _, err := db.Exec("PRAGMA " + st.name + " = " + st.value); err != nil {
			return fmt.Errorf("pragma %s: %w", st.name, err)
		}
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	if version < schemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
	}
	return nil
}

// pragma reads back a connection setting.
func (s *Store) pragma(name string) (string, error) {
	var value string
	err := s.db.QueryRow("PRAGMA " + name).Scan(&value)
	return value, err
}
