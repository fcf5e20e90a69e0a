package collection

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/livedb/internal/engine"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/txn"
)

// Status is the lifecycle status of a collection.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusLoading   Status = "loading"
	StatusReady     Status = "ready"
	StatusError     Status = "error"
	StatusCleanedUp Status = "cleaned-up"
)

// AutoIndexMode controls whether subscriptions create indexes on demand.
type AutoIndexMode string

const (
	// AutoIndexEager creates an index for every indexable comparison in a
	// subscription filter or join key. This is the default.
	AutoIndexEager AutoIndexMode = "eager"

	// AutoIndexOff only uses indexes created with CreateIndex.
	AutoIndexOff AutoIndexMode = "off"
)

// RowUpdateMode controls how synced updates are applied.
type RowUpdateMode string

const (
	// RowUpdatePartial merges the update's fields into the existing row. Default.
	RowUpdatePartial RowUpdateMode = "partial"

	// RowUpdateFull replaces the row.
	RowUpdateFull RowUpdateMode = "full"
)

// DefaultGCTime is how long a collection without subscribers keeps its state.
const DefaultGCTime = 5 * time.Minute

// ChangeType is the kind of a change message.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeMessage describes one visible row change.
type ChangeMessage struct {
	Type ChangeType
	Key  ir.Key

	// Value is the row after the change; for deletes, the removed row.
	Value ir.IRObject

	// PreviousValue is set for updates.
	PreviousValue ir.IRObject
}

// Listener receives change batches. Batches are never empty.
type Listener func(changes []ChangeMessage)

// SyncMessage is one row write from a sync source.
type SyncMessage struct {
	Type ChangeType

	// Key is optional when Value is set; it is derived with Config.GetKey.
	Key   ir.Key
	Value ir.IRObject
}

// SyncWriter is handed to a SyncFunc to feed confirmed rows into the collection.
//
// Writes happen inside Begin/Commit brackets; each bracket is applied
// atomically and delivered to subscribers as one batch.
type SyncWriter interface {
	Begin() error
	Write(msg SyncMessage) error
	Commit() error

	// Rollback discards the open batch.
	Rollback()

	// Truncate discards all synced rows as part of the open batch.
	Truncate() error

	// MarkReady moves the collection to ready. Only the first call has an effect.
	MarkReady()

	// Fail moves the collection to the error status, keeping its rows.
	Fail(err error)
}

// SyncFunc connects a collection to its source of confirmed data.
//
// It is called synchronously when sync starts. Sources that keep streaming
// start their own goroutine and stop when ctx is cancelled (collection
// cleanup). A returned error moves the collection to the error status.
type SyncFunc func(ctx context.Context, w SyncWriter) error

// MutationParams is passed to mutation handlers.
type MutationParams struct {
	Transaction *txn.Transaction
	Collection  *Collection
}

// MutationHandler persists mutations made outside an explicit transaction.
type MutationHandler func(ctx context.Context, params MutationParams) error

// GetKeyFunc extracts the key of a row.
type GetKeyFunc func(row ir.IRObject) ir.Key

// KeyField returns a GetKeyFunc reading a top-level field.
func KeyField(name string) GetKeyFunc {
	return func(row ir.IRObject) ir.Key {
		return row[name]
	}
}

// Config describes a collection.
type Config struct {
	// ID names the collection. Generated when empty.
	ID string

	GetKey GetKeyFunc
	Sync   SyncFunc

	OnInsert MutationHandler
	OnUpdate MutationHandler
	OnDelete MutationHandler

	AutoIndex     AutoIndexMode
	RowUpdateMode RowUpdateMode

	// GCTime is how long state survives after the last subscriber leaves.
	// Zero means DefaultGCTime; negative disables garbage collection.
	GCTime time.Duration

	// StartSync starts sync in New instead of on the first subscriber.
	StartSync bool
}

// Option configures a Collection.
type Option func(*Collection)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collection) {
		c.logger = logger
	}
}

// WithTxnManager sets the transaction manager for implicit transactions.
func WithTxnManager(m *txn.Manager) Option {
	return func(c *Collection) {
		c.manager = m
	}
}

// WithTimeSource sets the time source used for garbage collection timers.
func WithTimeSource(ts engine.TimeSource) Option {
	return func(c *Collection) {
		c.time = ts
	}
}

// WithIDGenerator sets the mutation id generator.
func WithIDGenerator(gen engine.IDGenerator) Option {
	return func(c *Collection) {
		c.mutationIDs = gen
	}
}
