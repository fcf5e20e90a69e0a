package compiler

import (
	"time"

	"cuelang.org/go/cue/token"

	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/ir"
	"github.com/roach88/livedb/internal/query"
	"github.com/roach88/livedb/internal/queryir"
)

// Storage names the backend a collection is synced from.
type Storage string

const (
	// StorageMemory holds rows in memory only, seeded from Rows.
	StorageMemory Storage = "memory"
	// StorageSQLite syncs rows from the SQLite store.
	StorageSQLite Storage = "sqlite"
	// StorageBolt persists rows in a bbolt bucket.
	StorageBolt Storage = "bolt"
)

// CollectionDef declares a collection.
type CollectionDef struct {
	Name string

	// Key lists the fields forming the row key. One field keys by that
	// field's value; more form a composite key.
	Key []string

	Storage   Storage
	Bucket    string
	Where     queryir.Expr
	AutoIndex collection.AutoIndexMode
	Indexes   [][]string
	GCTime    time.Duration
	Rows      []ir.IRObject

	Pos token.Pos
}

// GetKey returns the key function for the declared key fields.
func (d *CollectionDef) GetKey() collection.GetKeyFunc {
	if len(d.Key) == 1 {
		return collection.KeyField(d.Key[0])
	}
	fields := d.Key
	return func(row ir.IRObject) ir.Key {
		parts := make([]ir.Key, len(fields))
		for i, f := range fields {
			parts[i] = row[f]
		}
		return ir.CompositeKey(parts...)
	}
}

// SourceDef names what a query reads under an alias: a collection or
// another query.
type SourceDef struct {
	Alias  string
	Source string
	Pos    token.Pos
}

// JoinDef is one join of a query.
type JoinDef struct {
	SourceDef
	Kind query.JoinKind
	On   queryir.Expr
}

// FieldDef is one projected output field.
type FieldDef struct {
	Name string
	Expr queryir.Expr
}

// OrderDef is one ordering term.
type OrderDef struct {
	Expr      queryir.Expr
	Direction query.Direction
}

// QueryDef declares a live query.
type QueryDef struct {
	Name    string
	From    SourceDef
	Joins   []JoinDef
	Where   queryir.Expr
	GroupBy []queryir.Expr
	Having  queryir.Expr
	Select  []FieldDef
	OrderBy []OrderDef
	Limit   int
	Offset  int
	FindOne bool

	Pos token.Pos
}

// Sources returns the From source followed by each join source.
func (q *QueryDef) Sources() []SourceDef {
	out := make([]SourceDef, 0, len(q.Joins)+1)
	out = append(out, q.From)
	for _, j := range q.Joins {
		out = append(out, j.SourceDef)
	}
	return out
}

// Definitions is the compiled content of one or more definition files, in
// declaration order.
type Definitions struct {
	Collections []CollectionDef
	Queries     []QueryDef
}

// Collection looks up a collection definition by name.
func (d *Definitions) Collection(name string) (*CollectionDef, bool) {
	for i := range d.Collections {
		if d.Collections[i].Name == name {
			return &d.Collections[i], true
		}
	}
	return nil, false
}

// Query looks up a query definition by name.
func (d *Definitions) Query(name string) (*QueryDef, bool) {
	for i := range d.Queries {
		if d.Queries[i].Name == name {
			return &d.Queries[i], true
		}
	}
	return nil, false
}

// QueryNames returns the query names in declaration order.
func (d *Definitions) QueryNames() []string {
	names := make([]string, len(d.Queries))
	for i, q := range d.Queries {
		names[i] = q.Name
	}
	return names
}
