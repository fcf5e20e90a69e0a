package compiler

import (
	"fmt"

	"github.com/roach88/livedb/internal/collection"
	"github.com/roach88/livedb/internal/query"
)

// Sources maps collection names to live collections.
type Sources map[string]*collection.Collection

// Build binds the named query to live collections. Sources that name
// another query are built recursively and read as subqueries.
func (d *Definitions) Build(name string, sources Sources) (*query.Context, error) {
	b := &binder{defs: d, sources: sources, built: map[string]*query.Context{}, active: map[string]bool{}}
	return b.build(name)
}

// BuildAll binds every query, keyed by name. Subqueries shared between
// queries are built once.
func (d *Definitions) BuildAll(sources Sources) (map[string]*query.Context, error) {
	b := &binder{defs: d, sources: sources, built: map[string]*query.Context{}, active: map[string]bool{}}
	out := make(map[string]*query.Context, len(d.Queries))
	for _, q := range d.Queries {
		ctx, err := b.build(q.Name)
		if err != nil {
			return nil, err
		}
		out[q.Name] = ctx
	}
	return out, nil
}

type binder struct {
	defs    *Definitions
	sources Sources
	built   map[string]*query.Context
	active  map[string]bool
}

func (b *binder) build(name string) (*query.Context, error) {
	if q, ok := b.built[name]; ok {
		return q, nil
	}
	def, ok := b.defs.Query(name)
	if !ok {
		return nil, fmt.Errorf("unknown query %q", name)
	}
	if b.active[name] {
		return nil, fmt.Errorf("query %q reads itself", name)
	}
	b.active[name] = true
	defer delete(b.active, name)

	from, err := b.source(def.From)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	qb := query.From(def.From.Alias, from)
	for _, j := range def.Joins {
		src, err := b.source(j.SourceDef)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", name, err)
		}
		qb.Join(j.Alias, src, j.On, j.Kind)
	}
	if def.Where != nil {
		qb.Where(def.Where)
	}
	if len(def.GroupBy) > 0 {
		qb.GroupBy(def.GroupBy...)
	}
	if def.Having != nil {
		qb.Having(def.Having)
	}
	if len(def.Select) > 0 {
		fields := make([]query.SelectField, len(def.Select))
		for i, f := range def.Select {
			fields[i] = query.As(f.Name, f.Expr)
		}
		qb.Select(fields...)
	}
	for _, o := range def.OrderBy {
		qb.OrderBy(o.Expr, o.Direction)
	}
	if def.Offset > 0 {
		qb.Offset(def.Offset)
	}
	if def.Limit > 0 {
		qb.Limit(def.Limit)
	}
	if def.FindOne {
		qb.FindOne()
	}

	q, err := qb.Build()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	b.built[name] = q
	return q, nil
}

func (b *binder) source(s SourceDef) (any, error) {
	if c, ok := b.sources[s.Source]; ok && c != nil {
		return c, nil
	}
	if _, ok := b.defs.Query(s.Source); ok {
		return b.build(s.Source)
	}
	return nil, fmt.Errorf("source %q is not bound", s.Source)
}
