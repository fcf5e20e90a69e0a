package live

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/roach88/livedb/internal/query"
)

// Registry shares running queries between callers asking for the same
// query. Entries are reference counted; the last Release closes the query.
//
// Queries are matched by query.Context.Signature, which identifies sources
// by collection id.
type Registry struct {
	entries *xsync.MapOf[string, *entry]
	opts    []Option
}

type entry struct {
	refs  int
	done  chan struct{}
	query *Query
	err   error
}

// NewRegistry creates an empty registry. opts apply to every query it starts.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		entries: xsync.NewMapOf[string, *entry](),
		opts:    opts,
	}
}

// Acquire returns the running query for qc, starting it if needed, and a
// release function to call once the caller is done with it. The query is
// not tied to ctx; ctx only bounds the wait for a query another caller is
// starting.
func (r *Registry) Acquire(ctx context.Context, qc *query.Context) (*Query, func(), error) {
	sig := qc.Signature()

	var created bool
	e, _ := r.entries.Compute(sig, func(old *entry, loaded bool) (*entry, bool) {
		if loaded {
			old.refs++
			return old, false
		}
		created = true
		return &entry{refs: 1, done: make(chan struct{})}, false
	})

	if created {
		e.query, e.err = New(context.WithoutCancel(ctx), qc, r.opts...)
		close(e.done)
		if e.err != nil {
			r.entries.Compute(sig, func(old *entry, loaded bool) (*entry, bool) {
				return old, loaded && old == e
			})
		}
	} else {
		select {
		case <-e.done:
		case <-ctx.Done():
			r.release(sig, e)
			return nil, nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, nil, e.err
	}

	var once sync.Once
	return e.query, func() { once.Do(func() { r.release(sig, e) }) }, nil
}

func (r *Registry) release(sig string, e *entry) {
	var last bool
	r.entries.Compute(sig, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded || old != e {
			return old, !loaded
		}
		old.refs--
		last = old.refs == 0
		return old, last
	})
	if last && e.query != nil {
		e.query.Close()
	}
}

// Len returns the number of running queries.
func (r *Registry) Len() int {
	return r.entries.Size()
}

// Close closes every query regardless of outstanding references.
func (r *Registry) Close() {
	r.entries.Range(func(sig string, e *entry) bool {
		r.entries.Delete(sig)
		<-e.done
		if e.query != nil {
			e.query.Close()
		}
		return true
	})
}
