package pacing

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/livedb/internal/ir"
)

// Key returns the structural identity of a strategy configuration. Equal
// kinds and parameter values give equal keys.
func Key(s Strategy) (string, error) {
	return ir.StructuralHash("pacing", ir.IRObject{
		"strategy": ir.IRString(s.Name()),
		"params":   s.Params(),
	})
}

// Cache holds one PacedMutations per caller scope. Asking again with an
// unchanged strategy returns the same instance, so pending windows survive;
// a changed strategy closes the old instance and starts a new one. The least
// recently used scopes are closed and dropped beyond the cache size.
//
// Callbacks in Config are not part of the identity: the first ones given
// for a strategy stay in effect until it changes.
type Cache[T any] struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *cached[T]]
	opts    []Option
}

type cached[T any] struct {
	key   string
	paced *PacedMutations[T]
}

// NewCache creates a cache for up to size scopes. opts apply to every
// PacedMutations it creates.
func NewCache[T any](size int, opts ...Option) (*Cache[T], error) {
	entries, err := lru.NewWithEvict(size, func(_ string, c *cached[T]) {
		c.paced.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("pacing cache: %w", err)
	}
	return &Cache[T]{entries: entries, opts: opts}, nil
}

// Get returns the PacedMutations for scope, creating it when the scope is
// new or its strategy changed.
func (c *Cache[T]) Get(scope string, cfg Config[T]) (*PacedMutations[T], error) {
	if cfg.Strategy == nil {
		return nil, &Error{Code: ErrCodeInvalidConfig, Message: "Strategy is required"}
	}
	key, err := Key(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries.Get(scope); ok {
		if e.key == key {
			return e.paced, nil
		}
		c.entries.Remove(scope)
	}

	paced, err := New(cfg, c.opts...)
	if err != nil {
		return nil, err
	}
	c.entries.Add(scope, &cached[T]{key: key, paced: paced})
	return paced, nil
}

// Invalidate closes and forgets the instance for scope. It reports whether
// there was one.
func (c *Cache[T]) Invalidate(scope string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Remove(scope)
}

// Len returns the number of cached scopes.
func (c *Cache[T]) Len() int {
	return c.entries.Len()
}

// Purge closes and forgets every instance.
func (c *Cache[T]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}
