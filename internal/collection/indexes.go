package collection

import (
	"fmt"
	"slices"

	"github.com/roach88/livedb/internal/index"
	"github.com/roach88/livedb/internal/queryir"
)

// CreateIndex creates an index over path. Creating an index on a path that
// already has one is a no-op.
func (c *Collection) CreateIndex(path ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _, err := c.ensureIndexLocked(path)
	return err
}

// CreateIndexFor creates an index over the path of ref.
func (c *Collection) CreateIndexFor(ref *queryir.Ref) error {
	return c.CreateIndex(ref.Path...)
}

// EnsureIndex creates an index over path when auto-indexing is enabled and
// reports whether an index exists afterwards.
func (c *Collection) EnsureIndex(path ...string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.indexes[queryir.PathKey(path)]; ok {
		return true
	}
	if c.cfg.AutoIndex != AutoIndexEager {
		return false
	}
	_, created, err := c.ensureIndexLocked(path)
	if err != nil {
		return false
	}
	if created {
		c.countAutoIndex()
	}
	return true
}

// HasIndex reports whether path is indexed.
func (c *Collection) HasIndex(path ...string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.indexes[queryir.PathKey(path)]
	return ok
}

// IndexedPaths returns the signatures of every index, sorted.
func (c *Collection) IndexedPaths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.indexes))
	for sig := range c.indexes {
		out = append(out, sig)
	}
	slices.Sort(out)
	return out
}

// IndexStats returns the statistics of the index over path.
func (c *Collection) IndexStats(path ...string) (index.Stats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	x, ok := c.indexes[queryir.PathKey(path)]
	if !ok {
		return index.Stats{}, false
	}
	return x.Stats(), true
}

func (c *Collection) ensureIndexLocked(path []string) (*index.BTreeIndex, bool, error) {
	sig := queryir.PathKey(path)
	if x, ok := c.indexes[sig]; ok {
		return x, false, nil
	}

	c.indexSeq++
	x, err := index.NewBTreeIndex(fmt.Sprintf("%s/%d", c.id, c.indexSeq), path...)
	if err != nil {
		return nil, false, err
	}
	x.Build(c.synced)
	c.indexes[sig] = x

	c.logger.Debug("index created", "path", sig, "entries", x.Stats().Entries)
	return x, true, nil
}

// autoIndexLocked creates an index for every top-level conjunct of where
// that compares a field with a literal. OR, not and computed expressions are
// never indexed automatically.
func (c *Collection) autoIndexLocked(where queryir.Expr) {
	if c.cfg.AutoIndex != AutoIndexEager {
		return
	}
	for _, conj := range queryir.Conjuncts(where) {
		fc, ok := queryir.AsFieldComparison(conj)
		if !ok {
			continue
		}
		_, created, err := c.ensureIndexLocked(fc.Path)
		if err != nil {
			c.logger.Debug("auto-index skipped", "path", queryir.PathKey(fc.Path), "error", err)
			continue
		}
		if created {
			c.countAutoIndex()
		}
	}
}
