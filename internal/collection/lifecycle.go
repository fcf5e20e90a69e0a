package collection

// scheduleGCLocked arms the garbage collection timer. A negative GCTime
// disables collection.
func (c *Collection) scheduleGCLocked() {
	if c.gcTime < 0 {
		return
	}
	c.stopGCLocked()
	c.gcTimer = c.time.AfterFunc(c.gcTime, c.collectGarbage)
}

func (c *Collection) stopGCLocked() {
	if c.gcTimer != nil {
		c.gcTimer.Stop()
		c.gcTimer = nil
	}
}

func (c *Collection) collectGarbage() {
	c.mu.Lock()
	if len(c.subs) > 0 || c.status == StatusCleanedUp {
		c.mu.Unlock()
		return
	}
	c.logger.Debug("collecting idle collection")
	notify := c.cleanupLocked()
	c.mu.Unlock()
	notify()
}

// Cleanup stops sync and drops all rows. Index definitions survive and are
// rebuilt as rows arrive again. A later subscriber restarts sync.
func (c *Collection) Cleanup() {
	c.mu.Lock()
	notify := c.cleanupLocked()
	c.mu.Unlock()
	notify()
}

func (c *Collection) cleanupLocked() func() {
	c.stopGCLocked()
	if c.syncCancel != nil {
		c.syncCancel()
		c.syncCancel = nil
	}

	clear(c.synced)
	clear(c.upserts)
	clear(c.deletes)
	clear(c.txs)
	c.pendingSync = nil
	c.openBatch = nil
	for _, x := range c.indexes {
		x.Clear()
	}
	return c.setStatusLocked(StatusCleanedUp)
}
