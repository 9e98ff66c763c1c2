package rotation

import (
	"fmt"
	"maps"
	"sync"
)

// Cursors is a thread-safe map from series identifier to the start index of
// the next window.
type Cursors struct {
	mu     sync.Mutex
	values map[string]int
}

// NewCursors creates an empty cursor store.
func NewCursors() *Cursors {
	return &Cursors{values: make(map[string]int)}
}

// GetOrInsert returns the cursor for id, storing def first if id is unknown.
func (c *Cursors) GetOrInsert(id string, def int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getOrInsertLocked(id, def)
}

func (c *Cursors) getOrInsertLocked(id string, def int) int {
	v, ok := c.values[id]
	if !ok {
		c.values[id] = def
		return def
	}
	return v
}

// Get returns the cursor for id and whether it exists. It never creates an entry.
func (c *Cursors) Get(id string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[id]
	return v, ok
}

// Set stores a cursor explicitly (used when restoring a checkpoint).
func (c *Cursors) Set(id string, v int) error {
	if v < 0 {
		return fmt.Errorf("invalid cursor for %q: must not be negative: %d", id, v)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[id] = v
	return nil
}

// Len returns the number of known series.
func (c *Cursors) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

// Snapshot returns a copy of all cursors.
func (c *Cursors) Snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.values)
}

// Restore replaces all cursors with the given values. Negative values are rejected
// and leave the store unchanged.
func (c *Cursors) Restore(values map[string]int) error {
	for id, v := range values {
		if v < 0 {
			return fmt.Errorf("invalid cursor for %q: must not be negative: %d", id, v)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = maps.Clone(values)
	if c.values == nil {
		c.values = make(map[string]int)
	}
	return nil
}

// advance performs the clamp/advance/wrap step for a series of length n under
// a single lock, returning the start index to use for this call.
func (c *Cursors) advance(id string, maxStart int) (start int, wrapped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start = min(c.getOrInsertLocked(id, 0), maxStart)
	next := start + 1
	if next > maxStart {
		next = 0
		wrapped = true
	}
	c.values[id] = next
	return start, wrapped
}
