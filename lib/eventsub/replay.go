package eventsub

import "sync"

// replayCache is a bounded set of recently seen message ids. EventSub is an
// at-least-once protocol: the same message id can legitimately arrive more
// than once, and reprocessing it would double-enqueue a request. Oldest ids
// are evicted FIFO once the bound is reached.
type replayCache struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	limit int
}

func newReplayCache(limit int) *replayCache {
	if limit <= 0 {
		limit = 256
	}
	return &replayCache{
		seen:  make(map[string]struct{}, limit),
		limit: limit,
	}
}

// Add records an id, reporting false when it was already present.
func (c *replayCache) Add(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.seen[id]; dup {
		return false
	}
	c.seen[id] = struct{}{}
	c.order = append(c.order, id)
	if len(c.order) > c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest)
	}
	return true
}

// Len returns the number of ids currently tracked.
func (c *replayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
