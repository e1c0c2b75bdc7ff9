package wire

import (
	"container/list"
	"sync"
)

// SeenCache is a bounded LRU of recently observed message ids, used to
// suppress duplicate delivery under at-least-once transport semantics.
type SeenCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[[16]byte]*list.Element
}

// NewSeenCache creates a cache holding up to capacity ids.
func NewSeenCache(capacity int) *SeenCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &SeenCache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[[16]byte]*list.Element),
	}
}

// CheckAndAdd reports whether id was already seen; if not, it is recorded
// and the oldest entry is evicted if the cache is over capacity.
func (c *SeenCache) CheckAndAdd(id [16]byte) (alreadySeen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[id]; ok {
		c.order.MoveToFront(elem)
		return true
	}

	elem := c.order.PushFront(id)
	c.index[id] = elem

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.([16]byte))
	}
	return false
}

// Len returns the number of currently-tracked ids.
func (c *SeenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
