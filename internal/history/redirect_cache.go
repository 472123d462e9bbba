package history

import "container/list"

type redirectEntry struct {
	dest  string
	chain []string
}

// RedirectCache is a bounded LRU mapping a destination URL to the redirect
// chain that most recently led to it. It is owned by the backend and, like
// the backend, is not safe for concurrent use.
type RedirectCache struct {
	capacity int
	items    map[string]*list.Element
	order    *list.List // front = most recent

	onResize func(n int)
}

// NewRedirectCache returns an empty cache holding at most capacity chains.
func NewRedirectCache(capacity int) *RedirectCache {
	if capacity <= 0 {
		capacity = 32
	}
	return &RedirectCache{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns the chain ending at dest and marks it recently used.
func (c *RedirectCache) Get(dest string) ([]string, bool) {
	elem, ok := c.items[dest]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*redirectEntry).chain, true
}

// Put stores chain for dest, evicting the least recently used entry when
// full.
func (c *RedirectCache) Put(dest string, chain []string) {
	chain = append([]string(nil), chain...)
	if elem, ok := c.items[dest]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*redirectEntry).chain = chain
		return
	}
	if c.order.Len() >= c.capacity {
		c.removeOldest()
	}
	c.items[dest] = c.order.PushFront(&redirectEntry{dest: dest, chain: chain})
	c.resized()
}

// Remove drops the chain of dest.
func (c *RedirectCache) Remove(dest string) {
	if elem, ok := c.items[dest]; ok {
		c.order.Remove(elem)
		delete(c.items, dest)
		c.resized()
	}
}

// TrimColdHalf drops the least recently used half of the entries.
func (c *RedirectCache) TrimColdHalf() {
	drop := c.order.Len() / 2
	if c.order.Len() == 1 {
		drop = 1
	}
	for i := 0; i < drop; i++ {
		c.removeOldest()
	}
	c.resized()
}

// Clear empties the cache.
func (c *RedirectCache) Clear() {
	c.items = make(map[string]*list.Element, c.capacity)
	c.order.Init()
	c.resized()
}

// Len returns the number of cached chains.
func (c *RedirectCache) Len() int { return c.order.Len() }

func (c *RedirectCache) removeOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	c.order.Remove(oldest)
	delete(c.items, oldest.Value.(*redirectEntry).dest)
}

func (c *RedirectCache) resized() {
	if c.onResize != nil {
		c.onResize(c.order.Len())
	}
}
