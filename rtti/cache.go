package rtti

import "sync"

// Cache maps record addresses to parsed nodes for the lifetime of an
// analysis session. Entries are never evicted or replaced.
type Cache struct {
	mu    sync.RWMutex
	nodes map[uint64]*TypeInfo
	order []uint64
}

func NewCache() *Cache {
	return &Cache{nodes: make(map[uint64]*TypeInfo)}
}

// Get returns the node committed for addr, if any.
func (c *Cache) Get(addr uint64) (*TypeInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.nodes[addr]
	return t, ok
}

// Insert commits t under addr. If addr already holds a node, that node is
// kept and returned.
func (c *Cache) Insert(addr uint64, t *TypeInfo) *TypeInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.nodes[addr]; ok {
		return existing
	}
	c.nodes[addr] = t
	c.order = append(c.order, addr)
	return t
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

// All returns a snapshot of the committed nodes in commit order, so every
// base precedes the classes derived from it.
func (c *Cache) All() []*TypeInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*TypeInfo, 0, len(c.order))
	for _, addr := range c.order {
		out = append(out, c.nodes[addr])
	}
	return out
}

// ByName returns the committed nodes with the given demangled name.
func (c *Cache) ByName(name string) []*TypeInfo {
	var out []*TypeInfo
	for _, t := range c.All() {
		if t.Name == name {
			out = append(out, t)
		}
	}
	return out
}
