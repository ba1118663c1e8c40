package cache

// PerpetualCache is the default unbounded map store.
type PerpetualCache struct {
	id      string
	entries map[any]any
}

// NewPerpetualCache creates an empty store for the given namespace.
func NewPerpetualCache(id string) *PerpetualCache {
	return &PerpetualCache{id: id, entries: make(map[any]any)}
}

func (c *PerpetualCache) ID() string { return c.id }

func (c *PerpetualCache) Size() int { return len(c.entries) }

func (c *PerpetualCache) Put(key, value any) {
	c.entries[mapKey(key)] = value
}

func (c *PerpetualCache) Get(key any) (any, bool) {
	v, ok := c.entries[mapKey(key)]
	return v, ok
}

func (c *PerpetualCache) Remove(key any) (any, bool) {
	k := mapKey(key)
	v, ok := c.entries[k]
	delete(c.entries, k)
	return v, ok
}

func (c *PerpetualCache) Clear() {
	clear(c.entries)
}
