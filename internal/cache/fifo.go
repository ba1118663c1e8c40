package cache

import "container/list"

// FifoCache bounds its delegate, evicting the oldest inserted key regardless
// of access.
type FifoCache struct {
	delegate Cache
	size     int
	order    *list.List // front is oldest
	index    map[any]*list.Element
}

// NewFifoCache wraps delegate with a capacity of 1024 entries.
func NewFifoCache(delegate Cache) *FifoCache {
	return &FifoCache{
		delegate: delegate,
		size:     defaultEvictionSize,
		order:    list.New(),
		index:    make(map[any]*list.Element),
	}
}

// SetSize changes the capacity.
func (c *FifoCache) SetSize(size int) {
	c.size = size
	for c.order.Len() > c.size {
		c.evictOldest()
	}
}

func (c *FifoCache) SetProperty(name, value string) error {
	if name != "size" {
		return nil
	}
	n, err := parseInt(name, value)
	if err != nil {
		return err
	}
	c.SetSize(n)
	return nil
}

func (c *FifoCache) ID() string { return c.delegate.ID() }

func (c *FifoCache) Size() int { return c.delegate.Size() }

func (c *FifoCache) Put(key, value any) {
	k := mapKey(key)
	if _, ok := c.index[k]; !ok {
		c.index[k] = c.order.PushBack(lruEntry{mk: k, key: key})
		for c.order.Len() > c.size {
			c.evictOldest()
		}
	}
	c.delegate.Put(key, value)
}

func (c *FifoCache) Get(key any) (any, bool) { return c.delegate.Get(key) }

func (c *FifoCache) Remove(key any) (any, bool) {
	k := mapKey(key)
	if e, ok := c.index[k]; ok {
		c.order.Remove(e)
		delete(c.index, k)
	}
	return c.delegate.Remove(key)
}

func (c *FifoCache) Clear() {
	c.delegate.Clear()
	c.order.Init()
	clear(c.index)
}

func (c *FifoCache) evictOldest() {
	e := c.order.Front()
	if e == nil {
		return
	}
	ent := e.Value.(lruEntry)
	c.order.Remove(e)
	delete(c.index, ent.mk)
	c.delegate.Remove(ent.key)
}
