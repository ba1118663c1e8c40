package cache

import "container/list"

const defaultEvictionSize = 1024

// LruCache bounds its delegate, evicting the least recently accessed key.
type LruCache struct {
	delegate Cache
	size     int
	order    *list.List // front is most recently used
	index    map[any]*list.Element
}

// NewLruCache wraps delegate with a capacity of 1024 entries.
func NewLruCache(delegate Cache) *LruCache {
	return &LruCache{
		delegate: delegate,
		size:     defaultEvictionSize,
		order:    list.New(),
		index:    make(map[any]*list.Element),
	}
}

// SetSize changes the capacity, evicting immediately if needed.
func (c *LruCache) SetSize(size int) {
	c.size = size
	for c.order.Len() > c.size {
		c.evictOldest()
	}
}

func (c *LruCache) SetProperty(name, value string) error {
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

func (c *LruCache) ID() string { return c.delegate.ID() }

func (c *LruCache) Size() int { return c.delegate.Size() }

func (c *LruCache) Put(key, value any) {
	c.delegate.Put(key, value)
	c.touch(key)
	for c.order.Len() > c.size {
		c.evictOldest()
	}
}

func (c *LruCache) Get(key any) (any, bool) {
	if e, ok := c.index[mapKey(key)]; ok {
		c.order.MoveToFront(e)
	}
	return c.delegate.Get(key)
}

func (c *LruCache) Remove(key any) (any, bool) {
	k := mapKey(key)
	if e, ok := c.index[k]; ok {
		c.order.Remove(e)
		delete(c.index, k)
	}
	return c.delegate.Remove(key)
}

func (c *LruCache) Clear() {
	c.delegate.Clear()
	c.order.Init()
	clear(c.index)
}

type lruEntry struct {
	mk  any
	key any
}

func (c *LruCache) touch(key any) {
	k := mapKey(key)
	if e, ok := c.index[k]; ok {
		c.order.MoveToFront(e)
		return
	}
	c.index[k] = c.order.PushFront(lruEntry{mk: k, key: key})
}

func (c *LruCache) evictOldest() {
	e := c.order.Back()
	if e == nil {
		return
	}
	ent := e.Value.(lruEntry)
	c.order.Remove(e)
	delete(c.index, ent.mk)
	c.delegate.Remove(ent.key)
}
