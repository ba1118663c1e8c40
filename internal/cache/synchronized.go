package cache

import "sync"

// SynchronizedCache runs every operation on its delegate under one mutex.
type SynchronizedCache struct {
	mu       sync.Mutex
	delegate Cache
}

// NewSynchronizedCache wraps delegate.
func NewSynchronizedCache(delegate Cache) *SynchronizedCache {
	return &SynchronizedCache{delegate: delegate}
}

func (c *SynchronizedCache) ID() string { return c.delegate.ID() }

func (c *SynchronizedCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delegate.Size()
}

func (c *SynchronizedCache) Put(key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delegate.Put(key, value)
}

func (c *SynchronizedCache) Get(key any) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delegate.Get(key)
}

func (c *SynchronizedCache) Remove(key any) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delegate.Remove(key)
}

func (c *SynchronizedCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delegate.Clear()
}
