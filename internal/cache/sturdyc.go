package cache

import (
	"sync"
	"time"

	"github.com/viccon/sturdyc"
)

// SturdycCache is a bounded, sharded in-process base store with per-entry
// TTL. It is safe for concurrent use. The client is created on first use;
// properties set after that have no effect.
type SturdycCache struct {
	id                 string
	capacity           int
	numShards          int
	ttl                time.Duration
	evictionPercentage int

	once   sync.Once
	client *sturdyc.Client[any]
}

// NewSturdycCache creates a store holding up to 10000 entries for 5 minutes each.
func NewSturdycCache(id string) *SturdycCache {
	return &SturdycCache{
		id:                 id,
		capacity:           10000,
		numShards:          256,
		ttl:                5 * time.Minute,
		evictionPercentage: 10,
	}
}

func (c *SturdycCache) store() *sturdyc.Client[any] {
	c.once.Do(func() {
		c.client = sturdyc.New[any](c.capacity, c.numShards, c.ttl, c.evictionPercentage)
	})
	return c.client
}

// SetProperty accepts capacity, shards, ttl and eviction_percentage.
func (c *SturdycCache) SetProperty(name, value string) error {
	switch name {
	case "capacity", "size":
		n, err := parseInt(name, value)
		if err != nil {
			return err
		}
		c.capacity = n
	case "shards":
		n, err := parseInt(name, value)
		if err != nil {
			return err
		}
		c.numShards = n
	case "eviction_percentage":
		n, err := parseInt(name, value)
		if err != nil {
			return err
		}
		c.evictionPercentage = n
	case "ttl":
		d, err := parseDuration(name, value)
		if err != nil {
			return err
		}
		c.ttl = d
	}
	return nil
}

func (c *SturdycCache) ID() string { return c.id }

func (c *SturdycCache) Size() int { return c.store().Size() }

func (c *SturdycCache) Put(key, value any) {
	c.store().Set(stringKey(key), value)
}

func (c *SturdycCache) Get(key any) (any, bool) {
	return c.store().Get(stringKey(key))
}

func (c *SturdycCache) Remove(key any) (any, bool) {
	k := stringKey(key)
	v, ok := c.store().Get(k)
	c.store().Delete(k)
	return v, ok
}

func (c *SturdycCache) Clear() {
	client := c.store()
	for _, k := range client.ScanKeys() {
		client.Delete(k)
	}
}
