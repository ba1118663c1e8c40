package cache

import "time"

const defaultClearInterval = time.Hour

// ScheduledCache clears its delegate on the first operation after each
// clear interval has elapsed. No goroutine is involved.
type ScheduledCache struct {
	delegate      Cache
	clearInterval time.Duration
	lastClear     time.Time
	now           func() time.Time
}

// NewScheduledCache wraps delegate with a one hour clear interval.
func NewScheduledCache(delegate Cache) *ScheduledCache {
	return newScheduledCache(delegate, time.Now)
}

func newScheduledCache(delegate Cache, now func() time.Time) *ScheduledCache {
	return &ScheduledCache{
		delegate:      delegate,
		clearInterval: defaultClearInterval,
		lastClear:     now(),
		now:           now,
	}
}

// SetClearInterval changes the interval between full clears.
func (c *ScheduledCache) SetClearInterval(d time.Duration) {
	c.clearInterval = d
}

func (c *ScheduledCache) SetProperty(name, value string) error {
	if name != "clearInterval" && name != "flush_interval" {
		return nil
	}
	d, err := parseDuration(name, value)
	if err != nil {
		return err
	}
	c.SetClearInterval(d)
	return nil
}

func (c *ScheduledCache) ID() string { return c.delegate.ID() }

func (c *ScheduledCache) Size() int {
	c.clearWhenStale()
	return c.delegate.Size()
}

func (c *ScheduledCache) Put(key, value any) {
	c.clearWhenStale()
	c.delegate.Put(key, value)
}

func (c *ScheduledCache) Get(key any) (any, bool) {
	if c.clearWhenStale() {
		return nil, false
	}
	return c.delegate.Get(key)
}

func (c *ScheduledCache) Remove(key any) (any, bool) {
	c.clearWhenStale()
	return c.delegate.Remove(key)
}

func (c *ScheduledCache) Clear() {
	c.lastClear = c.now()
	c.delegate.Clear()
}

func (c *ScheduledCache) clearWhenStale() bool {
	if c.now().Sub(c.lastClear) > c.clearInterval {
		c.Clear()
		return true
	}
	return false
}
