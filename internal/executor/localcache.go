package executor

import "github.com/joao-brasil/sqlrt/internal/cachekey"

// LocalCacheScope controls how long local cache entries live.
type LocalCacheScope int

const (
	// ScopeSession keeps entries until commit, rollback, close or a flush.
	ScopeSession LocalCacheScope = iota
	// ScopeStatement clears the cache after every top-level statement.
	ScopeStatement
)

func (s LocalCacheScope) String() string {
	if s == ScopeStatement {
		return "statement"
	}
	return "session"
}

// entryState is the tag of a local cache entry.
type entryState int

const (
	stateAbsent entryState = iota
	stateInFlight
	stateValue
)

type localEntry struct {
	state entryState
	value []any
}

// LocalCache maps cache keys to query results of one session. A key is
// absent, in flight while its query runs, or holds a materialized result.
// It is confined to one session and not safe for concurrent use.
type LocalCache struct {
	entries map[string]localEntry
}

// NewLocalCache returns an empty local cache.
func NewLocalCache() *LocalCache {
	return &LocalCache{entries: make(map[string]localEntry)}
}

func (c *LocalCache) lookup(key *cachekey.CacheKey) localEntry {
	e, ok := c.entries[key.MapKey()]
	if !ok {
		return localEntry{state: stateAbsent}
	}
	return e
}

// Result returns the materialized result for key.
func (c *LocalCache) Result(key *cachekey.CacheKey) ([]any, bool) {
	e := c.lookup(key)
	return e.value, e.state == stateValue
}

// Contains reports whether key is in flight or materialized.
func (c *LocalCache) Contains(key *cachekey.CacheKey) bool {
	return c.lookup(key).state != stateAbsent
}

// InFlight reports whether the query for key is running.
func (c *LocalCache) InFlight(key *cachekey.CacheKey) bool {
	return c.lookup(key).state == stateInFlight
}

func (c *LocalCache) markInFlight(key *cachekey.CacheKey) {
	c.entries[key.MapKey()] = localEntry{state: stateInFlight}
}

func (c *LocalCache) store(key *cachekey.CacheKey, list []any) {
	c.entries[key.MapKey()] = localEntry{state: stateValue, value: list}
}

func (c *LocalCache) remove(key *cachekey.CacheKey) {
	delete(c.entries, key.MapKey())
}

// Size returns the number of keys in flight or materialized.
func (c *LocalCache) Size() int { return len(c.entries) }

// Clear drops every entry.
func (c *LocalCache) Clear() { clear(c.entries) }
