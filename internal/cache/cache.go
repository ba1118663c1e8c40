// Package cache implements the shared, per-namespace cache: a Cache SPI, the
// default perpetual store, and decorators that add eviction, periodic
// clearing, copy-on-read isolation, locking, single-flight blocking and
// hit-ratio logging. Builder composes them in a fixed order.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

// Cache is the SPI every store and decorator implements. Implementations
// other than Synchronized and Blocking are not safe for concurrent use.
type Cache interface {
	ID() string
	Size() int
	Put(key, value any)
	Get(key any) (any, bool)
	Remove(key any) (any, bool)
	Clear()
}

// Keyer is implemented by composite keys that are not comparable themselves.
// Stores index such keys by MapKey.
type Keyer interface {
	MapKey() string
}

// Configurable receives free-form properties from the cache configuration.
// Unknown names are ignored.
type Configurable interface {
	SetProperty(name, value string) error
}

// ContextGetter is implemented by caches whose lookups can block or fail,
// so callers can bound the wait and tell a failure from a miss.
type ContextGetter interface {
	GetContext(ctx context.Context, key any) (any, bool, error)
}

var (
	// ErrBlockingTimeout is returned when a Blocking cache waited longer than
	// its timeout for another caller's computation of the same key.
	ErrBlockingTimeout = errors.New("timed out waiting for cache lock")

	// ErrUnknownImplementation is returned by Builder for an unregistered store type.
	ErrUnknownImplementation = errors.New("unknown cache implementation")

	// ErrReservedDecorator is returned by Builder for decorators it adds itself.
	ErrReservedDecorator = errors.New("decorator cannot be requested explicitly")
)

// Lookup reads key from c, honoring ctx when c supports it.
func Lookup(ctx context.Context, c Cache, key any) (any, bool, error) {
	if cg, ok := c.(ContextGetter); ok {
		return cg.GetContext(ctx, key)
	}
	v, ok := c.Get(key)
	return v, ok, nil
}

// mapKey normalizes a key for use in Go maps.
func mapKey(key any) any {
	if k, ok := key.(Keyer); ok {
		return k.MapKey()
	}
	return key
}

// stringKey normalizes a key for stores indexed by string.
func stringKey(key any) string {
	switch k := key.(type) {
	case Keyer:
		return k.MapKey()
	case string:
		return k
	}
	return fmt.Sprintf("%T:%v", key, key)
}

func parseInt(name, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "property %s", name)
	}
	return n, nil
}

func parseDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		// plain numbers are milliseconds
		ms, nerr := strconv.ParseInt(value, 10, 64)
		if nerr != nil {
			return 0, errors.Wrapf(err, "property %s", name)
		}
		d = time.Duration(ms) * time.Millisecond
	}
	return d, nil
}
