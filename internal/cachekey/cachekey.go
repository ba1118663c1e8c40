// Package cachekey provides the composite key that identifies one execution
// of a statement: statement id, result window, rendered SQL, the input
// parameter values in declaration order and an optional environment id.
package cachekey

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	defaultMultiplier = 37
	defaultHashcode   = 17
)

// CacheKey is an order-sensitive composite key. It is built incrementally with
// Update and must not be modified once handed to a cache.
type CacheKey struct {
	multiplier int64
	hashcode   int64
	checksum   int64
	count      int

	objects []any
	// parts holds the canonical form of each object, used for equality and MapKey.
	parts []string

	frozen bool
}

// NullCacheKey is returned when no key can be built, e.g. by a closed
// executor. It never equals a key built from components and cannot be updated.
var NullCacheKey = &CacheKey{multiplier: defaultMultiplier, hashcode: defaultHashcode, frozen: true}

// New returns a key initialized with the given components.
func New(objects ...any) *CacheKey {
	k := &CacheKey{multiplier: defaultMultiplier, hashcode: defaultHashcode}
	k.UpdateAll(objects...)
	return k
}

// Update appends one component.
func (k *CacheKey) Update(object any) {
	if k.frozen {
		panic("cachekey: not allowed to update a null cache key instance")
	}
	part := canonical(object)
	base := componentHash(part)

	k.count++
	k.checksum += base
	base *= int64(k.count)
	k.hashcode = k.multiplier*k.hashcode + base

	k.objects = append(k.objects, object)
	k.parts = append(k.parts, part)
}

// UpdateAll appends every component in order.
func (k *CacheKey) UpdateAll(objects ...any) {
	for _, o := range objects {
		k.Update(o)
	}
}

// Count returns the number of components.
func (k *CacheKey) Count() int { return k.count }

// HashCode returns the order-sensitive hash of the components.
func (k *CacheKey) HashCode() int64 { return k.hashcode }

// Equal reports whether both keys hold equal components in the same order.
func (k *CacheKey) Equal(other *CacheKey) bool {
	if k == other {
		return true
	}
	if k == nil || other == nil {
		return false
	}
	if k.frozen != other.frozen ||
		k.hashcode != other.hashcode ||
		k.checksum != other.checksum ||
		k.count != other.count {
		return false
	}
	for i := range k.parts {
		if k.parts[i] != other.parts[i] {
			return false
		}
	}
	return true
}

// MapKey returns a canonical string such that two keys are Equal exactly when
// their MapKeys are equal.
func (k *CacheKey) MapKey() string {
	if k.frozen {
		return "null"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d:%d", k.hashcode, k.checksum)
	for _, p := range k.parts {
		b.WriteByte('|')
		b.WriteString(p)
	}
	return b.String()
}

// Clone returns an independent copy that can be updated further.
func (k *CacheKey) Clone() *CacheKey {
	c := *k
	c.objects = append([]any(nil), k.objects...)
	c.parts = append([]string(nil), k.parts...)
	return &c
}

// String renders the key the way it is logged.
func (k *CacheKey) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d:%d", k.hashcode, k.checksum)
	for _, o := range k.objects {
		b.WriteByte(':')
		if o == nil {
			b.WriteString("null")
			continue
		}
		fmt.Fprintf(&b, "%v", o)
	}
	return b.String()
}

func componentHash(part string) int64 {
	if part == "nil" {
		return 1
	}
	return int64(xxhash.Sum64String(part))
}
