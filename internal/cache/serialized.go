package cache

import (
	"bytes"
	"log/slog"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// SerializedCache stores msgpack encoded copies of values and decodes a fresh
// copy on every read, so callers never share mutable state through the cache.
// Values that cannot be encoded, including values that refer to themselves,
// are not cached.
type SerializedCache struct {
	delegate Cache
	logger   *slog.Logger
}

type serializedValue struct {
	typ  reflect.Type
	data []byte
}

// NewSerializedCache wraps delegate.
func NewSerializedCache(delegate Cache, logger *slog.Logger) *SerializedCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SerializedCache{delegate: delegate, logger: logger}
}

func (c *SerializedCache) ID() string { return c.delegate.ID() }

func (c *SerializedCache) Size() int { return c.delegate.Size() }

func (c *SerializedCache) Put(key, value any) {
	if value == nil {
		c.delegate.Put(key, nil)
		return
	}
	data, err := encode(value)
	if err != nil {
		c.logger.Warn("[cache] value is not serializable, skipping",
			"cache", c.ID(), "type", reflect.TypeOf(value).String(), "err", err)
		return
	}
	c.delegate.Put(key, serializedValue{typ: reflect.TypeOf(value), data: data})
}

func (c *SerializedCache) Get(key any) (any, bool) {
	v, ok := c.delegate.Get(key)
	if !ok || v == nil {
		return v, ok
	}
	sv, isSerialized := v.(serializedValue)
	if !isSerialized {
		return v, ok
	}
	out, err := decodeAs(sv.typ, sv.data)
	if err != nil {
		c.logger.Warn("[cache] error deserializing cached value, treating as miss",
			"cache", c.ID(), "err", err)
		return nil, false
	}
	return out, true
}

func (c *SerializedCache) Remove(key any) (any, bool) {
	v, ok := c.delegate.Remove(key)
	if sv, isSerialized := v.(serializedValue); isSerialized {
		out, err := decodeAs(sv.typ, sv.data)
		if err != nil {
			return nil, ok
		}
		return out, ok
	}
	return v, ok
}

func (c *SerializedCache) Clear() { c.delegate.Clear() }

// decodeAs decodes data into a new value of typ. Integers inside interface
// values decode as int64/uint64.
func decodeAs(typ reflect.Type, data []byte) (any, error) {
	ptr := reflect.New(typ)
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

func encode(value any) ([]byte, error) {
	if err := checkAcyclic(value); err != nil {
		return nil, err
	}
	return msgpack.Marshal(value)
}

func decodeLoose(data []byte) (any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	return dec.DecodeInterface()
}
