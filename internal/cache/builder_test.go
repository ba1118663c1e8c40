package cache

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderDefaults(t *testing.T) {
	c, err := NewBuilder("orders").Build()
	require.NoError(t, err)

	assert.Equal(t, "orders", c.ID())
	assert.Equal(t, []string{"synchronized", "logging", "lru(1024)", "perpetual"}, Describe(c))
}

func TestBuilderStandardDecoratorOrder(t *testing.T) {
	b := NewBuilder("orders")
	b.Decorators = []string{DecoratorFIFO}
	b.Size = 512
	b.FlushInterval = time.Minute
	b.ReadWrite = true
	b.Blocking = true

	c, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"blocking", "synchronized", "logging", "serialized", "scheduled", "fifo(512)", "perpetual",
	}, Describe(c))
}

func TestBuilderInjectsProperties(t *testing.T) {
	b := NewBuilder("orders")
	b.Properties = map[string]string{"size": "2", "unknown": "ignored"}

	c, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"synchronized", "logging", "lru(2)", "perpetual"}, Describe(c))

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	assert.Equal(t, 2, c.Size())
}

func TestBuilderRejectsBadProperty(t *testing.T) {
	b := NewBuilder("orders")
	b.Properties = map[string]string{"size": "lots"}
	_, err := b.Build()
	assert.Error(t, err)
}

func TestBuilderCustomStoreOnlyGetsLogging(t *testing.T) {
	b := NewBuilder("orders")
	b.Implementation = ImplSturdyc
	b.Decorators = []string{DecoratorLRU}
	b.Size = 10
	b.ReadWrite = true
	b.Blocking = true

	c, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"logging", "sturdyc"}, Describe(c))

	c.Put("k", "v")
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

type mapStore struct {
	*PerpetualCache
	props map[string]string
}

func (m *mapStore) SetProperty(name, value string) error {
	m.props[name] = value
	return nil
}

func TestBuilderRegisteredImplementation(t *testing.T) {
	var store *mapStore
	b := NewBuilder("orders").Register("custom", func(id string) (Cache, error) {
		store = &mapStore{PerpetualCache: NewPerpetualCache(id), props: map[string]string{}}
		return store, nil
	})
	b.Implementation = "custom"
	b.Properties = map[string]string{"endpoint": "local"}

	c, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"logging", "custom"}, Describe(c))
	assert.Equal(t, "local", store.props["endpoint"])
}

func TestBuilderErrors(t *testing.T) {
	_, err := NewBuilder("").Build()
	assert.Error(t, err)

	b := NewBuilder("orders")
	b.Implementation = "memcached"
	_, err = b.Build()
	assert.True(t, errors.Is(err, ErrUnknownImplementation))

	b = NewBuilder("orders")
	b.Implementation = ImplRedis
	_, err = b.Build()
	assert.Error(t, err)

	b = NewBuilder("orders")
	b.Decorators = []string{"weak"}
	_, err = b.Build()
	assert.Error(t, err)
}

func TestBuilderRejectsReservedDecorators(t *testing.T) {
	for _, requested := range [][]string{
		{DecoratorSynchronized, DecoratorBlocking},
		{DecoratorBlocking},
		{DecoratorLRU, DecoratorSynchronized},
	} {
		b := NewBuilder("orders")
		b.Decorators = requested
		_, err := b.Build()
		assert.True(t, errors.Is(err, ErrReservedDecorator), "%v", requested)
	}
}
