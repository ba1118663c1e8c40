package cache

import (
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// Store implementations known to every Builder.
const (
	ImplPerpetual = "perpetual"
	ImplRedis     = "redis"
	ImplSturdyc   = "sturdyc"
)

// Decorator names accepted in Builder.Decorators.
const (
	DecoratorLRU          = "lru"
	DecoratorFIFO         = "fifo"
	DecoratorScheduled    = "scheduled"
	DecoratorSerialized   = "serialized"
	DecoratorSynchronized = "synchronized"
	DecoratorLogging      = "logging"
	DecoratorBlocking     = "blocking"
)

// Factory creates a base store for a namespace.
type Factory func(id string) (Cache, error)

// Builder assembles the cache of one namespace.
//
// A perpetual base store gets the requested decorators (LRU when none are
// given) followed by, in this order: size limit, scheduled clear,
// serialization, logging, synchronization and blocking. Synchronization and
// blocking cannot be requested; use Blocking instead. Any other base store
// is only wrapped for logging.
type Builder struct {
	ID             string
	Implementation string
	Decorators     []string
	// Size is applied to the outermost requested decorator when it has a
	// SetSize method; zero leaves its default.
	Size            int
	FlushInterval   time.Duration
	ReadWrite       bool
	Blocking        bool
	BlockingTimeout time.Duration
	Properties      map[string]string

	Logger *slog.Logger
	// Redis is required by the redis implementation.
	Redis redis.UniversalClient

	factories map[string]Factory
}

// NewBuilder returns a builder for namespace id with the perpetual store.
func NewBuilder(id string) *Builder {
	return &Builder{ID: id}
}

// Register adds a custom base store implementation.
func (b *Builder) Register(name string, f Factory) *Builder {
	if b.factories == nil {
		b.factories = make(map[string]Factory)
	}
	b.factories[name] = f
	return b
}

// Build creates the decorated cache.
func (b *Builder) Build() (Cache, error) {
	if b.ID == "" {
		return nil, errors.New("cache id is required")
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	impl := b.Implementation
	if impl == "" {
		impl = ImplPerpetual
	}
	decorators := b.Decorators
	if impl == ImplPerpetual && len(decorators) == 0 {
		decorators = []string{DecoratorLRU}
	}

	base, err := b.newBase(impl, logger)
	if err != nil {
		return nil, err
	}
	if err := b.setProperties(base); err != nil {
		return nil, err
	}

	if _, isPerpetual := base.(*PerpetualCache); !isPerpetual {
		logger.Debug("[cache] custom store, only logging applied", "cache", b.ID, "type", impl)
		return NewLoggingCache(base, logger), nil
	}

	var c Cache = base
	for _, name := range decorators {
		c, err = b.decorate(name, c, logger)
		if err != nil {
			return nil, err
		}
		if err := b.setProperties(c); err != nil {
			return nil, err
		}
	}
	return b.standardDecorators(c, logger), nil
}

func (b *Builder) newBase(impl string, logger *slog.Logger) (Cache, error) {
	if f, ok := b.factories[impl]; ok {
		return f(b.ID)
	}
	switch impl {
	case ImplPerpetual:
		return NewPerpetualCache(b.ID), nil
	case ImplSturdyc:
		return NewSturdycCache(b.ID), nil
	case ImplRedis:
		if b.Redis == nil {
			return nil, errors.Newf("cache %s: redis implementation requires a redis client", b.ID)
		}
		return NewRedisCache(b.ID, b.Redis, logger), nil
	}
	return nil, errors.Wrapf(ErrUnknownImplementation, "cache %s: %q", b.ID, impl)
}

func (b *Builder) decorate(name string, c Cache, logger *slog.Logger) (Cache, error) {
	switch name {
	case DecoratorLRU:
		return NewLruCache(c), nil
	case DecoratorFIFO:
		return NewFifoCache(c), nil
	case DecoratorScheduled:
		return NewScheduledCache(c), nil
	case DecoratorSerialized:
		return NewSerializedCache(c, logger), nil
	case DecoratorLogging:
		return NewLoggingCache(c, logger), nil
	case DecoratorSynchronized, DecoratorBlocking:
		// added by standardDecorators; blocking must stay outermost
		return nil, errors.Wrapf(ErrReservedDecorator, "cache %s: %q", b.ID, name)
	}
	return nil, errors.Newf("cache %s: unknown decorator %q", b.ID, name)
}

type sizer interface {
	SetSize(size int)
}

func (b *Builder) standardDecorators(c Cache, logger *slog.Logger) Cache {
	if s, ok := c.(sizer); ok && b.Size > 0 {
		s.SetSize(b.Size)
	}
	if b.FlushInterval > 0 {
		sc := NewScheduledCache(c)
		sc.SetClearInterval(b.FlushInterval)
		c = sc
	}
	if b.ReadWrite {
		c = NewSerializedCache(c, logger)
	}
	c = NewLoggingCache(c, logger)
	c = NewSynchronizedCache(c)
	if b.Blocking {
		bc := NewBlockingCache(c, logger)
		bc.SetTimeout(b.BlockingTimeout)
		c = bc
	}
	return c
}

// setProperties forwards every property to c when it is Configurable, in
// name order so the result does not depend on map iteration.
func (b *Builder) setProperties(c Cache) error {
	cfg, ok := c.(Configurable)
	if !ok || len(b.Properties) == 0 {
		return nil
	}
	names := make([]string, 0, len(b.Properties))
	for name := range b.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := cfg.SetProperty(name, b.Properties[name]); err != nil {
			return errors.Wrapf(err, "cache %s", b.ID)
		}
	}
	return nil
}

// Describe lists the decorator chain of c from the outside in, for diagnostics.
func Describe(c Cache) []string {
	var chain []string
	for c != nil {
		switch t := c.(type) {
		case *BlockingCache:
			chain = append(chain, DecoratorBlocking)
			c = t.delegate
		case *SynchronizedCache:
			chain = append(chain, DecoratorSynchronized)
			c = t.delegate
		case *LoggingCache:
			chain = append(chain, DecoratorLogging)
			c = t.delegate
		case *SerializedCache:
			chain = append(chain, DecoratorSerialized)
			c = t.delegate
		case *ScheduledCache:
			chain = append(chain, DecoratorScheduled)
			c = t.delegate
		case *LruCache:
			chain = append(chain, DecoratorLRU+"("+strconv.Itoa(t.size)+")")
			c = t.delegate
		case *FifoCache:
			chain = append(chain, DecoratorFIFO+"("+strconv.Itoa(t.size)+")")
			c = t.delegate
		case *PerpetualCache:
			chain = append(chain, ImplPerpetual)
			c = nil
		case *RedisCache:
			chain = append(chain, ImplRedis)
			c = nil
		case *SturdycCache:
			chain = append(chain, ImplSturdyc)
			c = nil
		default:
			chain = append(chain, "custom")
			c = nil
		}
	}
	return chain
}
