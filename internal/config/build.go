package config

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/joao-brasil/sqlrt/internal/cache"
	"github.com/joao-brasil/sqlrt/internal/mapping"
)

// CacheBuilder returns the builder for this namespace cache.
func (cc CacheConfig) CacheBuilder(logger *slog.Logger, client redis.UniversalClient) *cache.Builder {
	b := cache.NewBuilder(cc.Namespace)
	b.Implementation = cc.Type
	if cc.Eviction != "" {
		b.Decorators = []string{cc.Eviction}
	}
	b.Size = cc.Size
	b.FlushInterval = cc.FlushInterval
	b.ReadWrite = cc.ReadWrite
	b.Blocking = cc.Blocking
	b.BlockingTimeout = cc.BlockingTimeout
	b.Properties = cc.Properties
	b.Logger = logger
	b.Redis = client
	return b
}

// BuildRegistry creates every namespace cache and mapped statement.
// Associations are resolved after all statements exist, so statements may
// refer to each other in any order.
func (c *Config) BuildRegistry(logger *slog.Logger, client redis.UniversalClient) (*mapping.Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg := mapping.NewRegistry()

	for _, cc := range c.Caches {
		built, err := cc.CacheBuilder(logger, client).Build()
		if err != nil {
			return nil, errors.Wrapf(err, "building cache %s", cc.Namespace)
		}
		if err := reg.AddCache(built); err != nil {
			return nil, err
		}
		logger.Info("[cache] namespace cache ready", "namespace", cc.Namespace, "chain", cache.Describe(built))
	}

	for _, sc := range c.Statements {
		st := mapping.Prepared
		if sc.Callable {
			st = mapping.Callable
		}
		src, err := mapping.NewStaticSQLSource(sc.SQL, st)
		if err != nil {
			return nil, errors.Wrapf(err, "statement %s", sc.ID)
		}
		ms := &mapping.MappedStatement{
			ID:                 sc.ID,
			Namespace:          sc.Namespace,
			DataSourceID:       sc.DataSource,
			Kind:               sc.kind(),
			StatementType:      st,
			SQLSource:          src,
			UseCache:           sc.UseCache != nil && *sc.UseCache,
			FlushCacheRequired: sc.FlushCache != nil && *sc.FlushCache,
			KeyProperty:        sc.KeyProperty,
		}
		if err := reg.AddStatement(ms); err != nil {
			return nil, err
		}
	}

	for _, sc := range c.Statements {
		if len(sc.Associations) == 0 {
			continue
		}
		ms, err := reg.Statement(sc.ID)
		if err != nil {
			return nil, err
		}
		mapper := mapping.NestedQueryMapper{}
		for _, ac := range sc.Associations {
			nested, err := reg.Statement(ac.Statement)
			if err != nil {
				return nil, errors.Wrapf(err, "association %s of %s", ac.Property, sc.ID)
			}
			kind := mapping.TargetList
			if ac.Single {
				kind = mapping.TargetSingle
			}
			mapper.Associations = append(mapper.Associations, mapping.Association{
				Property:  ac.Property,
				Statement: nested,
				Column:    ac.Column,
				Param:     ac.Param,
				Kind:      kind,
			})
		}
		ms.RowMapper = mapper
	}
	return reg, nil
}
