// Package config handles loading and validating the runtime configuration
// (datasources, namespace caches and mapped statements) from a YAML file.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/joao-brasil/sqlrt/internal/cache"
	"github.com/joao-brasil/sqlrt/internal/executor"
	"github.com/joao-brasil/sqlrt/internal/mapping"
	"github.com/joao-brasil/sqlrt/pkg/datasource"
)

// RuntimeConfig holds process-wide settings.
type RuntimeConfig struct {
	InstanceID          string        `yaml:"instance_id"`
	EnvironmentID       string        `yaml:"environment_id"`
	MetricsPort         int           `yaml:"metrics_port"`
	HealthCheckPort     int           `yaml:"health_check_port"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	LocalCacheScope     string        `yaml:"local_cache_scope"`
	DisableSharedCache  bool          `yaml:"disable_shared_cache"`
	LogLevel            string        `yaml:"log_level"`
}

// RedisConfig holds the Redis connection configuration used by redis caches.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Options converts the configuration to client options.
func (r RedisConfig) Options() cache.RedisOptions {
	return cache.RedisOptions{
		Addr:         r.Addr,
		Password:     r.Password,
		DB:           r.DB,
		PoolSize:     r.PoolSize,
		DialTimeout:  r.DialTimeout,
		ReadTimeout:  r.ReadTimeout,
		WriteTimeout: r.WriteTimeout,
	}
}

// CacheConfig declares the shared cache of one namespace.
type CacheConfig struct {
	Namespace       string            `yaml:"namespace"`
	Type            string            `yaml:"type"`
	Eviction        string            `yaml:"eviction"`
	Size            int               `yaml:"size"`
	FlushInterval   time.Duration     `yaml:"flush_interval"`
	ReadWrite       bool              `yaml:"read_write"`
	Blocking        bool              `yaml:"blocking"`
	BlockingTimeout time.Duration     `yaml:"blocking_timeout"`
	Properties      map[string]string `yaml:"properties"`
}

// AssociationConfig fills a property of each row from another statement.
type AssociationConfig struct {
	Property  string `yaml:"property"`
	Statement string `yaml:"statement"`
	Column    string `yaml:"column"`
	Param     string `yaml:"param"`
	Single    bool   `yaml:"single"`
}

// StatementConfig declares one mapped statement. UseCache and FlushCache
// default by kind: selects use the cache, everything else flushes it.
type StatementConfig struct {
	ID           string              `yaml:"id"`
	Namespace    string              `yaml:"namespace"`
	DataSource   string              `yaml:"datasource"`
	Kind         string              `yaml:"kind"`
	SQL          string              `yaml:"sql"`
	Callable     bool                `yaml:"callable"`
	UseCache     *bool               `yaml:"use_cache"`
	FlushCache   *bool               `yaml:"flush_cache"`
	KeyProperty  string              `yaml:"key_property"`
	Associations []AssociationConfig `yaml:"associations"`
}

// Config is the root configuration structure.
type Config struct {
	Runtime     RuntimeConfig           `yaml:"runtime"`
	Redis       RedisConfig             `yaml:"redis"`
	DataSources []datasource.DataSource `yaml:"datasources"`
	Caches      []CacheConfig           `yaml:"caches"`
	Statements  []StatementConfig       `yaml:"statements"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes, validates and completes a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "config validation")
	}
	cfg.applyDefaults()
	return &cfg, nil
}

var (
	drivers        = []any{datasource.DriverSQLServer, datasource.DriverMySQL, datasource.DriverPostgres}
	kinds          = []any{"select", "insert", "update", "delete"}
	evictions      = []any{"", cache.DecoratorLRU, cache.DecoratorFIFO}
	cacheScopes    = []any{"", "session", "statement"}
	knownLogLevels = []any{"", "debug", "info", "warn", "error"}
)

// validate checks mandatory fields and cross references.
func (c *Config) validate() error {
	if err := validation.ValidateStruct(&c.Runtime,
		validation.Field(&c.Runtime.LocalCacheScope, validation.In(cacheScopes...)),
		validation.Field(&c.Runtime.LogLevel, validation.In(knownLogLevels...)),
		validation.Field(&c.Runtime.MetricsPort, validation.Min(0), validation.Max(65535)),
		validation.Field(&c.Runtime.HealthCheckPort, validation.Min(0), validation.Max(65535)),
	); err != nil {
		return errors.Wrap(err, "runtime")
	}
	if len(c.DataSources) == 0 {
		return errors.New("at least one datasource must be configured")
	}

	dataSources := make(map[string]bool, len(c.DataSources))
	for i := range c.DataSources {
		ds := &c.DataSources[i]
		hasDSN := strings.TrimSpace(ds.DSN) != ""
		if err := validation.ValidateStruct(ds,
			validation.Field(&ds.ID, validation.Required),
			validation.Field(&ds.Driver, validation.Required, validation.In(drivers...)),
			validation.Field(&ds.Host, validation.When(!hasDSN, validation.Required)),
			validation.Field(&ds.Port, validation.Min(0), validation.Max(65535)),
		); err != nil {
			return errors.Wrapf(err, "datasources[%d]", i)
		}
		if dataSources[ds.ID] {
			return errors.Newf("datasources[%d]: duplicate id %q", i, ds.ID)
		}
		dataSources[ds.ID] = true
	}

	namespaces := make(map[string]bool, len(c.Caches))
	usesRedis := false
	for i := range c.Caches {
		cc := &c.Caches[i]
		if err := validation.ValidateStruct(cc,
			validation.Field(&cc.Namespace, validation.Required),
			validation.Field(&cc.Eviction, validation.In(evictions...)),
			validation.Field(&cc.Size, validation.Min(0)),
		); err != nil {
			return errors.Wrapf(err, "caches[%d]", i)
		}
		if namespaces[cc.Namespace] {
			return errors.Newf("caches[%d]: duplicate namespace %q", i, cc.Namespace)
		}
		namespaces[cc.Namespace] = true
		usesRedis = usesRedis || cc.Type == cache.ImplRedis
	}
	if usesRedis && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when a cache uses the redis store")
	}

	statements := make(map[string]bool, len(c.Statements))
	for i := range c.Statements {
		st := &c.Statements[i]
		if err := validation.ValidateStruct(st,
			validation.Field(&st.ID, validation.Required),
			validation.Field(&st.Kind, validation.Required, validation.In(kinds...)),
			validation.Field(&st.SQL, validation.Required),
			validation.Field(&st.DataSource, validation.When(st.DataSource != "",
				validation.By(func(any) error {
					if !dataSources[st.DataSource] {
						return errors.Newf("unknown datasource %q", st.DataSource)
					}
					return nil
				}))),
		); err != nil {
			return errors.Wrapf(err, "statements[%d]", i)
		}
		if statements[st.ID] {
			return errors.Newf("statements[%d]: duplicate id %q", i, st.ID)
		}
		statements[st.ID] = true
	}
	for i, st := range c.Statements {
		for j, a := range st.Associations {
			if a.Property == "" || a.Column == "" {
				return errors.Newf("statements[%d].associations[%d]: property and column are required", i, j)
			}
			if !statements[a.Statement] {
				return errors.Newf("statements[%d].associations[%d]: unknown statement %q", i, j, a.Statement)
			}
		}
	}
	return nil
}

// applyDefaults fills in reasonable defaults for unset optional fields.
func (c *Config) applyDefaults() {
	if c.Runtime.InstanceID == "" {
		hostname, _ := os.Hostname()
		c.Runtime.InstanceID = hostname
	}
	if c.Runtime.MetricsPort == 0 {
		c.Runtime.MetricsPort = 9090
	}
	if c.Runtime.HealthCheckPort == 0 {
		c.Runtime.HealthCheckPort = 8080
	}
	if c.Runtime.HealthCheckInterval == 0 {
		c.Runtime.HealthCheckInterval = 15 * time.Second
	}
	if c.Runtime.LocalCacheScope == "" {
		c.Runtime.LocalCacheScope = "session"
	}
	if c.Runtime.LogLevel == "" {
		c.Runtime.LogLevel = "info"
	}

	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 20
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	defaults := datasource.DefaultPoolProperties()
	for i := range c.DataSources {
		p := &c.DataSources[i].Pool
		if p.MaxActive == 0 {
			p.MaxActive = defaults.MaxActive
		}
		if p.MaxIdle == 0 {
			p.MaxIdle = defaults.MaxIdle
		}
		if p.MaxCheckoutTime == 0 {
			p.MaxCheckoutTime = defaults.MaxCheckoutTime
		}
		if p.TimeToWait == 0 {
			p.TimeToWait = defaults.TimeToWait
		}
		if p.LocalBadConnectionTolerance == 0 {
			p.LocalBadConnectionTolerance = defaults.LocalBadConnectionTolerance
		}
	}

	for i := range c.Caches {
		if c.Caches[i].Type == "" {
			c.Caches[i].Type = cache.ImplPerpetual
		}
	}

	for i := range c.Statements {
		st := &c.Statements[i]
		isSelect := strings.EqualFold(st.Kind, "select")
		if st.UseCache == nil {
			st.UseCache = &isSelect
		}
		if st.FlushCache == nil {
			flush := !isSelect
			st.FlushCache = &flush
		}
		if st.DataSource == "" && len(c.DataSources) == 1 {
			st.DataSource = c.DataSources[0].ID
		}
	}
}

// DataSourceByID returns the datasource configuration for a given ID.
func (c *Config) DataSourceByID(id string) (*datasource.DataSource, bool) {
	for i := range c.DataSources {
		if c.DataSources[i].ID == id {
			return &c.DataSources[i], true
		}
	}
	return nil, false
}

// Scope returns the configured local cache scope.
func (c *Config) Scope() executor.LocalCacheScope {
	if c.Runtime.LocalCacheScope == "statement" {
		return executor.ScopeStatement
	}
	return executor.ScopeSession
}

// UsesRedis reports whether any cache needs a Redis client.
func (c *Config) UsesRedis() bool {
	for _, cc := range c.Caches {
		if cc.Type == cache.ImplRedis {
			return true
		}
	}
	return false
}

// kind parses the statement kind; validate guarantees it is known.
func (s StatementConfig) kind() mapping.Kind {
	k, _ := mapping.ParseKind(s.Kind)
	return k
}
