package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-brasil/sqlrt/internal/cache"
	"github.com/joao-brasil/sqlrt/internal/executor"
	"github.com/joao-brasil/sqlrt/internal/mapping"
)

const minimal = `
datasources:
  - id: blog
    driver: mysql
    host: db
    port: 3306
    database: blog
statements:
  - id: selectAuthor
    namespace: blog
    kind: select
    sql: SELECT * FROM authors WHERE id = #{id}
  - id: deleteAuthor
    namespace: blog
    kind: delete
    sql: DELETE FROM authors WHERE id = #{id}
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Runtime.MetricsPort)
	assert.Equal(t, 8080, cfg.Runtime.HealthCheckPort)
	assert.Equal(t, 15*time.Second, cfg.Runtime.HealthCheckInterval)
	assert.Equal(t, executor.ScopeSession, cfg.Scope())
	assert.NotEmpty(t, cfg.Runtime.InstanceID)

	pool := cfg.DataSources[0].Pool
	assert.Equal(t, 10, pool.MaxActive)
	assert.Equal(t, 5, pool.MaxIdle)
	assert.Equal(t, 20*time.Second, pool.MaxCheckoutTime)
	assert.Equal(t, 20*time.Second, pool.TimeToWait)
	assert.Equal(t, 3, pool.LocalBadConnectionTolerance)
	assert.False(t, pool.PingEnabled)

	sel, del := cfg.Statements[0], cfg.Statements[1]
	assert.True(t, *sel.UseCache)
	assert.False(t, *sel.FlushCache)
	assert.False(t, *del.UseCache)
	assert.True(t, *del.FlushCache)
	assert.Equal(t, "blog", sel.DataSource, "single datasource is implied")
	assert.False(t, cfg.UsesRedis())
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"no datasources": `statements: []`,
		"unknown driver": `
datasources:
  - {id: a, driver: oracle, host: db}`,
		"missing host": `
datasources:
  - {id: a, driver: mysql}`,
		"duplicate datasource": `
datasources:
  - {id: a, driver: mysql, host: db}
  - {id: a, driver: mysql, host: db2}`,
		"bad scope": `
runtime: {local_cache_scope: global}
datasources:
  - {id: a, driver: mysql, host: db}`,
		"redis without addr": `
datasources:
  - {id: a, driver: mysql, host: db}
caches:
  - {namespace: blog, type: redis}`,
		"unknown eviction": `
datasources:
  - {id: a, driver: mysql, host: db}
caches:
  - {namespace: blog, eviction: random}`,
		"unknown statement datasource": `
datasources:
  - {id: a, driver: mysql, host: db}
statements:
  - {id: s, kind: select, sql: SELECT 1, datasource: b}`,
		"unknown association target": `
datasources:
  - {id: a, driver: mysql, host: db}
statements:
  - id: s
    kind: select
    sql: SELECT 1
    associations:
      - {property: p, column: c, statement: missing}`,
		"bad kind": `
datasources:
  - {id: a, driver: mysql, host: db}
statements:
  - {id: s, kind: merge, sql: SELECT 1}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestDSNReplacesHost(t *testing.T) {
	cfg, err := Parse([]byte(`
datasources:
  - {id: a, driver: postgres, dsn: "postgres://u:p@db/app?sslmode=disable"}
`))
	require.NoError(t, err)
	ds, ok := cfg.DataSourceByID("a")
	require.True(t, ok)
	assert.Equal(t, "postgres://u:p@db/app?sslmode=disable", ds.URL())
}

func TestLoadSampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "sqlrt.yaml"))
	require.NoError(t, err)
	assert.Len(t, cfg.DataSources, 2)
	assert.True(t, cfg.UsesRedis())
	assert.Equal(t, 30*time.Second, cfg.DataSources[0].Pool.PingIdleThreshold)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBuildRegistryWiresCachesAndAssociations(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	path := filepath.Join(t.TempDir(), "sqlrt.yaml")
	doc := `
redis: {addr: "` + mr.Addr() + `"}
datasources:
  - {id: blog, driver: mysql, host: db}
caches:
  - {namespace: blog, eviction: fifo, size: 8, blocking: true}
  - {namespace: remote, type: redis}
statements:
  - id: selectAuthor
    namespace: blog
    kind: select
    sql: SELECT * FROM authors WHERE id = #{id}
    associations:
      - {property: posts, statement: selectPosts, column: id}
  - id: selectPosts
    namespace: remote
    kind: select
    sql: SELECT * FROM posts WHERE author_id = #{id}
  - id: call
    namespace: blog
    kind: select
    callable: true
    use_cache: false
    sql: "{call stats(#{id}, #{total, mode=OUT})}"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)

	reg, err := cfg.BuildRegistry(nil, client)
	require.NoError(t, err)
	assert.Equal(t, []string{"call", "selectAuthor", "selectPosts"}, reg.StatementIDs())

	author, err := reg.Statement("selectAuthor")
	require.NoError(t, err)
	require.NotNil(t, author.Cache)
	assert.Equal(t, []string{"blocking", "synchronized", "logging", "fifo(8)", "perpetual"}, cache.Describe(author.Cache))
	mapper, ok := author.RowMapper.(mapping.NestedQueryMapper)
	require.True(t, ok)
	require.Len(t, mapper.Associations, 1)
	assert.Equal(t, "selectPosts", mapper.Associations[0].Statement.ID)

	posts, err := reg.Statement("selectPosts")
	require.NoError(t, err)
	assert.Equal(t, []string{"logging", "redis"}, cache.Describe(posts.Cache))

	call, err := reg.Statement("call")
	require.NoError(t, err)
	assert.Equal(t, mapping.Callable, call.StatementType)
	assert.False(t, call.UseCache)
}
