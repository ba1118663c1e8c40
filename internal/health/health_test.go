package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-brasil/sqlrt/internal/pool"
	"github.com/joao-brasil/sqlrt/pkg/datasource"
)

func newPools(t *testing.T) *pool.Manager {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)

	connector := pool.ConnectorFunc(func(_ context.Context, _, dsn string, autoCommit bool) (pool.Conn, error) {
		if dsn == "broken" {
			return nil, errors.New("connection refused")
		}
		return pool.NewSQLConn(db, autoCommit), nil
	})
	m, err := pool.NewManager([]datasource.DataSource{
		{ID: "blog", Driver: datasource.DriverPostgres, DSN: "postgres://db/blog", AutoCommit: true, Pool: datasource.DefaultPoolProperties()},
		{ID: "legacy", Driver: datasource.DriverSQLServer, DSN: "broken", AutoCommit: true, Pool: datasource.DefaultPoolProperties()},
	}, pool.WithConnector(connector))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.Close()
		_ = db.Close()
	})
	return m
}

func TestCheckReportsEveryComponent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewChecker("sqlrt-1", newPools(t), client, nil)
	report := c.Check(context.Background())

	assert.Equal(t, "sqlrt-1", report.InstanceID)
	assert.Equal(t, StatusUnhealthy, report.Status)
	require.Len(t, report.Components, 3)

	byName := make(map[string]ComponentHealth)
	for _, ch := range report.Components {
		byName[ch.Name] = ch
	}
	assert.Equal(t, StatusHealthy, byName["redis"].Status)
	assert.Equal(t, StatusHealthy, byName["datasource-blog"].Status)
	require.NotNil(t, byName["datasource-blog"].Idle)
	assert.Equal(t, 1, *byName["datasource-blog"].Idle)
	assert.Equal(t, StatusUnhealthy, byName["datasource-legacy"].Status)
	assert.Contains(t, byName["datasource-legacy"].Message, "connection refused")
}

func TestCheckRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	c := NewChecker("sqlrt-1", newPools(t), client, nil)
	ch := c.checkRedis(context.Background())
	assert.Equal(t, StatusUnhealthy, ch.Status)
}

func TestHandlerStatusCodes(t *testing.T) {
	c := NewChecker("sqlrt-1", newPools(t), nil, nil)
	h := c.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Len(t, report.Components, 2, "no redis component without a client")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
}
