package pool

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-brasil/sqlrt/pkg/datasource"
)

func TestManagerRoutesByDataSourceID(t *testing.T) {
	fc := &fakeConnector{}
	orders := testDataSource(datasource.DefaultPoolProperties())
	billing := testDataSource(datasource.DefaultPoolProperties())
	billing.ID = "billing"

	m, err := NewManager([]datasource.DataSource{orders, billing}, WithConnector(fc))
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, []string{"billing", "orders"}, m.IDs())

	c, err := m.Checkout(context.Background(), "billing")
	require.NoError(t, err)
	stats := m.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "billing", stats[0].DataSourceID)
	assert.Equal(t, 1, stats[0].Active)
	assert.Equal(t, 0, stats[1].Active)
	require.NoError(t, c.Close())

	_, err = m.Checkout(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrUnknownDataSource))
}

func TestManagerRejectsDuplicateIDs(t *testing.T) {
	ds := testDataSource(datasource.DefaultPoolProperties())
	_, err := NewManager([]datasource.DataSource{ds, ds}, WithConnector(&fakeConnector{}))
	assert.Error(t, err)
}

func TestManagerCloseClosesPools(t *testing.T) {
	fc := &fakeConnector{}
	m, err := NewManager([]datasource.DataSource{testDataSource(datasource.DefaultPoolProperties())}, WithConnector(fc))
	require.NoError(t, err)
	m.StartMaintenance(context.Background(), time.Hour)

	c, err := m.Checkout(context.Background(), "orders")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	require.NoError(t, m.Close())
	assert.True(t, fc.opened[0].IsClosed())
	_, err = m.Checkout(context.Background(), "orders")
	assert.True(t, errors.Is(err, ErrUnknownDataSource))
}
