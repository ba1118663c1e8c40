package executor

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-brasil/sqlrt/internal/mapping"
	"github.com/joao-brasil/sqlrt/internal/pool"
	"github.com/joao-brasil/sqlrt/pkg/datasource"
)

func newMockPool(t *testing.T, autoCommit bool) (*pool.PooledDataSource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	connector := pool.ConnectorFunc(func(context.Context, string, string, bool) (pool.Conn, error) {
		return pool.NewSQLConn(db, autoCommit), nil
	})
	ds := datasource.DataSource{
		ID:         "blog",
		Driver:     datasource.DriverPostgres,
		Host:       "db.local",
		Port:       5432,
		Database:   "blog",
		Username:   "app",
		Password:   "secret",
		AutoCommit: autoCommit,
		Pool:       datasource.DefaultPoolProperties(),
	}
	p := pool.NewPooledDataSource(ds, pool.WithConnector(connector))
	t.Cleanup(func() {
		_ = p.Close()
		_ = db.Close()
	})
	return p, mock
}

func TestSimpleExecutorSelectRebindsAndReleases(t *testing.T) {
	p, mock := newMockPool(t, true)
	e := NewSimpleExecutor(NewTransaction(p, datasource.DriverPostgres, true))
	ms := statement(t, "selectAuthor", mapping.KindSelect, "select id, name from authors where id = #{id}")
	ms.DataSourceID = "blog"

	mock.ExpectQuery("select id, name from authors where id = $1").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, []byte("ann")))

	list, err := e.Query(context.Background(), ms, map[string]any{"id": 1}, mapping.DefaultWindow, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	row := list[0].(mapping.ResultObject)
	assert.Equal(t, "ann", row["name"])

	stats := p.Stats()
	assert.Equal(t, 0, stats.Active, "autocommit returns the connection after each statement")
	assert.Equal(t, 1, stats.Idle)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSimpleExecutorAppliesWindow(t *testing.T) {
	p, mock := newMockPool(t, true)
	e := NewSimpleExecutor(NewTransaction(p, datasource.DriverPostgres, true))
	ms := statement(t, "listAuthors", mapping.KindSelect, "select id from authors order by id")

	mock.ExpectQuery("select id from authors order by id").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3).AddRow(4))

	list, err := e.Query(context.Background(), ms, nil, mapping.ResultWindow{Offset: 1, Limit: 2}, nil)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.EqualValues(t, 2, list[0].(mapping.ResultObject)["id"])
	assert.EqualValues(t, 3, list[1].(mapping.ResultObject)["id"])
}

func TestSimpleExecutorUpdateAndInsertKey(t *testing.T) {
	p, mock := newMockPool(t, true)
	e := NewSimpleExecutor(NewTransaction(p, datasource.DriverPostgres, true))
	ins := statement(t, "insertAuthor", mapping.KindInsert, "insert into authors (name) values (#{name})")
	ins.KeyProperty = "id"
	upd := statement(t, "renameAuthor", mapping.KindUpdate, "update authors set name = #{name} where id = #{id}")

	mock.ExpectExec("insert into authors (name) values ($1)").
		WithArgs("ann").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec("update authors set name = $1 where id = $2").
		WithArgs("bob", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	params := map[string]any{"name": "ann"}
	n, err := e.Update(context.Background(), ins, params)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(7), params["id"])

	n, err = e.Update(context.Background(), upd, map[string]any{"id": 7, "name": "bob"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSimpleExecutorMarksStatementErrors(t *testing.T) {
	p, mock := newMockPool(t, true)
	e := NewSimpleExecutor(NewTransaction(p, datasource.DriverPostgres, true))
	ms := statement(t, "selectAuthor", mapping.KindSelect, "select * from authors where id = #{id}")

	mock.ExpectQuery("select * from authors where id = $1").WillReturnError(sql.ErrConnDone)

	_, err := e.Query(context.Background(), ms, map[string]any{"id": 1}, mapping.DefaultWindow, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStatementFailed))
	assert.True(t, errors.Is(err, sql.ErrConnDone))
	assert.False(t, errors.Is(err, pool.ErrAcquire))
	assert.Equal(t, 0, e.LocalCache().Size())
}

func TestSimpleExecutorHoldsConnectionUntilCommit(t *testing.T) {
	p, mock := newMockPool(t, false)
	e := NewSimpleExecutor(NewTransaction(p, datasource.DriverPostgres, false))
	upd := statement(t, "renameAuthor", mapping.KindUpdate, "update authors set name = #{name} where id = #{id}")

	mock.ExpectBegin()
	mock.ExpectExec("update authors set name = $1 where id = $2").
		WithArgs("bob", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := e.Update(context.Background(), upd, map[string]any{"id": 1, "name": "bob"})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stats().Active)

	require.NoError(t, e.Commit(true))
	assert.Equal(t, 0, p.Stats().Active)
	assert.Equal(t, 1, p.Stats().Idle)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSimpleExecutorRollbackOnClose(t *testing.T) {
	p, mock := newMockPool(t, false)
	e := NewSimpleExecutor(NewTransaction(p, datasource.DriverPostgres, false))
	del := statement(t, "deleteAuthor", mapping.KindDelete, "delete from authors where id = #{id}")

	mock.ExpectBegin()
	mock.ExpectExec("delete from authors where id = $1").
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	_, err := e.Update(context.Background(), del, map[string]any{"id": 1})
	require.NoError(t, err)
	e.Close(true)

	assert.True(t, e.IsClosed())
	assert.Equal(t, 0, p.Stats().Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}
