package executor

import (
	"context"
	"reflect"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-brasil/sqlrt/internal/cachekey"
	"github.com/joao-brasil/sqlrt/internal/mapping"
)

// fakeRunner serves rows from per-statement functions and counts the
// physical work it is asked to do.
type fakeRunner struct {
	base *BaseExecutor

	rows    map[string]func(params map[string]any) ([]map[string]any, error)
	outs    map[string]map[string]any
	queries map[string]int

	updates   int
	commits   int
	rollbacks int
	closes    int
}

func newFakeExecutor(t *testing.T, opts ...Option) (*BaseExecutor, *fakeRunner) {
	t.Helper()
	r := &fakeRunner{
		rows:    make(map[string]func(map[string]any) ([]map[string]any, error)),
		outs:    make(map[string]map[string]any),
		queries: make(map[string]int),
	}
	r.base = newBaseExecutor(r, opts...)
	return r.base, r
}

func (r *fakeRunner) doQuery(ctx context.Context, ms *mapping.MappedStatement, params map[string]any,
	_ mapping.ResultWindow, handler mapping.RowHandler, _ *mapping.BoundSQL) ([]any, error) {
	r.queries[ms.ID]++
	fn, ok := r.rows[ms.ID]
	if !ok {
		return nil, errors.Newf("no rows for %s", ms.ID)
	}
	rows, err := fn(params)
	if err != nil {
		return nil, err
	}
	for k, v := range r.outs[ms.ID] {
		params[k] = v
	}
	mapper := ms.RowMapper
	if mapper == nil {
		mapper = mapping.ColumnMapper{}
	}
	list := make([]any, 0, len(rows))
	for _, row := range rows {
		obj, err := mapper.MapRow(ctx, r.base.Wrapper(), row)
		if err != nil {
			return nil, err
		}
		if handler != nil {
			if err := handler(obj); err != nil {
				return nil, err
			}
			continue
		}
		list = append(list, obj)
	}
	return list, nil
}

func (r *fakeRunner) doUpdate(context.Context, *mapping.MappedStatement, map[string]any, *mapping.BoundSQL) (int64, error) {
	r.updates++
	return 1, nil
}

func (r *fakeRunner) commit() error   { r.commits++; return nil }
func (r *fakeRunner) rollback() error { r.rollbacks++; return nil }
func (r *fakeRunner) close() error    { r.closes++; return nil }

func statement(t *testing.T, id string, kind mapping.Kind, sql string) *mapping.MappedStatement {
	t.Helper()
	return statementOfType(t, id, kind, mapping.Prepared, sql)
}

func statementOfType(t *testing.T, id string, kind mapping.Kind, st mapping.StatementType, sql string) *mapping.MappedStatement {
	t.Helper()
	src, err := mapping.NewStaticSQLSource(sql, st)
	require.NoError(t, err)
	return &mapping.MappedStatement{
		ID:            id,
		Namespace:     "blog",
		Kind:          kind,
		StatementType: st,
		SQLSource:     src,
	}
}

func authorRows(params map[string]any) ([]map[string]any, error) {
	return []map[string]any{{"id": params["id"], "name": "ann"}}, nil
}

func TestQueryIsServedFromLocalCache(t *testing.T) {
	e, r := newFakeExecutor(t)
	r.rows["selectAuthor"] = authorRows
	ms := statement(t, "selectAuthor", mapping.KindSelect, "select * from authors where id = #{id}")
	ctx := context.Background()

	first, err := e.Query(ctx, ms, map[string]any{"id": 1}, mapping.DefaultWindow, nil)
	require.NoError(t, err)
	second, err := e.Query(ctx, ms, map[string]any{"id": 1}, mapping.DefaultWindow, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, r.queries["selectAuthor"])
	assert.Equal(t, first, second)
	assert.Equal(t, 1, e.LocalCache().Size())

	_, err = e.Query(ctx, ms, map[string]any{"id": 2}, mapping.DefaultWindow, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, r.queries["selectAuthor"], "different parameters are a different key")

	_, err = e.Query(ctx, ms, map[string]any{"id": 1}, mapping.ResultWindow{Offset: 0, Limit: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, r.queries["selectAuthor"], "a different window is a different key")
}

func TestUpdateClearsLocalCache(t *testing.T) {
	e, r := newFakeExecutor(t)
	r.rows["selectAuthor"] = authorRows
	sel := statement(t, "selectAuthor", mapping.KindSelect, "select * from authors where id = #{id}")
	upd := statement(t, "renameAuthor", mapping.KindUpdate, "update authors set name = #{name} where id = #{id}")
	ctx := context.Background()

	_, err := e.Query(ctx, sel, map[string]any{"id": 1}, mapping.DefaultWindow, nil)
	require.NoError(t, err)
	n, err := e.Update(ctx, upd, map[string]any{"id": 1, "name": "bob"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 0, e.LocalCache().Size())

	_, err = e.Query(ctx, sel, map[string]any{"id": 1}, mapping.DefaultWindow, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, r.queries["selectAuthor"])
}

func TestFlushCacheRequiredClearsBeforeQuery(t *testing.T) {
	e, r := newFakeExecutor(t)
	r.rows["selectAuthor"] = authorRows
	r.rows["countAuthors"] = func(map[string]any) ([]map[string]any, error) {
		return []map[string]any{{"n": 1}}, nil
	}
	sel := statement(t, "selectAuthor", mapping.KindSelect, "select * from authors where id = #{id}")
	flushing := statement(t, "countAuthors", mapping.KindSelect, "select count(*) n from authors")
	flushing.FlushCacheRequired = true
	ctx := context.Background()

	_, err := e.Query(ctx, sel, map[string]any{"id": 1}, mapping.DefaultWindow, nil)
	require.NoError(t, err)
	_, err = e.Query(ctx, flushing, nil, mapping.DefaultWindow, nil)
	require.NoError(t, err)
	_, err = e.Query(ctx, sel, map[string]any{"id": 1}, mapping.DefaultWindow, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, r.queries["selectAuthor"])
}

func TestStatementScopeDoesNotReuseAcrossStatements(t *testing.T) {
	e, r := newFakeExecutor(t, WithLocalCacheScope(ScopeStatement))
	r.rows["selectAuthor"] = authorRows
	ms := statement(t, "selectAuthor", mapping.KindSelect, "select * from authors where id = #{id}")
	ctx := context.Background()

	for range 3 {
		_, err := e.Query(ctx, ms, map[string]any{"id": 1}, mapping.DefaultWindow, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, r.queries["selectAuthor"])
	assert.Equal(t, 0, e.LocalCache().Size())
}

func TestFailedQueryRemovesInFlightEntry(t *testing.T) {
	e, r := newFakeExecutor(t)
	fail := true
	r.rows["selectAuthor"] = func(params map[string]any) ([]map[string]any, error) {
		if fail {
			return nil, errors.New("connection reset")
		}
		return authorRows(params)
	}
	ms := statement(t, "selectAuthor", mapping.KindSelect, "select * from authors where id = #{id}")
	ctx := context.Background()

	_, err := e.Query(ctx, ms, map[string]any{"id": 1}, mapping.DefaultWindow, nil)
	require.Error(t, err)
	assert.Equal(t, 0, e.LocalCache().Size())

	fail = false
	list, err := e.Query(ctx, ms, map[string]any{"id": 1}, mapping.DefaultWindow, nil)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 2, r.queries["selectAuthor"])
}

func TestHandlerQueriesBypassLocalCache(t *testing.T) {
	e, r := newFakeExecutor(t)
	r.rows["selectAuthor"] = authorRows
	ms := statement(t, "selectAuthor", mapping.KindSelect, "select * from authors where id = #{id}")
	ctx := context.Background()

	var seen []any
	handler := func(obj any) error {
		seen = append(seen, obj)
		return nil
	}
	for range 2 {
		list, err := e.Query(ctx, ms, map[string]any{"id": 1}, mapping.DefaultWindow, handler)
		require.NoError(t, err)
		assert.Empty(t, list)
	}
	assert.Len(t, seen, 2)
	assert.Equal(t, 2, r.queries["selectAuthor"])
}

func samePointer(a, b any) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

func TestCircularAssociationIsDeferred(t *testing.T) {
	e, r := newFakeExecutor(t)
	author := statement(t, "selectAuthor", mapping.KindSelect, "select * from authors where id = #{id}")
	posts := statement(t, "selectPostsByAuthor", mapping.KindSelect, "select * from posts where author_id = #{id}")

	author.RowMapper = mapping.NestedQueryMapper{Associations: []mapping.Association{
		{Property: "posts", Statement: posts, Column: "id", Kind: mapping.TargetList},
	}}
	posts.RowMapper = mapping.NestedQueryMapper{Associations: []mapping.Association{
		{Property: "author", Statement: author, Column: "author_id", Param: "id", Kind: mapping.TargetSingle},
	}}
	r.rows["selectAuthor"] = authorRows
	r.rows["selectPostsByAuthor"] = func(params map[string]any) ([]map[string]any, error) {
		return []map[string]any{
			{"id": 10, "author_id": params["id"], "title": "first"},
			{"id": 11, "author_id": params["id"], "title": "second"},
		}, nil
	}

	list, err := e.Query(context.Background(), author, map[string]any{"id": 1}, mapping.DefaultWindow, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)

	a := list[0].(mapping.ResultObject)
	ps, ok := a["posts"].([]any)
	require.True(t, ok)
	require.Len(t, ps, 2)
	for _, p := range ps {
		post := p.(mapping.ResultObject)
		assert.True(t, samePointer(a, post["author"]), "post %v must point back at the enclosing author", post["id"])
	}
	assert.Equal(t, 1, r.queries["selectAuthor"])
	assert.Equal(t, 1, r.queries["selectPostsByAuthor"])
}

func TestReentrantQueryForInFlightKeyFails(t *testing.T) {
	e, r := newFakeExecutor(t)
	ms := statement(t, "selectAuthor", mapping.KindSelect, "select * from authors where id = #{id}")
	ms.RowMapper = mapping.RowMapperFunc(func(ctx context.Context, loader mapping.Loader, row map[string]any) (any, error) {
		return loader.Query(ctx, ms, map[string]any{"id": row["id"]}, mapping.DefaultWindow, nil)
	})
	r.rows["selectAuthor"] = authorRows

	_, err := e.Query(context.Background(), ms, map[string]any{"id": 1}, mapping.DefaultWindow, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQueryInProgress))
	assert.Equal(t, 0, e.LocalCache().Size())
}

func TestCallableOutputParametersAreRestoredOnHit(t *testing.T) {
	e, r := newFakeExecutor(t)
	ms := statementOfType(t, "countPosts", mapping.KindSelect, mapping.Callable,
		"{call count_posts(#{author}, #{total, mode=OUT})}")
	r.rows["countPosts"] = func(map[string]any) ([]map[string]any, error) { return nil, nil }
	r.outs["countPosts"] = map[string]any{"total": 42}
	ctx := context.Background()

	first := map[string]any{"author": 1}
	_, err := e.Query(ctx, ms, first, mapping.DefaultWindow, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, first["total"])

	second := map[string]any{"author": 1, "total": 0}
	_, err = e.Query(ctx, ms, second, mapping.DefaultWindow, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, second["total"])
	assert.Equal(t, 1, r.queries["countPosts"], "output parameters do not take part in the key")
}

func TestCreateCacheKeyIncludesEnvironment(t *testing.T) {
	ms := statement(t, "selectAuthor", mapping.KindSelect, "select * from authors where id = #{id}")
	params := map[string]any{"id": 1}
	bound, err := ms.BoundSQL(params)
	require.NoError(t, err)

	dev, _ := newFakeExecutor(t, WithEnvironmentID("dev"))
	prod, _ := newFakeExecutor(t, WithEnvironmentID("prod"))
	k1, err := dev.CreateCacheKey(ms, params, mapping.DefaultWindow, bound)
	require.NoError(t, err)
	k2, err := prod.CreateCacheKey(ms, params, mapping.DefaultWindow, bound)
	require.NoError(t, err)
	k3, err := dev.CreateCacheKey(ms, map[string]any{"id": 1}, mapping.DefaultWindow, bound)
	require.NoError(t, err)

	assert.False(t, k1.Equal(k2))
	assert.True(t, k1.Equal(k3))
	assert.Equal(t, 6, k1.Count())
}

func TestCommitAndRollbackClearLocalCache(t *testing.T) {
	e, r := newFakeExecutor(t)
	r.rows["selectAuthor"] = authorRows
	ms := statement(t, "selectAuthor", mapping.KindSelect, "select * from authors where id = #{id}")
	ctx := context.Background()

	_, err := e.Query(ctx, ms, map[string]any{"id": 1}, mapping.DefaultWindow, nil)
	require.NoError(t, err)
	require.NoError(t, e.Commit(false))
	assert.Equal(t, 0, e.LocalCache().Size())
	assert.Equal(t, 0, r.commits)

	require.NoError(t, e.Commit(true))
	require.NoError(t, e.Rollback(true))
	assert.Equal(t, 1, r.commits)
	assert.Equal(t, 1, r.rollbacks)
}

func TestClosedExecutorRejectsWork(t *testing.T) {
	e, r := newFakeExecutor(t)
	r.rows["selectAuthor"] = authorRows
	ms := statement(t, "selectAuthor", mapping.KindSelect, "select * from authors where id = #{id}")
	ctx := context.Background()

	e.Close(true)
	e.Close(true)
	assert.True(t, e.IsClosed())
	assert.Equal(t, 1, r.rollbacks)
	assert.Equal(t, 1, r.closes)

	_, err := e.Query(ctx, ms, map[string]any{"id": 1}, mapping.DefaultWindow, nil)
	assert.True(t, errors.Is(err, ErrExecutorClosed))
	_, err = e.Update(ctx, ms, map[string]any{"id": 1})
	assert.True(t, errors.Is(err, ErrExecutorClosed))
	assert.True(t, errors.Is(e.Commit(true), ErrExecutorClosed))

	bound, err := ms.BoundSQL(nil)
	require.NoError(t, err)
	key, err := e.CreateCacheKey(ms, nil, mapping.DefaultWindow, bound)
	assert.True(t, errors.Is(err, ErrExecutorClosed))
	assert.Same(t, cachekey.NullCacheKey, key)
	assert.Equal(t, 0, r.queries["selectAuthor"])
}
