package mapping

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-brasil/sqlrt/internal/cache"
)

func TestStaticSQLSourceParsesPlaceholders(t *testing.T) {
	src, err := NewStaticSQLSource("SELECT * FROM orders WHERE customer_id = #{customerId} AND status = #{ status }", Prepared)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM orders WHERE customer_id = ? AND status = ?", src.SQL())

	b, err := src.BoundSQL(map[string]any{"customerId": 7, "status": "open"})
	require.NoError(t, err)
	require.Len(t, b.ParameterMappings, 2)
	assert.Equal(t, "customerId", b.ParameterMappings[0].Property)
	assert.Equal(t, "status", b.ParameterMappings[1].Property)
	assert.Equal(t, 7, b.Value("customerId"))
	assert.Nil(t, b.Value("missing"))
}

func TestStaticSQLSourceCallableModes(t *testing.T) {
	src, err := NewStaticSQLSource("EXEC order_total #{orderId}, #{total, mode=OUT}, #{note,mode=inout}", Callable)
	require.NoError(t, err)
	assert.Equal(t, "EXEC order_total @orderId, @total, @note", src.SQL())

	b, _ := src.BoundSQL(nil)
	assert.Equal(t, []ParameterMapping{
		{Property: "orderId", Mode: ModeIn},
		{Property: "total", Mode: ModeOut},
		{Property: "note", Mode: ModeInOut},
	}, b.ParameterMappings)
}

func TestStaticSQLSourceErrors(t *testing.T) {
	_, err := NewStaticSQLSource("SELECT #{id", Prepared)
	assert.Error(t, err)
	_, err = NewStaticSQLSource("SELECT #{}", Prepared)
	assert.Error(t, err)
	_, err = NewStaticSQLSource("SELECT #{id, mode=SIDEWAYS}", Prepared)
	assert.Error(t, err)
}

func TestTargetKindExtract(t *testing.T) {
	v, err := TargetSingle.Extract(nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = TargetSingle.Extract([]any{"a"})
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	_, err = TargetSingle.Extract([]any{"a", "b"})
	assert.True(t, errors.Is(err, ErrTooManyResults))

	v, err = TargetList.Extract([]any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, v)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Select ")
	require.NoError(t, err)
	assert.Equal(t, KindSelect, k)
	_, err = ParseKind("merge")
	assert.Error(t, err)
}

func TestRegistryAssignsNamespaceCache(t *testing.T) {
	r := NewRegistry()
	c := cache.NewPerpetualCache("orders")
	require.NoError(t, r.AddCache(c))
	assert.Error(t, r.AddCache(c))

	ms := &MappedStatement{ID: "orders.byId", Namespace: "orders", Kind: KindSelect}
	require.NoError(t, r.AddStatement(ms))
	assert.Same(t, c, ms.Cache)
	assert.Error(t, r.AddStatement(&MappedStatement{ID: "orders.byId"}))

	got, err := r.Statement("orders.byId")
	require.NoError(t, err)
	assert.Same(t, ms, got)

	_, err = r.Statement("orders.missing")
	assert.True(t, errors.Is(err, ErrUnknownStatement))
	assert.Equal(t, []string{"orders.byId"}, r.StatementIDs())
}
