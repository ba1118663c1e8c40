package mapping

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/joao-brasil/sqlrt/internal/cachekey"
)

// ResultObject is the default shape of a mapped row: column or property name
// to value.
type ResultObject = map[string]any

// RowHandler receives mapped rows one by one instead of a materialized list.
type RowHandler func(obj any) error

// TargetKind is the shape a nested query result is assigned as.
type TargetKind int

const (
	// TargetList assigns the whole result list.
	TargetList TargetKind = iota
	// TargetSingle assigns the only row, or nil when there is none.
	TargetSingle
)

// ErrTooManyResults is returned when a single result was expected.
var ErrTooManyResults = errors.New("statement returned more than one row, where no more than one was expected")

// Extract shapes list for assignment.
func (k TargetKind) Extract(list []any) (any, error) {
	if k == TargetList {
		return list, nil
	}
	switch len(list) {
	case 0:
		return nil, nil
	case 1:
		return list[0], nil
	}
	return nil, errors.Wrapf(ErrTooManyResults, "got %d", len(list))
}

// Loader is the executor surface row mappers use to run nested queries.
type Loader interface {
	Query(ctx context.Context, ms *MappedStatement, params map[string]any, window ResultWindow, handler RowHandler) ([]any, error)
	CreateCacheKey(ms *MappedStatement, params map[string]any, window ResultWindow, bound *BoundSQL) (*cachekey.CacheKey, error)
	IsCached(ms *MappedStatement, key *cachekey.CacheKey) bool
	DeferLoad(ms *MappedStatement, obj ResultObject, property string, key *cachekey.CacheKey, kind TargetKind) error
}

// RowMapper turns one scanned row into a result object.
type RowMapper interface {
	MapRow(ctx context.Context, loader Loader, row map[string]any) (any, error)
}

// RowMapperFunc adapts a function to RowMapper.
type RowMapperFunc func(ctx context.Context, loader Loader, row map[string]any) (any, error)

// MapRow calls f.
func (f RowMapperFunc) MapRow(ctx context.Context, loader Loader, row map[string]any) (any, error) {
	return f(ctx, loader, row)
}

// ColumnMapper maps each row to a ResultObject keyed by column name.
type ColumnMapper struct{}

// MapRow copies row.
func (ColumnMapper) MapRow(_ context.Context, _ Loader, row map[string]any) (any, error) {
	obj := make(ResultObject, len(row))
	for k, v := range row {
		obj[k] = v
	}
	return obj, nil
}

// Association loads a property of each row through another statement, with
// the row's Column value passed as the nested statement's Param.
type Association struct {
	Property  string
	Statement *MappedStatement
	Column    string
	Param     string
	Kind      TargetKind
}

// NestedQueryMapper maps columns like ColumnMapper and fills associations by
// running nested queries. A nested query whose result is already cached, even
// if still being computed by an enclosing query, is deferred instead of run.
type NestedQueryMapper struct {
	Associations []Association
}

// MapRow maps row and resolves its associations.
func (m NestedQueryMapper) MapRow(ctx context.Context, loader Loader, row map[string]any) (any, error) {
	v, _ := ColumnMapper{}.MapRow(ctx, loader, row)
	obj := v.(ResultObject)

	for _, a := range m.Associations {
		if a.Statement == nil {
			return nil, errors.Newf("association %s has no statement", a.Property)
		}
		param := a.Param
		if param == "" {
			param = a.Column
		}
		params := map[string]any{param: row[a.Column]}

		bound, err := a.Statement.BoundSQL(params)
		if err != nil {
			return nil, err
		}
		key, err := loader.CreateCacheKey(a.Statement, params, DefaultWindow, bound)
		if err != nil {
			return nil, err
		}
		if loader.IsCached(a.Statement, key) {
			if err := loader.DeferLoad(a.Statement, obj, a.Property, key, a.Kind); err != nil {
				return nil, err
			}
			continue
		}

		list, err := loader.Query(ctx, a.Statement, params, DefaultWindow, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "loading association %s", a.Property)
		}
		value, err := a.Kind.Extract(list)
		if err != nil {
			return nil, errors.Wrapf(err, "association %s", a.Property)
		}
		obj[a.Property] = value
	}
	return obj, nil
}
