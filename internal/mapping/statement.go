// Package mapping describes statements as the executor consumes them: the
// mapped statement with its cache flags, the SQL bound to a parameter object,
// and the row mappers that turn result rows into objects.
package mapping

import (
	"math"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/joao-brasil/sqlrt/internal/cache"
)

// Kind is the SQL command kind of a statement.
type Kind int

const (
	KindUnknown Kind = iota
	KindSelect
	KindInsert
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindSelect:
		return "select"
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	}
	return "unknown"
}

// ParseKind accepts select, insert, update and delete in any case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "select":
		return KindSelect, nil
	case "insert":
		return KindInsert, nil
	case "update":
		return KindUpdate, nil
	case "delete":
		return KindDelete, nil
	}
	return KindUnknown, errors.Newf("unknown statement kind %q", s)
}

// StatementType selects how the statement is sent to the driver.
type StatementType int

const (
	// Prepared statements use positional placeholders rebound to the driver's style.
	Prepared StatementType = iota
	// Callable statements pass every parameter by name and may have output parameters.
	Callable
)

// ResultWindow restricts a query to rows [Offset, Offset+Limit) of its result.
type ResultWindow struct {
	Offset int
	Limit  int
}

// NoLimit is the Limit of an unbounded window.
const NoLimit = math.MaxInt32

// DefaultWindow returns every row.
var DefaultWindow = ResultWindow{Offset: 0, Limit: NoLimit}

// MappedStatement is a statement plus the flags that drive caching.
type MappedStatement struct {
	ID            string
	Namespace     string
	DataSourceID  string
	Kind          Kind
	StatementType StatementType
	SQLSource     SQLSource

	// UseCache consults and populates the namespace cache for selects.
	UseCache bool
	// FlushCacheRequired clears the local cache and the namespace cache
	// before the statement runs.
	FlushCacheRequired bool
	// Cache is the namespace cache, or nil.
	Cache cache.Cache

	// RowMapper builds result objects; nil maps each row to a ResultObject.
	RowMapper RowMapper
	// KeyProperty receives the last insert id of an insert, when set.
	KeyProperty string
}

// BoundSQL renders the statement for params.
func (ms *MappedStatement) BoundSQL(params map[string]any) (*BoundSQL, error) {
	if ms.SQLSource == nil {
		return nil, errors.Newf("statement %s has no SQL", ms.ID)
	}
	b, err := ms.SQLSource.BoundSQL(params)
	if err != nil {
		return nil, errors.Wrapf(err, "binding statement %s", ms.ID)
	}
	return b, nil
}

// IsSelect reports whether the statement returns rows.
func (ms *MappedStatement) IsSelect() bool { return ms.Kind == KindSelect }
