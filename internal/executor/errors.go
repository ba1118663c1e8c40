package executor

import "github.com/cockroachdb/errors"

var (
	// ErrExecutorClosed is returned by every operation after Close.
	ErrExecutorClosed = errors.New("executor was closed")

	// ErrStatementFailed marks errors raised by the database for a statement,
	// as opposed to failures to obtain a connection.
	ErrStatementFailed = errors.New("statement failed")

	// ErrQueryInProgress is returned when a query is issued for a key whose
	// own query is still running in the same session and the caller did not
	// defer the load.
	ErrQueryInProgress = errors.New("query for this key is already in progress")

	// ErrOutParamsNotCacheable is returned when a cached callable statement
	// declares output parameters.
	ErrOutParamsNotCacheable = errors.New("caching stored procedures with OUT params is not supported")
)
