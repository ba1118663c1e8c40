package pool

import "github.com/cockroachdb/errors"

var (
	// ErrAcquire marks every failure to obtain a connection from a pool, as
	// opposed to a failure of the statement run on it.
	ErrAcquire = errors.New("could not get a connection")

	// ErrPoolExhausted is returned when a caller saw more bad connections than
	// max_idle + local_bad_connection_tolerance in a single checkout.
	ErrPoolExhausted = errors.Mark(errors.New("could not get a good connection to the database"), ErrAcquire)

	// ErrPoolClosed is returned by Checkout after Close.
	ErrPoolClosed = errors.Mark(errors.New("pool closed"), ErrAcquire)

	// ErrConnectionInvalid is returned by any call on an invalidated wrapper.
	ErrConnectionInvalid = errors.New("connection no longer valid")
)
