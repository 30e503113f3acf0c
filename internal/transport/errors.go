package transport

import "errors"

var (
	// ErrTimeout reports that a read or write deadline elapsed before the
	// operation completed. The connection itself is still usable; retry
	// policy belongs to the caller.
	ErrTimeout = errors.New("transport: deadline elapsed")

	// ErrClosed reports use of a transport after Close.
	ErrClosed = errors.New("transport: closed")
)
