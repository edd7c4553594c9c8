package relaypool

import "errors"

var (
	// ErrNotFound is returned for an unknown source key or when no stored
	// relay matches an address.
	ErrNotFound = errors.New("not found")

	// ErrMalformed is returned when an entry is not a valid address:port.
	ErrMalformed = errors.New("malformed relay entry")

	// ErrPersistence wraps every snapshot/restore I/O or decode failure.
	ErrPersistence = errors.New("persistence failure")

	// ErrNoSnapshot is returned by a Store that holds no data for a source.
	ErrNoSnapshot = errors.New("no snapshot for source")
)
