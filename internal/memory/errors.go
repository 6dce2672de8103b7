package memory

import "errors"

var (
	// ErrNotFound is returned when a record does not exist or has been
	// tombstoned. Distinct from ErrUnavailable so callers can treat
	// absence as final.
	ErrNotFound = errors.New("memory: record not found")

	// ErrUnsupported is returned when an operation is not meaningful for
	// the backend, e.g. similarity search on the file backend.
	ErrUnsupported = errors.New("memory: capability not supported by this backend")

	// ErrUnavailable signals a transient backend failure (connection loss,
	// pool exhaustion). Callers should retry with backoff rather than
	// treat the record as absent.
	ErrUnavailable = errors.New("memory: backend unavailable")
)
