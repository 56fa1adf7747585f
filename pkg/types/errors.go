package types

import "errors"

// Sentinel errors shared across the storage, store, and API layers. The
// HTTP surface maps these onto status codes; everything else is a storage
// failure and surfaces as 500.
var (
	// ErrNotFound means no row exists for the given key
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput means the caller supplied an unparsable value
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict means the requested transition is not allowed from the
	// entity's current state (e.g. cancelling a completed job).
	ErrConflict = errors.New("conflict")
)
