// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across graph/engine/api layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a uniqueness violation (e.g., label name taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates a local validation failure, never sent over the wire.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnauthorized indicates the bearer credential was rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates the server throttled the request past the retry budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrResyncRequired indicates the server declared local state unrecoverable;
	// the caller must clear and sync from empty.
	ErrResyncRequired = errors.New("full resync required")

	// ErrMergeConflict indicates the server marked an inbound record as conflicted.
	// Resolution is a caller concern; the record is never hydrated as data.
	ErrMergeConflict = errors.New("merge conflict")
)
