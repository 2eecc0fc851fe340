package reconcile

import "errors"

// Sentinel errors for the reconciliation engine.
var (
	// ErrNotFound is returned when a requested source record does not
	// exist in the relational store.
	ErrNotFound = errors.New("source record not found")

	// ErrUnknownSourceType is returned for a source type the engine does
	// not manage.
	ErrUnknownSourceType = errors.New("unknown source type")

	// ErrIndexNotConfigured is returned by write operations that cannot
	// degrade when the vector index is unavailable. Read paths return
	// empty results instead.
	ErrIndexNotConfigured = errors.New("vector index not configured")
)
