// Package index defines the capability wrapper over the remote vector index.
//
// The index exposes only approximate nearest-neighbor search plus point-wise
// upsert/fetch/delete. There is no list-by-metadata or delete-by-filter at
// scale; higher layers must discover existing points via similarity probes.
//
// A deployment may run without an index configured. In that case no Client is
// constructed and every dependent operation degrades to no-ops or empty
// results rather than failing.
package index

import (
	"context"
	"errors"
)

// Sentinel errors for index operations.
var (
	// ErrNotConfigured is returned when the index is not configured.
	ErrNotConfigured = errors.New("vector index not configured")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid index configuration")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to vector index")
)

// Point is a vector plus its payload, addressed by a logical id.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Scored is one approximate-nearest-neighbor query result.
type Scored struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Record is a point fetched by id. Vector is nil unless requested.
type Record struct {
	ID      string
	Payload map[string]any
	Vector  []float32
}

// Client is the transport-agnostic interface to the remote vector index.
//
// Writes are idempotent: upserting an existing id overwrites it, deleting a
// missing id succeeds. Query results carry payloads so callers can apply
// exact-match post-filtering; the approximate ranking alone is never trusted
// for correctness.
type Client interface {
	// Upsert writes points to the index, overwriting existing ids.
	Upsert(ctx context.Context, points []Point) error

	// Query returns up to topK nearest neighbors of vector, optionally
	// restricted by exact-match payload conditions.
	Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]Scored, error)

	// Fetch retrieves points by logical id. Missing ids are omitted from
	// the result.
	Fetch(ctx context.Context, ids []string, withVectors bool) ([]Record, error)

	// Delete removes points by logical id. Deleting a missing id is not an
	// error.
	Delete(ctx context.Context, ids []string) error
}
