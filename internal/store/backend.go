// Package store provides the persistence backends for memories and traces:
// a uniform CRUD+ANN interface with a local SQLite implementation and a
// remote Qdrant implementation. The engine core never dereferences
// backend-specific handles; everything goes through Backend.
package store

import (
	"context"
	"time"
)

// Record kinds stored in a backend.
const (
	KindMemory = "memory"
	KindTrace  = "trace"
)

// Record is one stored row: an id, an optional embedding, and structured
// metadata. Memories carry embeddings; traces are metadata-only rows.
type Record struct {
	ID          string
	Kind        string
	WorkspaceID string
	Embedding   []float32
	Metadata    map[string]interface{}
	CreatedAt   time.Time
}

// Filter is a structured predicate over record metadata. Zero values mean
// "any". HasErrorContext distinguishes IS NULL (false) from IS NOT NULL
// (true); nil matches both.
type Filter struct {
	WorkspaceID     string
	Kind            string
	Domain          string
	Outcome         string
	HasErrorContext *bool
	Before          time.Time
	After           time.Time
	IDs             []string
}

// ANNResult is one approximate-nearest-neighbor hit.
type ANNResult struct {
	ID       string
	Distance float64 // cosine distance in [0,2]; 0 means identical
	Metadata map[string]interface{}
}

// Backend is the capability interface every storage implementation
// provides. Implementations must be safe for concurrent use; the engine
// does not serialize callers.
type Backend interface {
	// Upsert inserts or replaces records as one batch.
	Upsert(ctx context.Context, records []Record) error

	// ANNQuery returns the k records nearest to the embedding, restricted
	// by filter, ordered by ascending distance.
	ANNQuery(ctx context.Context, embedding []float32, k int, filter Filter) ([]ANNResult, error)

	// Scan returns all records matching the filter.
	Scan(ctx context.Context, filter Filter) ([]Record, error)

	// Delete removes matching records and returns the count removed.
	Delete(ctx context.Context, filter Filter) (int, error)

	// Count returns the number of matching records.
	Count(ctx context.Context, filter Filter) (int, error)

	// Close releases backend resources.
	Close() error
}
