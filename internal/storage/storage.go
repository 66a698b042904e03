// Package storage implements the persistence interface (§4.7): an async
// key/meta/blob upsert/load/list contract, an in-memory stub adapter, and a
// Redis-backed adapter for real durability.
package storage

import (
	"context"
	"fmt"
	"strings"
)

// ErrKind identifies a distinct storage failure.
type ErrKind int

const (
	ErrNotFound ErrKind = iota
	ErrSerialization
	ErrIO
	ErrDatabase
	ErrConnection
)

// Error is the typed error every adapter failure surfaces as. Per spec §7,
// storage failures are logged by the caller and never surfaced to the
// client.
type Error struct {
	Kind    ErrKind
	Message string
}

func (e *Error) Error() string { return e.Message }

func notFound(id string) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("document not found in storage: %s", id)}
}

// Stats reports aggregate persistence-layer counts.
type Stats struct {
	DocumentCount   int
	TotalSizeBytes  int64
}

// Storage is the persistence adapter contract. Implementations must be safe
// for concurrent use.
type Storage interface {
	// Store upserts id, replacing meta and blob atomically.
	Store(ctx context.Context, id string, meta []byte, blob []byte) error
	// Load returns the (meta, blob) pair for id, or an ErrNotFound error.
	Load(ctx context.Context, id string) (meta []byte, blob []byte, err error)
	// Delete removes id, returning true if it was present.
	Delete(ctx context.Context, id string) (bool, error)
	// List returns every id matching pattern (empty/"*" matches all), using
	// the same glob rules as the document manager.
	List(ctx context.Context, pattern string) ([]string, error)
	// Exists reports whether id is present.
	Exists(ctx context.Context, id string) (bool, error)
	// Stats reports aggregate counts.
	Stats(ctx context.Context) (Stats, error)
	// Close releases any held resources.
	Close() error
}

// matchGlob mirrors internal/manager's minimal glob grammar; duplicated
// rather than imported to keep storage free of a dependency on manager.
func matchGlob(pattern, candidate string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(candidate, pattern[1:])
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(candidate, pattern[:len(pattern)-1])
	}
	return pattern == candidate
}
