package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by a Durable store when no row has the requested id.
	ErrNotFound = errors.New("store: job not found")

	// ErrNoBackend is returned when neither the cache nor the durable store is enabled.
	ErrNoBackend = errors.New("store: no cache or durable store configured")
)

// KeyValueStore is the volatile cache in front of the durable table.
type KeyValueStore interface {
	// Get returns the value at key. found is false on a miss.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set writes value at key unconditionally.
	Set(ctx context.Context, key string, value []byte) error

	// Add writes value at key only if the key is absent and reports whether it did.
	Add(ctx context.Context, key string, value []byte) (bool, error)
}

// Durable is the relational table holding job records.
type Durable interface {
	// InsertJob stores a new row and returns the id the database assigned.
	InsertJob(ctx context.Context, rec *JobRecord) (int64, error)

	// UpdateJob writes only the fields supplied by patch.
	UpdateJob(ctx context.Context, id int64, patch JobPatch) error

	// GetJob returns the row with the given id, or ErrNotFound.
	GetJob(ctx context.Context, id int64) (*JobRecord, error)

	// DeleteFinished removes rows whose end_time is set and older than before.
	// A non-nil status restricts the delete to rows with that status.
	DeleteFinished(ctx context.Context, before time.Time, status *Status) (int64, error)
}
