package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// DefaultCachePrefix namespaces job keys in a shared cache.
const DefaultCachePrefix = "backjob:"

// JobStore reads and writes job records through a read-through, write-through
// cache in front of a durable table. Either side may be disabled by passing nil.
//
// The cache copy, when present, is the source of truth for reads. The durable
// copy is updated on every write and repopulates the cache after an eviction.
// Writes to the two sides are not transactional.
type JobStore struct {
	cache  KeyValueStore
	db     Durable
	prefix string
	logger *slog.Logger

	// allocMu serializes cache id allocation with the first write of the
	// record, so goroutines in one process never share an id.
	allocMu sync.Mutex
}

// Option configures a JobStore.
type Option func(*JobStore)

// WithCachePrefix sets the key prefix used for job entries and the id counter.
func WithCachePrefix(prefix string) Option {
	return func(s *JobStore) { s.prefix = prefix }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *JobStore) { s.logger = l }
}

// NewJobStore builds a JobStore. At least one of cache and db must be non-nil.
func NewJobStore(cache KeyValueStore, db Durable, opts ...Option) (*JobStore, error) {
	if cache == nil && db == nil {
		return nil, ErrNoBackend
	}
	s := &JobStore{
		cache:  cache,
		db:     db,
		prefix: DefaultCachePrefix,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// CacheEnabled reports whether a cache is configured.
func (s *JobStore) CacheEnabled() bool { return s.cache != nil }

// DurableEnabled reports whether a durable store is configured.
func (s *JobStore) DurableEnabled() bool { return s.db != nil }

// Durable returns the durable store, or nil when disabled.
func (s *JobStore) Durable() Durable { return s.db }

func (s *JobStore) jobKey(id int64) string {
	return s.prefix + strconv.FormatInt(id, 10)
}

func (s *JobStore) counterKey() string {
	return s.prefix + "maxid"
}

// Get returns the record for id. found is false when id is zero or neither
// store holds it. A cache miss that hits the durable store repopulates the cache.
func (s *JobStore) Get(ctx context.Context, id int64) (JobRecord, bool, error) {
	if id == 0 {
		return JobRecord{}, false, nil
	}

	if s.cache != nil {
		rec, found, err := s.getCached(ctx, id)
		if err != nil {
			// A broken cache must not hide the durable copy.
			s.logger.WarnContext(ctx, "cache read failed", "job_id", id, "error", err)
		} else if found {
			return rec, true, nil
		}
	}

	if s.db == nil {
		return JobRecord{}, false, nil
	}

	row, err := s.db.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return JobRecord{}, false, nil
		}
		return JobRecord{}, false, fmt.Errorf("get job %d: %w", id, err)
	}

	if s.cache != nil {
		if err := s.putCached(ctx, *row); err != nil {
			s.logger.WarnContext(ctx, "cache repopulate failed", "job_id", id, "error", err)
		}
	}
	return *row, true, nil
}

// Create stores rec as a new job and returns its id. The durable store assigns
// the id when enabled; otherwise the cache counter protocol allocates one.
func (s *JobStore) Create(ctx context.Context, rec JobRecord) (int64, error) {
	var id int64
	if s.db != nil {
		newID, err := s.db.InsertJob(ctx, &rec)
		if err != nil {
			return 0, fmt.Errorf("insert job: %w", err)
		}
		id = newID
	}

	if s.cache != nil {
		if id == 0 {
			s.allocMu.Lock()
			defer s.allocMu.Unlock()
			newID, err := s.allocateID(ctx)
			if err != nil {
				return 0, fmt.Errorf("allocate job id: %w", err)
			}
			id = newID
		}
		rec.ID = id
		if err := s.putCached(ctx, rec); err != nil {
			return 0, fmt.Errorf("cache job %d: %w", id, err)
		}
	}

	return id, nil
}

// ApplyFields merges patch over the existing record and writes the result to
// every enabled store. The cache write is read-merge-write without
// compare-and-swap: two concurrent calls for the same id may lose an update.
func (s *JobStore) ApplyFields(ctx context.Context, id int64, patch JobPatch) error {
	if id == 0 || patch.IsEmpty() {
		return nil
	}

	if s.cache != nil {
		current, found, err := s.getCached(ctx, id)
		if err != nil {
			s.logger.WarnContext(ctx, "cache read failed", "job_id", id, "error", err)
		}
		if !found && s.db != nil {
			row, err := s.db.GetJob(ctx, id)
			if err == nil {
				current = *row
			} else if !errors.Is(err, ErrNotFound) {
				s.logger.WarnContext(ctx, "durable read failed", "job_id", id, "error", err)
			}
		}
		current.ID = id
		if err := s.putCached(ctx, patch.Apply(current)); err != nil {
			return fmt.Errorf("cache update job %d: %w", id, err)
		}
	}

	if s.db != nil {
		if err := s.db.UpdateJob(ctx, id, patch); err != nil {
			return fmt.Errorf("update job %d: %w", id, err)
		}
	}
	return nil
}

// allocateID scans forward from the cache counter until it finds an id with
// no record, persisting the counter after each step. Ids start at 1.
func (s *JobStore) allocateID(ctx context.Context) (int64, error) {
	key := s.counterKey()
	if _, err := s.cache.Add(ctx, key, []byte("0")); err != nil {
		return 0, err
	}

	raw, _, err := s.cache.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	candidate, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		candidate = 0
	}

	for {
		if candidate < 1 {
			candidate = 1
		}
		_, taken, err := s.cache.Get(ctx, s.jobKey(candidate))
		if err != nil {
			return 0, err
		}
		if !taken {
			break
		}
		candidate++
		if err := s.cache.Set(ctx, key, []byte(strconv.FormatInt(candidate, 10))); err != nil {
			return 0, err
		}
	}
	return candidate, nil
}

func (s *JobStore) getCached(ctx context.Context, id int64) (JobRecord, bool, error) {
	raw, found, err := s.cache.Get(ctx, s.jobKey(id))
	if err != nil || !found {
		return JobRecord{}, false, err
	}
	var rec JobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return JobRecord{}, false, fmt.Errorf("decode cached job %d: %w", id, err)
	}
	return rec, true, nil
}

func (s *JobStore) putCached(ctx context.Context, rec JobRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, s.jobKey(rec.ID), raw)
}

// Touch is a patch that only refreshes updated_time.
func Touch(now time.Time) JobPatch {
	return JobPatch{UpdatedTime: &now}
}
