package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"backjob/internal/store"
)

// Sweeper deletes aged terminal rows from the durable store. It applies two
// independent thresholds: one for COMPLETED rows and one for every terminal row.
type Sweeper struct {
	db             store.Durable
	backlogDays    int
	allBacklogDays int
	logger         *slog.Logger
	now            func() time.Time
	swept          metric.Int64Counter
}

// SweepOption configures a Sweeper.
type SweepOption func(*Sweeper)

// WithSweepLogger sets a custom logger.
func WithSweepLogger(l *slog.Logger) SweepOption {
	return func(s *Sweeper) { s.logger = l }
}

func withSweepClock(now func() time.Time) SweepOption {
	return func(s *Sweeper) { s.now = now }
}

func withSweptCounter(c metric.Int64Counter) SweepOption {
	return func(s *Sweeper) { s.swept = c }
}

// NewSweeper creates a Sweeper. A nil db makes Sweep a no-op.
func NewSweeper(db store.Durable, backlogDays, allBacklogDays int, opts ...SweepOption) *Sweeper {
	s := &Sweeper{
		db:             db,
		backlogDays:    backlogDays,
		allBacklogDays: allBacklogDays,
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sweep deletes COMPLETED rows older than the backlog window and any terminal
// row older than the all-backlog window. It returns the number of rows removed.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	now := s.now()
	var total int64

	if s.backlogDays > 0 {
		n, err := s.db.DeleteFinished(ctx, now.AddDate(0, 0, -s.backlogDays), store.StatusPtr(store.StatusCompleted))
		if err != nil {
			return total, fmt.Errorf("sweep completed jobs: %w", err)
		}
		total += n
	}

	if s.allBacklogDays > 0 {
		n, err := s.db.DeleteFinished(ctx, now.AddDate(0, 0, -s.allBacklogDays), nil)
		if err != nil {
			return total, fmt.Errorf("sweep terminal jobs: %w", err)
		}
		total += n
	}

	if total > 0 {
		if s.swept != nil {
			s.swept.Add(ctx, total)
		}
		s.logger.InfoContext(ctx, "swept finished jobs", "deleted", total)
	}
	return total, nil
}
