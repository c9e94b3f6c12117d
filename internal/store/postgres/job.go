package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"backjob/internal/store"
)

var _ store.Durable = (*Store)(nil)

const jobColumns = "id, progress, status, start_time, updated_time, end_time, request, status_text"

// InsertJob inserts a new job row and returns the generated id.
func (s *Store) InsertJob(ctx context.Context, rec *store.JobRecord) (int64, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (progress, status, start_time, updated_time, end_time, request, status_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, s.quotedTable())

	var endTime sql.NullTime
	if rec.EndTime != nil {
		endTime = sql.NullTime{Time: *rec.EndTime, Valid: true}
	}

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		store.ClampProgress(rec.Progress),
		int(rec.Status),
		rec.StartTime,
		rec.UpdatedTime,
		endTime,
		rec.Request,
		rec.StatusText,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}
	return id, nil
}

// UpdateJob writes only the columns present in patch.
func (s *Store) UpdateJob(ctx context.Context, id int64, patch store.JobPatch) error {
	names, values := patch.Columns()
	if len(names) == 0 {
		return nil
	}

	sets := make([]string, len(names))
	for i, name := range names {
		sets[i] = fmt.Sprintf("%s = $%d", name, i+1)
	}
	values = append(values, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
		s.quotedTable(), strings.Join(sets, ", "), len(values))

	if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("failed to update job %d: %w", id, err)
	}
	return nil
}

// GetJob fetches a single job row.
func (s *Store) GetJob(ctx context.Context, id int64) (*store.JobRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", jobColumns, s.quotedTable())

	var (
		rec     store.JobRecord
		status  int
		endTime sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&rec.Progress,
		&status,
		&rec.StartTime,
		&rec.UpdatedTime,
		&endTime,
		&rec.Request,
		&rec.StatusText,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job %d: %w", id, err)
	}

	rec.Status = store.Status(status)
	if endTime.Valid {
		t := endTime.Time
		rec.EndTime = &t
	}
	return &rec, nil
}

// DeleteFinished removes rows whose end_time is older than before.
func (s *Store) DeleteFinished(ctx context.Context, before time.Time, status *store.Status) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE end_time IS NOT NULL AND end_time < $1", s.quotedTable())
	args := []any{before}
	if status != nil {
		query += " AND status = $2"
		args = append(args, int(*status))
	} else {
		query += fmt.Sprintf(" AND status >= %d", int(store.StatusCompleted))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished jobs: %w", err)
	}
	return res.RowsAffected()
}

// CountActive returns the number of jobs still STARTED or INPROGRESS.
func (s *Store) CountActive(ctx context.Context) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE status < $1", s.quotedTable())

	var n int64
	if err := s.db.QueryRowContext(ctx, query, int(store.StatusCompleted)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}
	return n, nil
}
