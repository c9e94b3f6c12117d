// Package gormdb implements store.Durable on GORM, for SQLite or PostgreSQL.
package gormdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"backjob/internal/store"
)

// Supported drivers for Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultTable matches the table used by the plain PostgreSQL store.
const DefaultTable = "backjob_jobs"

var _ store.Durable = (*Store)(nil)

// jobRow is the persisted shape of a store.JobRecord.
type jobRow struct {
	ID          int64      `gorm:"primaryKey;autoIncrement"`
	Progress    int        `gorm:"not null;default:0"`
	Status      int        `gorm:"not null;default:0;index:idx_status_end"`
	StartTime   time.Time  `gorm:"not null"`
	UpdatedTime time.Time  `gorm:"not null"`
	EndTime     *time.Time `gorm:"index:idx_status_end"`
	Request     string     `gorm:"type:text"`
	StatusText  string     `gorm:"type:text"`
}

func (r jobRow) record() store.JobRecord {
	rec := store.JobRecord{
		ID:          r.ID,
		Progress:    r.Progress,
		Status:      store.Status(r.Status),
		StartTime:   r.StartTime,
		UpdatedTime: r.UpdatedTime,
		Request:     r.Request,
		StatusText:  r.StatusText,
	}
	if r.EndTime != nil {
		t := *r.EndTime
		rec.EndTime = &t
	}
	return rec
}

// Store is a GORM-backed job table.
type Store struct {
	db    *gorm.DB
	table string
}

// Open connects with the named driver. dsn is a file path for SQLite and a
// connection URL for PostgreSQL.
func Open(driver, dsn, table string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("gormdb: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("gormdb: open %s: %w", driver, err)
	}
	return New(db, table), nil
}

// New wraps an existing GORM handle.
func New(db *gorm.DB, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{db: db, table: table}
}

func (s *Store) tx(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

// EnsureTable creates or migrates the job table.
func (s *Store) EnsureTable(ctx context.Context) error {
	if err := s.tx(ctx).AutoMigrate(&jobRow{}); err != nil {
		return fmt.Errorf("gormdb: migrate %s: %w", s.table, err)
	}
	return nil
}

// InsertJob inserts rec and returns the generated id.
func (s *Store) InsertJob(ctx context.Context, rec *store.JobRecord) (int64, error) {
	row := jobRow{
		Progress:    store.ClampProgress(rec.Progress),
		Status:      int(rec.Status),
		StartTime:   rec.StartTime,
		UpdatedTime: rec.UpdatedTime,
		EndTime:     rec.EndTime,
		Request:     rec.Request,
		StatusText:  rec.StatusText,
	}
	if err := s.tx(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("gormdb: insert job: %w", err)
	}
	return row.ID, nil
}

// UpdateJob writes only the columns present in patch.
func (s *Store) UpdateJob(ctx context.Context, id int64, patch store.JobPatch) error {
	names, values := patch.Columns()
	if len(names) == 0 {
		return nil
	}
	updates := make(map[string]any, len(names))
	for i, name := range names {
		updates[name] = values[i]
	}
	if err := s.tx(ctx).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("gormdb: update job %d: %w", id, err)
	}
	return nil
}

// GetJob returns the row with id or store.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id int64) (*store.JobRecord, error) {
	var row jobRow
	if err := s.tx(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("gormdb: get job %d: %w", id, err)
	}
	rec := row.record()
	return &rec, nil
}

// DeleteFinished removes terminal rows whose end_time is older than before.
func (s *Store) DeleteFinished(ctx context.Context, before time.Time, status *store.Status) (int64, error) {
	q := s.tx(ctx).Where("end_time IS NOT NULL AND end_time < ?", before)
	if status != nil {
		q = q.Where("status = ?", int(*status))
	} else {
		q = q.Where("status >= ?", int(store.StatusCompleted))
	}
	res := q.Delete(&jobRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("gormdb: delete finished jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountActive returns the number of jobs still STARTED or INPROGRESS.
func (s *Store) CountActive(ctx context.Context) (int64, error) {
	var n int64
	if err := s.tx(ctx).Where("status < ?", int(store.StatusCompleted)).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("gormdb: count active jobs: %w", err)
	}
	return n, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
