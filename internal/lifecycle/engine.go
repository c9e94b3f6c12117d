// Package lifecycle implements the job state machine on top of store.JobStore:
// creation, progress updates, completion, failure and read-side timeout
// detection.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"backjob/internal/store"
)

// DefaultErrorTimeout is how long an uncompleted job may go without an update.
const DefaultErrorTimeout = 120 * time.Second

// TimeoutNotice is appended to status_text when a job is failed by timeout.
const TimeoutNotice = "Error: job timeout"

// Config holds the state machine settings.
type Config struct {
	// ErrorTimeout is the window after the last update (or the scheduled start,
	// whichever is later) before an uncompleted job is considered dead.
	ErrorTimeout time.Duration

	// BacklogDays keeps COMPLETED rows this many days after end_time. 0 disables.
	BacklogDays int

	// AllBacklogDays keeps any terminal row this many days after end_time. 0 disables.
	AllBacklogDays int
}

// PublicStatus is the projection of a job returned to pollers.
type PublicStatus struct {
	Progress   int          `json:"progress"`
	Status     store.Status `json:"status"`
	StatusText string       `json:"status_text"`
}

// ProgressUpdate carries the optional fields of an in-progress update.
type ProgressUpdate struct {
	Progress   *int
	StatusText *string
}

// Engine drives job records through STARTED, INPROGRESS and a terminal status.
type Engine struct {
	store   *store.JobStore
	cfg     Config
	sweeper *Sweeper
	logger  *slog.Logger
	now     func() time.Time
	meter   metric.Meter
	metrics *engineMetrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMeter records metrics on m instead of the global MeterProvider.
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) { e.meter = m }
}

// NewEngine creates an Engine over st.
func NewEngine(st *store.JobStore, cfg Config, opts ...Option) *Engine {
	if cfg.ErrorTimeout <= 0 {
		cfg.ErrorTimeout = DefaultErrorTimeout
	}
	e := &Engine{
		store:  st,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	e.metrics = newEngineMetrics(e.meter)
	e.sweeper = NewSweeper(st.Durable(), cfg.BacklogDays, cfg.AllBacklogDays,
		WithSweepLogger(e.logger), withSweepClock(e.now), withSweptCounter(e.metrics.swept))
	return e
}

// ErrorTimeout returns the configured timeout window.
func (e *Engine) ErrorTimeout() time.Duration { return e.cfg.ErrorTimeout }

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.now() }

// Sweeper returns the retention sweeper triggered by Finish.
func (e *Engine) Sweeper() *Sweeper { return e.sweeper }

// Create stores a new STARTED job that may run no earlier than now+delay.
// A negative delay is treated as zero.
func (e *Engine) Create(ctx context.Context, request string, delay time.Duration) (int64, error) {
	if delay < 0 {
		delay = 0
	}
	now := e.now()
	rec := store.JobRecord{
		Progress:    0,
		Status:      store.StatusStarted,
		StartTime:   now.Add(delay),
		UpdatedTime: now,
		Request:     request,
	}

	id, err := e.store.Create(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("create job: %w", err)
	}
	e.metrics.created.Add(ctx, 1)
	e.logger.DebugContext(ctx, "job created", "job_id", id, "start_time", rec.StartTime)
	return id, nil
}

// Get returns the job record, or the default STARTED record when the job
// does not exist in any store. It never evaluates timeouts.
func (e *Engine) Get(ctx context.Context, id int64) (store.JobRecord, error) {
	rec, found, err := e.store.Get(ctx, id)
	if err != nil {
		return store.JobRecord{}, err
	}
	if !found {
		return e.defaultRecord(id), nil
	}
	return rec, nil
}

func (e *Engine) defaultRecord(id int64) store.JobRecord {
	now := e.now()
	return store.JobRecord{
		ID:          id,
		Status:      store.StatusStarted,
		StartTime:   now,
		UpdatedTime: now,
	}
}

// EvaluateTimeout fails the job if it is uncompleted and its last activity is
// older than the error timeout. It reports whether the job was failed.
// Activity is the later of updated_time and start_time, not updated_time
// alone, so a job waiting out its delay is not failed early.
func (e *Engine) EvaluateTimeout(ctx context.Context, id int64) (bool, error) {
	if id == 0 {
		return false, nil
	}
	rec, found, err := e.store.Get(ctx, id)
	if err != nil || !found {
		return false, err
	}
	if !e.timedOut(rec) {
		return false, nil
	}

	text := AppendLine(rec.StatusText, TimeoutNotice)
	if err := e.Fail(ctx, id, &text); err != nil {
		return false, err
	}
	e.metrics.timeouts.Add(ctx, 1)
	e.logger.WarnContext(ctx, "job timed out", "job_id", id, "updated_time", rec.UpdatedTime)
	return true, nil
}

func (e *Engine) timedOut(rec store.JobRecord) bool {
	if !rec.Status.Uncompleted() {
		return false
	}
	last := rec.UpdatedTime
	if rec.StartTime.After(last) {
		last = rec.StartTime
	}
	return last.Add(e.cfg.ErrorTimeout).Before(e.now())
}

// CheckedRead evaluates the timeout rule and then returns the record.
// Reading may therefore fail a stale job as a side effect.
func (e *Engine) CheckedRead(ctx context.Context, id int64) (store.JobRecord, error) {
	if _, err := e.EvaluateTimeout(ctx, id); err != nil {
		return store.JobRecord{}, err
	}
	return e.Get(ctx, id)
}

// PublicStatus is CheckedRead without timestamps or the request descriptor.
func (e *Engine) PublicStatus(ctx context.Context, id int64) (PublicStatus, error) {
	rec, err := e.CheckedRead(ctx, id)
	if err != nil {
		return PublicStatus{}, err
	}
	return PublicStatus{
		Progress:   rec.Progress,
		Status:     rec.Status,
		StatusText: rec.StatusText,
	}, nil
}

// UpdateProgress marks the job INPROGRESS, refreshes updated_time and writes
// the supplied progress (clamped to [0, 100]) and status text. Every call
// restarts the timeout window.
func (e *Engine) UpdateProgress(ctx context.Context, id int64, u ProgressUpdate) error {
	if id == 0 {
		return nil
	}
	now := e.now()
	patch := store.JobPatch{
		UpdatedTime: &now,
		Status:      store.StatusPtr(store.StatusInProgress),
		Progress:    u.Progress,
		StatusText:  u.StatusText,
	}
	return e.store.ApplyFields(ctx, id, patch)
}

// IncrementProgress adds delta to the current progress.
func (e *Engine) IncrementProgress(ctx context.Context, id int64, delta int, statusText *string) error {
	rec, err := e.CheckedRead(ctx, id)
	if err != nil {
		return err
	}
	return e.UpdateProgress(ctx, id, ProgressUpdate{
		Progress:   store.Int(rec.Progress + delta),
		StatusText: statusText,
	})
}

// Finish completes an uncompleted job with progress 100. Finishing a job that
// is already COMPLETED or FAILED changes nothing. The retention sweeper runs
// after every call.
func (e *Engine) Finish(ctx context.Context, id int64, statusText *string) error {
	rec, err := e.CheckedRead(ctx, id)
	if err != nil {
		return err
	}

	if id != 0 && rec.Status.Uncompleted() {
		now := e.now()
		patch := store.JobPatch{
			UpdatedTime: &now,
			EndTime:     &now,
			Status:      store.StatusPtr(store.StatusCompleted),
			Progress:    store.Int(100),
			StatusText:  statusText,
		}
		if err := e.store.ApplyFields(ctx, id, patch); err != nil {
			return err
		}
		e.metrics.completed.Add(ctx, 1)
		e.logger.InfoContext(ctx, "job completed", "job_id", id)
	}

	if _, err := e.sweeper.Sweep(ctx); err != nil {
		e.logger.WarnContext(ctx, "retention sweep failed", "error", err)
	}
	return nil
}

// Fail marks the job FAILED regardless of its current status, overwriting
// end_time and, when supplied, status_text.
func (e *Engine) Fail(ctx context.Context, id int64, statusText *string) error {
	if id == 0 {
		return nil
	}
	now := e.now()
	patch := store.JobPatch{
		UpdatedTime: &now,
		EndTime:     &now,
		Status:      store.StatusPtr(store.StatusFailed),
		StatusText:  statusText,
	}
	if err := e.store.ApplyFields(ctx, id, patch); err != nil {
		return err
	}
	e.metrics.failed.Add(ctx, 1)
	e.logger.InfoContext(ctx, "job failed", "job_id", id)
	return nil
}

// Touch refreshes updated_time without changing the status.
func (e *Engine) Touch(ctx context.Context, id int64) error {
	return e.store.ApplyFields(ctx, id, store.Touch(e.now()))
}

// AppendLine joins a diagnostic to existing status text on a new line.
func AppendLine(prev, line string) string {
	if prev == "" {
		return line
	}
	return prev + "\n" + line
}
