package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"backjob/internal/store"
	"backjob/internal/store/gormdb"
	"backjob/internal/store/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	engine *Engine
	clock  *fakeClock
	cache  *memory.Cache
	db     *gormdb.Store
	reader *sdkmetric.ManualReader
}

func newCacheOnlyEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	cache := memory.New()
	st, err := store.NewJobStore(cache, nil, store.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewJobStore failed: %v", err)
	}
	return newEnv(t, st, cfg, cache, nil)
}

func newDualEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	db, err := gormdb.Open(gormdb.DriverSQLite, filepath.Join(t.TempDir(), "jobs.db"), "")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.EnsureTable(context.Background()); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}
	cache := memory.New()
	st, err := store.NewJobStore(cache, db, store.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewJobStore failed: %v", err)
	}
	return newEnv(t, st, cfg, cache, db)
}

func newEnv(t *testing.T, st *store.JobStore, cfg Config, cache *memory.Cache, db *gormdb.Store) *testEnv {
	t.Helper()
	clock := newFakeClock()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	e := NewEngine(st, cfg,
		WithLogger(quietLogger()),
		WithClock(clock.Now),
		WithMeter(provider.Meter("test")),
	)
	return &testEnv{engine: e, clock: clock, cache: cache, db: db, reader: reader}
}

func (env *testEnv) counter(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := env.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is %T, want Sum[int64]", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestPublicStatus_UnknownJobDefaults(t *testing.T) {
	env := newCacheOnlyEnv(t, Config{})

	st, err := env.engine.PublicStatus(context.Background(), 77)
	if err != nil {
		t.Fatalf("PublicStatus failed: %v", err)
	}
	want := PublicStatus{Progress: 0, Status: store.StatusStarted, StatusText: ""}
	if st != want {
		t.Errorf("got %+v, want %+v", st, want)
	}
}

func TestGet_DefaultTimestampsAreNow(t *testing.T) {
	env := newCacheOnlyEnv(t, Config{})

	rec, err := env.engine.Get(context.Background(), 0)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !rec.StartTime.Equal(env.clock.Now()) || !rec.UpdatedTime.Equal(env.clock.Now()) {
		t.Errorf("unexpected default timestamps: %+v", rec)
	}
	if rec.EndTime != nil || rec.Request != "" {
		t.Errorf("unexpected default record: %+v", rec)
	}
}

func TestUpdateProgress_Clamps(t *testing.T) {
	env := newCacheOnlyEnv(t, Config{})
	ctx := context.Background()
	id, _ := env.engine.Create(ctx, "req", 0)

	tests := []struct {
		in, want int
	}{
		{150, 100},
		{-5, 0},
		{42, 42},
	}
	for _, tt := range tests {
		if err := env.engine.UpdateProgress(ctx, id, ProgressUpdate{Progress: store.Int(tt.in)}); err != nil {
			t.Fatalf("UpdateProgress(%d) failed: %v", tt.in, err)
		}
		st, _ := env.engine.PublicStatus(ctx, id)
		if st.Progress != tt.want {
			t.Errorf("UpdateProgress(%d): progress = %d, want %d", tt.in, st.Progress, tt.want)
		}
		if st.Status != store.StatusInProgress {
			t.Errorf("UpdateProgress(%d): status = %v, want INPROGRESS", tt.in, st.Status)
		}
	}
}

func TestUpdateProgress_ResetsTimeoutClock(t *testing.T) {
	env := newCacheOnlyEnv(t, Config{ErrorTimeout: 120 * time.Second})
	ctx := context.Background()
	id, _ := env.engine.Create(ctx, "req", 0)

	for i := 0; i < 3; i++ {
		env.clock.Advance(100 * time.Second)
		if err := env.engine.UpdateProgress(ctx, id, ProgressUpdate{Progress: store.Int(i * 10)}); err != nil {
			t.Fatalf("UpdateProgress failed: %v", err)
		}
	}

	st, _ := env.engine.PublicStatus(ctx, id)
	if st.Status != store.StatusInProgress {
		t.Errorf("status = %v, want INPROGRESS", st.Status)
	}
}

func TestIncrementProgress(t *testing.T) {
	env := newCacheOnlyEnv(t, Config{})
	ctx := context.Background()
	id, _ := env.engine.Create(ctx, "req", 0)

	_ = env.engine.UpdateProgress(ctx, id, ProgressUpdate{Progress: store.Int(30)})
	if err := env.engine.IncrementProgress(ctx, id, 25, store.String("step 2")); err != nil {
		t.Fatalf("IncrementProgress failed: %v", err)
	}

	st, _ := env.engine.PublicStatus(ctx, id)
	if st.Progress != 55 || st.StatusText != "step 2" {
		t.Errorf("got %+v, want progress 55 text 'step 2'", st)
	}
}

func TestFinish_IsIdempotent(t *testing.T) {
	env := newCacheOnlyEnv(t, Config{})
	ctx := context.Background()
	id, _ := env.engine.Create(ctx, "req", 0)

	if err := env.engine.Finish(ctx, id, store.String("done")); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	first, _ := env.engine.Get(ctx, id)

	env.clock.Advance(time.Minute)
	if err := env.engine.Finish(ctx, id, store.String("again")); err != nil {
		t.Fatalf("second Finish failed: %v", err)
	}
	second, _ := env.engine.Get(ctx, id)

	if second.Status != store.StatusCompleted || second.Progress != 100 {
		t.Errorf("unexpected record after finish: %+v", second)
	}
	if first.EndTime == nil || second.EndTime == nil || !first.EndTime.Equal(*second.EndTime) {
		t.Errorf("end_time changed: %v -> %v", first.EndTime, second.EndTime)
	}
	if second.StatusText != "done" {
		t.Errorf("status_text = %q, want unchanged 'done'", second.StatusText)
	}
	if n := env.counter(t, "backjob.jobs.completed"); n != 1 {
		t.Errorf("completed counter = %d, want 1", n)
	}
}

func TestFinish_DoesNotResurrectFailedJob(t *testing.T) {
	env := newCacheOnlyEnv(t, Config{})
	ctx := context.Background()
	id, _ := env.engine.Create(ctx, "req", 0)

	_ = env.engine.Fail(ctx, id, store.String("boom"))
	_ = env.engine.Finish(ctx, id, nil)

	rec, _ := env.engine.Get(ctx, id)
	if rec.Status != store.StatusFailed || rec.StatusText != "boom" {
		t.Errorf("got %+v, want FAILED 'boom'", rec)
	}
}

func TestFail_IsUnconditional(t *testing.T) {
	env := newCacheOnlyEnv(t, Config{})
	ctx := context.Background()
	id, _ := env.engine.Create(ctx, "req", 0)

	_ = env.engine.Finish(ctx, id, store.String("ok"))
	env.clock.Advance(time.Second)
	if err := env.engine.Fail(ctx, id, store.String("late error")); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	rec, _ := env.engine.Get(ctx, id)
	if rec.Status != store.StatusFailed || rec.StatusText != "late error" {
		t.Errorf("got %+v, want FAILED 'late error'", rec)
	}
	if rec.EndTime == nil || !rec.EndTime.Equal(env.clock.Now()) {
		t.Errorf("end_time = %v, want %v", rec.EndTime, env.clock.Now())
	}
}

func TestCheckedRead_TimeoutTransition(t *testing.T) {
	env := newCacheOnlyEnv(t, Config{ErrorTimeout: 120 * time.Second})
	ctx := context.Background()
	id, _ := env.engine.Create(ctx, "req", 0)
	_ = env.engine.UpdateProgress(ctx, id, ProgressUpdate{StatusText: store.String("working")})

	env.clock.Advance(121 * time.Second)

	rec, err := env.engine.CheckedRead(ctx, id)
	if err != nil {
		t.Fatalf("CheckedRead failed: %v", err)
	}
	if rec.Status != store.StatusFailed {
		t.Fatalf("status = %v, want FAILED", rec.Status)
	}
	if rec.StatusText != "working\n"+TimeoutNotice {
		t.Errorf("status_text = %q", rec.StatusText)
	}

	env.clock.Advance(time.Hour)
	again, _ := env.engine.CheckedRead(ctx, id)
	if again.Status != store.StatusFailed || strings.Count(again.StatusText, TimeoutNotice) != 1 {
		t.Errorf("second read re-triggered timeout: %+v", again)
	}
	if n := env.counter(t, "backjob.jobs.timeouts"); n != 1 {
		t.Errorf("timeouts counter = %d, want 1", n)
	}
}

func TestCheckedRead_WithinWindow(t *testing.T) {
	env := newCacheOnlyEnv(t, Config{ErrorTimeout: 120 * time.Second})
	ctx := context.Background()
	id, _ := env.engine.Create(ctx, "req", 0)

	env.clock.Advance(120 * time.Second)

	timedOut, err := env.engine.EvaluateTimeout(ctx, id)
	if err != nil || timedOut {
		t.Errorf("EvaluateTimeout() = %v, %v; want false at the boundary", timedOut, err)
	}
}

func TestCreate_DelayHonored(t *testing.T) {
	env := newCacheOnlyEnv(t, Config{ErrorTimeout: 2 * time.Second})
	ctx := context.Background()
	created := env.clock.Now()

	id, err := env.engine.Create(ctx, "req", 5*time.Second)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rec, _ := env.engine.Get(ctx, id)
	if rec.StartTime.Before(created.Add(5 * time.Second)) {
		t.Errorf("start_time %v is before now+5s", rec.StartTime)
	}

	// Waiting for a delayed start is not inactivity.
	env.clock.Advance(4 * time.Second)
	if timedOut, _ := env.engine.EvaluateTimeout(ctx, id); timedOut {
		t.Error("delayed job timed out before its start time")
	}
}

func TestCreate_NegativeDelay(t *testing.T) {
	env := newCacheOnlyEnv(t, Config{})
	ctx := context.Background()

	id, _ := env.engine.Create(ctx, "req", -time.Hour)
	rec, _ := env.engine.Get(ctx, id)
	if !rec.StartTime.Equal(env.clock.Now()) {
		t.Errorf("start_time = %v, want now", rec.StartTime)
	}
}

func TestEngine_DualStoreReconciliation(t *testing.T) {
	env := newDualEnv(t, Config{})
	ctx := context.Background()

	id, _ := env.engine.Create(ctx, `{"route":"/actions/report"}`, 0)
	_ = env.engine.UpdateProgress(ctx, id, ProgressUpdate{Progress: store.Int(60), StatusText: store.String("rows")})
	before, _ := env.engine.Get(ctx, id)

	_ = env.cache.Delete(ctx, "backjob:1")

	after, err := env.engine.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if after.Progress != before.Progress || after.StatusText != before.StatusText ||
		after.Status != before.Status || after.Request != before.Request ||
		!after.UpdatedTime.Equal(before.UpdatedTime) {
		t.Errorf("reconciled record differs:\n got %+v\nwant %+v", after, before)
	}
	if env.cache.Len() == 0 {
		t.Error("expected cache to be repopulated")
	}
}

func TestFinish_TriggersSweep(t *testing.T) {
	env := newDualEnv(t, Config{BacklogDays: 30, AllBacklogDays: 60})
	ctx := context.Background()

	oldDone, _ := env.engine.Create(ctx, "a", 0)
	_ = env.engine.Finish(ctx, oldDone, nil)
	oldFailed, _ := env.engine.Create(ctx, "b", 0)
	_ = env.engine.Fail(ctx, oldFailed, store.String("x"))

	env.clock.Advance(45 * 24 * time.Hour)

	current, _ := env.engine.Create(ctx, "c", 0)
	if err := env.engine.Finish(ctx, current, nil); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	if _, err := env.db.GetJob(ctx, oldDone); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected completed job older than 30 days to be swept, got %v", err)
	}
	if _, err := env.db.GetJob(ctx, oldFailed); err != nil {
		t.Errorf("failed job younger than 60 days must stay: %v", err)
	}
	if _, err := env.db.GetJob(ctx, current); err != nil {
		t.Errorf("fresh job must stay: %v", err)
	}
	if n := env.counter(t, "backjob.jobs.swept"); n != 1 {
		t.Errorf("swept counter = %d, want 1", n)
	}
}
