package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"backjob/internal/store"
)

type deleteCall struct {
	before time.Time
	status *store.Status
}

type recordingDurable struct {
	store.Durable
	calls []deleteCall
	n     int64
	err   error
}

func (r *recordingDurable) DeleteFinished(_ context.Context, before time.Time, status *store.Status) (int64, error) {
	r.calls = append(r.calls, deleteCall{before: before, status: status})
	return r.n, r.err
}

func TestSweeper_NoDurable(t *testing.T) {
	s := NewSweeper(nil, 30, 60)

	n, err := s.Sweep(context.Background())
	if err != nil || n != 0 {
		t.Errorf("Sweep() = %d, %v; want no-op", n, err)
	}
}

func TestSweeper_IndependentThresholds(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	db := &recordingDurable{n: 2}
	s := NewSweeper(db, 30, 90, withSweepClock(func() time.Time { return now }), WithSweepLogger(quietLogger()))

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 4 {
		t.Errorf("deleted = %d, want 4", n)
	}
	if len(db.calls) != 2 {
		t.Fatalf("got %d delete calls, want 2", len(db.calls))
	}

	completed := db.calls[0]
	if !completed.before.Equal(now.AddDate(0, 0, -30)) || completed.status == nil || *completed.status != store.StatusCompleted {
		t.Errorf("unexpected completed-only call: %+v", completed)
	}
	all := db.calls[1]
	if !all.before.Equal(now.AddDate(0, 0, -90)) || all.status != nil {
		t.Errorf("unexpected all-terminal call: %+v", all)
	}
}

func TestSweeper_ZeroDisables(t *testing.T) {
	db := &recordingDurable{}
	s := NewSweeper(db, 0, 60, WithSweepLogger(quietLogger()))

	if _, err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if len(db.calls) != 1 || db.calls[0].status != nil {
		t.Errorf("expected only the all-terminal delete, got %+v", db.calls)
	}
}

func TestSweeper_Error(t *testing.T) {
	db := &recordingDurable{err: errors.New("db down")}
	s := NewSweeper(db, 30, 0, WithSweepLogger(quietLogger()))

	if _, err := s.Sweep(context.Background()); err == nil {
		t.Error("expected error")
	}
}
