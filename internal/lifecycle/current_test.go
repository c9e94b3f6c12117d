package lifecycle

import (
	"context"
	"errors"
	"testing"

	"backjob/internal/store"
)

func TestCurrent_NilIsSafe(t *testing.T) {
	var c *Current
	ctx := context.Background()

	if c.ID() != 0 || c.Failed() || c.Err() != nil {
		t.Error("nil Current must report zero values")
	}
	if err := c.SetProgress(ctx, 10); err != nil {
		t.Errorf("SetProgress on nil = %v", err)
	}
	if err := c.Finish(ctx, nil); err != nil {
		t.Errorf("Finish on nil = %v", err)
	}
	c.RecordError(errors.New("ignored"))
}

func TestCurrent_ContextRoundTrip(t *testing.T) {
	env := newCacheOnlyEnv(t, Config{})
	c := NewCurrent(env.engine, 3, nil)

	ctx := WithCurrent(context.Background(), c)
	if FromContext(ctx) != c {
		t.Error("FromContext did not return the bound handle")
	}
	if FromContext(context.Background()) != nil {
		t.Error("expected nil without a bound handle")
	}
}

func TestCurrent_DefaultsTextToOutput(t *testing.T) {
	env := newCacheOnlyEnv(t, Config{})
	ctx := context.Background()
	id, _ := env.engine.Create(ctx, "req", 0)

	output := "line 1\n"
	c := NewCurrent(env.engine, id, func() string { return output })

	if err := c.SetProgress(ctx, 10); err != nil {
		t.Fatalf("SetProgress failed: %v", err)
	}
	st, _ := env.engine.PublicStatus(ctx, id)
	if st.StatusText != "line 1\n" {
		t.Errorf("status_text = %q, want buffered output", st.StatusText)
	}

	output += "line 2\n"
	if err := c.IncrementProgress(ctx, 5); err != nil {
		t.Fatalf("IncrementProgress failed: %v", err)
	}
	st, _ = env.engine.PublicStatus(ctx, id)
	if st.Progress != 15 || st.StatusText != "line 1\nline 2\n" {
		t.Errorf("got %+v", st)
	}
}

func TestCurrent_FailStopsFurtherUpdates(t *testing.T) {
	env := newCacheOnlyEnv(t, Config{})
	ctx := context.Background()
	id, _ := env.engine.Create(ctx, "req", 0)
	c := NewCurrent(env.engine, id, nil)

	err := c.Fail(ctx, "bad input")
	if !errors.Is(err, ErrJobFailed) {
		t.Fatalf("Fail() = %v, want ErrJobFailed", err)
	}
	if !c.Failed() {
		t.Error("expected Failed() after Fail")
	}
	if err := c.SetProgress(ctx, 50); !errors.Is(err, ErrJobFailed) {
		t.Errorf("SetProgress after Fail = %v, want ErrJobFailed", err)
	}

	rec, _ := env.engine.Get(ctx, id)
	if rec.Status != store.StatusFailed || rec.StatusText != "bad input" || rec.Progress != 0 {
		t.Errorf("got %+v", rec)
	}
}

func TestCurrent_RecordError(t *testing.T) {
	c := &Current{}
	first := errors.New("first")

	c.RecordError(ErrJobFailed)
	c.RecordError(first)
	c.RecordError(errors.New("second"))

	if !errors.Is(c.Err(), first) {
		t.Errorf("Err() = %v, want first", c.Err())
	}
}
