package lifecycle

import (
	"context"
	"errors"
	"sync"
)

// ErrJobFailed is returned by a Current once its job has been failed.
// Code that receives it should stop working and return.
var ErrJobFailed = errors.New("lifecycle: job failed")

type currentKey struct{}

// Current is the handle to the job executing in the current worker request.
// All methods are safe to call on a nil *Current; they then do nothing, so
// actions can run outside a worker leg unchanged.
type Current struct {
	engine *Engine
	id     int64
	output func() string

	mu     sync.Mutex
	failed bool
	err    error
}

// NewCurrent binds id to e. output, when non-nil, supplies the text written
// so far by the action; it becomes the status text of updates that carry none.
func NewCurrent(e *Engine, id int64, output func() string) *Current {
	return &Current{engine: e, id: id, output: output}
}

// WithCurrent returns a context carrying c.
func WithCurrent(ctx context.Context, c *Current) context.Context {
	return context.WithValue(ctx, currentKey{}, c)
}

// FromContext returns the Current bound to ctx, or nil.
func FromContext(ctx context.Context) *Current {
	c, _ := ctx.Value(currentKey{}).(*Current)
	return c
}

// ID returns the job id, or 0 for a nil handle.
func (c *Current) ID() int64 {
	if c == nil {
		return 0
	}
	return c.id
}

func (c *Current) defaultText(text *string) *string {
	if text != nil || c.output == nil {
		return text
	}
	out := c.output()
	return &out
}

// Update records progress and status text. A nil StatusText is replaced by
// the output written so far.
func (c *Current) Update(ctx context.Context, u ProgressUpdate) error {
	if c == nil {
		return nil
	}
	if c.Failed() {
		return ErrJobFailed
	}
	u.StatusText = c.defaultText(u.StatusText)
	return c.engine.UpdateProgress(ctx, c.id, u)
}

// SetProgress sets the completion percentage.
func (c *Current) SetProgress(ctx context.Context, progress int) error {
	return c.Update(ctx, ProgressUpdate{Progress: &progress})
}

// SetStatusText replaces the status text without touching progress.
func (c *Current) SetStatusText(ctx context.Context, text string) error {
	return c.Update(ctx, ProgressUpdate{StatusText: &text})
}

// IncrementProgress adds delta to the current progress.
func (c *Current) IncrementProgress(ctx context.Context, delta int) error {
	if c == nil {
		return nil
	}
	if c.Failed() {
		return ErrJobFailed
	}
	return c.engine.IncrementProgress(ctx, c.id, delta, c.defaultText(nil))
}

// Finish completes the job. A nil text is replaced by the output so far.
func (c *Current) Finish(ctx context.Context, text *string) error {
	if c == nil {
		return nil
	}
	if c.Failed() {
		return ErrJobFailed
	}
	return c.engine.Finish(ctx, c.id, c.defaultText(text))
}

// Fail marks the job FAILED with text and returns ErrJobFailed so the caller
// can unwind. Later updates through c are rejected.
func (c *Current) Fail(ctx context.Context, text string) error {
	if c == nil {
		return ErrJobFailed
	}
	if err := c.engine.Fail(ctx, c.id, &text); err != nil {
		return err
	}
	c.mu.Lock()
	c.failed = true
	c.mu.Unlock()
	return ErrJobFailed
}

// Failed reports whether Fail was called through c.
func (c *Current) Failed() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// RecordError stores an application error for the end-of-request hook.
// ErrJobFailed is ignored since the job already carries its failure.
func (c *Current) RecordError(err error) {
	if c == nil || err == nil || errors.Is(err, ErrJobFailed) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Err returns the first error passed to RecordError.
func (c *Current) Err() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
