package handlers

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"backjob/internal/dispatch"
	"backjob/internal/lifecycle"
)

// Mock Store
type mockStore struct {
	// Starter Hooks
	startID  int64
	startErr error

	// Status Hooks
	statusResp lifecycle.PublicStatus
	statusErr  error

	// Sweeper Hooks
	sweepResp int64
	sweepErr  error

	pingErr error

	// Spies (to verify arguments passed by handlers)
	capturedCall   dispatch.Call
	capturedDelay  time.Duration
	capturedID     int64
	startCalled    bool
	statusCalled   bool
	sweepCallCount int
}

func (m *mockStore) Start(ctx context.Context, r *http.Request, call dispatch.Call, delay time.Duration) (int64, error) {
	m.startCalled = true
	m.capturedCall = call
	m.capturedDelay = delay
	return m.startID, m.startErr
}

func (m *mockStore) PublicStatus(ctx context.Context, id int64) (lifecycle.PublicStatus, error) {
	m.statusCalled = true
	m.capturedID = id
	return m.statusResp, m.statusErr
}

func (m *mockStore) Sweep(ctx context.Context) (int64, error) {
	m.sweepCallCount++
	return m.sweepResp, m.sweepErr
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.pingErr
}

// newTestHandlers wires every dependency to the same mock and registers a
// no-op "report" action.
func newTestHandlers(m *mockStore) *Handlers {
	actions := NewActionRegistry()
	actions.Register("report", func(context.Context, *lifecycle.Current, url.Values, io.Writer) error { return nil })
	return New(Deps{
		Starter: m,
		Status:  m,
		Sweeper: m,
		Actions: actions,
		Checks:  map[string]Pinger{"database": m},
	})
}
