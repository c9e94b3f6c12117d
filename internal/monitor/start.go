package monitor

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"backjob/internal/dispatch"
	"backjob/internal/lifecycle"
)

// Starter enqueues jobs and fires their monitor leg.
type Starter struct {
	engine     *lifecycle.Engine
	dispatcher *dispatch.Dispatcher
	trustProxy bool
	logger     *slog.Logger
}

// NewStarter creates a Starter.
func NewStarter(engine *lifecycle.Engine, dispatcher *dispatch.Dispatcher, trustProxy bool, l *slog.Logger) *Starter {
	if l == nil {
		l = slog.Default()
	}
	return &Starter{engine: engine, dispatcher: dispatcher, trustProxy: trustProxy, logger: l}
}

// Start records a job for call, to run no earlier than delay from now, and
// triggers its monitor leg against the host that served r. It returns as soon
// as the trigger is written. A trigger that cannot be sent fails the job but
// still returns its id, so the caller can poll the failure.
func (s *Starter) Start(ctx context.Context, r *http.Request, call dispatch.Call, delay time.Duration) (int64, error) {
	raw, err := dispatch.EncodeCall(call)
	if err != nil {
		return 0, err
	}

	id, err := s.engine.Create(ctx, raw, delay)
	if err != nil {
		return 0, err
	}

	origin := dispatch.OriginFromRequest(r, s.trustProxy)
	if err := s.dispatcher.Monitor(ctx, origin, id, call); err != nil {
		s.logger.WarnContext(ctx, "monitor trigger failed", "job_id", id, "error", err)
		msg := err.Error()
		if ferr := s.engine.Fail(ctx, id, &msg); ferr != nil {
			return id, ferr
		}
	}
	return id, nil
}
