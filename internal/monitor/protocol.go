package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"backjob/internal/dispatch"
	"backjob/internal/lifecycle"
	"backjob/internal/logger"
	"backjob/internal/store"
)

const tracerName = "backjob/monitor"

// Protocol wraps an application handler so that authenticated self-calls run
// the monitor or worker leg of their job.
type Protocol struct {
	engine     *lifecycle.Engine
	dispatcher *dispatch.Dispatcher
	trustProxy bool
	sleep      func(context.Context, time.Duration) error
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithTrustProxy honors X-Forwarded-Proto and X-Forwarded-Host when building
// the worker-leg origin.
func WithTrustProxy(trust bool) Option {
	return func(p *Protocol) { p.trustProxy = trust }
}

// WithSleep replaces the wait used for delayed starts, for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(p *Protocol) { p.sleep = sleep }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Protocol) { p.logger = l }
}

// WithTracerProvider sets the tracer provider for monitor and worker spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Protocol) { p.tracer = tp.Tracer(tracerName) }
}

// New creates a Protocol.
func New(engine *lifecycle.Engine, dispatcher *dispatch.Dispatcher, opts ...Option) *Protocol {
	p := &Protocol{
		engine:     engine,
		dispatcher: dispatcher,
		sleep:      sleepContext,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	return p
}

// Middleware classifies every request. External requests pass through
// untouched; monitor requests are answered here; worker requests run next
// with the job bound to the request context.
func (p *Protocol) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, id := Classify(r, p.dispatcher.Secret())
		if !role.Internal() {
			next.ServeHTTP(w, r)
			return
		}

		ctx, cancel := detach(w, r.Context())
		defer cancel()
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(r.Header))
		ctx = logger.WithJobID(ctx, id)

		ctx, span := p.tracer.Start(ctx, "backjob."+role.String(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.Int64("backjob.job_id", id)),
		)
		defer span.End()

		r = r.WithContext(ctx)
		switch role {
		case RoleMonitor:
			if err := p.runMonitor(w, r, id); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			w.WriteHeader(http.StatusAccepted)
		case RoleWorker:
			p.runWorker(w, r, id, next)
		}
	})
}

// detach cuts ctx loose from the client connection and clears the server's
// write deadline. Internal requests have no wall-clock limit: a job stays
// alive as long as it keeps updating, and a stalled job is failed by the
// timeout rule instead.
func detach(w http.ResponseWriter, ctx context.Context) (context.Context, context.CancelFunc) {
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	return context.WithCancel(context.WithoutCancel(ctx))
}

// runMonitor waits for the job's start time, runs the worker leg and closes
// the job out.
func (p *Protocol) runMonitor(w http.ResponseWriter, r *http.Request, id int64) error {
	ctx := r.Context()
	log := logger.FromContext(ctx, p.logger)

	rec, err := p.engine.CheckedRead(ctx, id)
	if err != nil {
		log.ErrorContext(ctx, "monitor read failed", "error", err)
		return err
	}

	for now := p.engine.Now(); rec.StartTime.After(now); now = p.engine.Now() {
		wait := rec.StartTime.Sub(now)
		log.InfoContext(ctx, "waiting for start time", "wait", wait)

		if err := p.sleep(ctx, wait); err != nil {
			return fmt.Errorf("wait for start: %w", err)
		}
		if err := p.engine.Touch(ctx, id); err != nil {
			return err
		}
		if rec, err = p.engine.CheckedRead(ctx, id); err != nil {
			return err
		}
	}

	if rec.Status.Terminal() {
		log.InfoContext(ctx, "job already finished before dispatch", "status", rec.Status)
		return p.engine.Finish(ctx, id, nil)
	}

	if strings.TrimSpace(rec.Request) == "" {
		msg := fmt.Sprintf("Error: request not found for job %d: %s", id, dumpRecord(rec))
		log.ErrorContext(ctx, "job has no request descriptor")
		return p.engine.Fail(ctx, id, &msg)
	}

	dispatchErr := p.dispatchWorker(ctx, r, id, rec)
	if dispatchErr != nil {
		log.WarnContext(ctx, "worker leg failed", "error", dispatchErr)
		current, err := p.engine.Get(ctx, id)
		if err != nil {
			return err
		}
		// A failed job already carries its own diagnostic.
		if current.Status != store.StatusFailed {
			text := lifecycle.AppendLine(current.StatusText, dispatchErr.Error())
			if err := p.engine.Fail(ctx, id, &text); err != nil {
				return err
			}
		}
	}

	if err := p.engine.Finish(ctx, id, nil); err != nil {
		return err
	}
	return dispatchErr
}

func (p *Protocol) dispatchWorker(ctx context.Context, r *http.Request, id int64, rec store.JobRecord) error {
	call, err := dispatch.DecodeCall(rec.Request)
	if err != nil {
		return fmt.Errorf("Error: %w", err)
	}
	origin := dispatch.OriginFromRequest(r, p.trustProxy)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.watchStall(ctx, cancel, id)

	return p.dispatcher.Worker(ctx, origin, id, call, nil)
}

// watchStall applies the timeout rule to id while its worker leg runs and
// cancels the leg once the job has gone stale. Progress updates push the
// cutoff forward.
func (p *Protocol) watchStall(ctx context.Context, cancel context.CancelFunc, id int64) {
	interval := p.engine.ErrorTimeout() / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			timedOut, err := p.engine.EvaluateTimeout(ctx, id)
			if err != nil {
				logger.FromContext(ctx, p.logger).WarnContext(ctx, "stall check failed", "error", err)
				continue
			}
			if timedOut {
				cancel()
				return
			}
		}
	}
}

// runWorker runs next as the job's action. Output is buffered; when next
// returns, the job is finished with the output as status text, or failed if
// the action panicked, recorded an error or answered with an error status.
func (p *Protocol) runWorker(w http.ResponseWriter, r *http.Request, id int64, next http.Handler) {
	ctx := r.Context()
	log := logger.FromContext(ctx, p.logger)

	buf := newBufferedWriter()
	cur := lifecycle.NewCurrent(p.engine, id, buf.String)
	ctx = lifecycle.WithCurrent(ctx, cur)

	if err := cur.SetProgress(ctx, 0); err != nil {
		log.WarnContext(ctx, "worker start update failed", "error", err)
	}

	panicked, panicVal := serveRecovering(next, buf, r.WithContext(ctx))

	output := buf.String()
	var failure string
	switch {
	case cur.Failed():
	case panicked:
		failure = fmt.Sprintf("Error: panic: %v", panicVal)
	case cur.Err() != nil:
		failure = "Error: " + cur.Err().Error()
	case buf.Status() >= http.StatusBadRequest:
		failure = fmt.Sprintf("Error: action responded %d %s", buf.Status(), http.StatusText(buf.Status()))
	}

	switch {
	case cur.Failed():
		log.InfoContext(ctx, "action failed its job")
	case failure != "":
		text := lifecycle.AppendLine(strings.TrimRight(output, "\n"), failure)
		if err := p.engine.Fail(ctx, id, &text); err != nil {
			log.ErrorContext(ctx, "failed to record job failure", "error", err)
		}
	default:
		if err := p.engine.Finish(ctx, id, &output); err != nil {
			log.ErrorContext(ctx, "failed to finish job", "error", err)
		}
	}

	if panicked {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	buf.flush(w)
}

func serveRecovering(h http.Handler, w http.ResponseWriter, r *http.Request) (panicked bool, val any) {
	defer func() {
		if v := recover(); v != nil {
			panicked, val = true, v
		}
	}()
	h.ServeHTTP(w, r)
	return false, nil
}

func dumpRecord(rec store.JobRecord) string {
	end := "null"
	if rec.EndTime != nil {
		end = rec.EndTime.Format(time.RFC3339)
	}
	return fmt.Sprintf("{progress:%d status:%s start_time:%s updated_time:%s end_time:%s status_text:%q}",
		rec.Progress, rec.Status, rec.StartTime.Format(time.RFC3339), rec.UpdatedTime.Format(time.RFC3339), end, rec.StatusText)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
