// Package controller wires the HTTP API, the job protocol and the action
// registry into one server.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"backjob/internal/controller/handlers"
	"backjob/internal/controller/middleware"
)

// ProtocolMiddleware intercepts the self-calls that drive background jobs.
type ProtocolMiddleware interface {
	Middleware(next http.Handler) http.Handler
}

// Options configures a Server.
type Options struct {
	Addr     string
	Handlers *handlers.Handlers
	Actions  *handlers.ActionRegistry
	Protocol ProtocolMiddleware

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// SystemSecret guards /internal endpoints; empty disables them.
	SystemSecret string

	// RateLimiter throttles POST /jobs when set.
	RateLimiter *middleware.RateLimiter

	Logger *slog.Logger
}

// Server is the HTTP server for the job API.
type Server struct {
	httpServer *http.Server
}

// New creates a new server.
func New(opts Options) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      NewHandler(opts),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// NewHandler builds the routed handler chain:
// request logging, then the job protocol, then traced routing.
func NewHandler(opts Options) http.Handler {
	h := opts.Handlers
	if opts.Actions == nil {
		opts.Actions = handlers.NewActionRegistry()
	}

	mux := http.NewServeMux()

	startJob := http.Handler(http.HandlerFunc(h.StartJob))
	if opts.RateLimiter != nil {
		startJob = opts.RateLimiter.Middleware()(startJob)
	}
	mux.Handle("POST /jobs", startJob)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)

	// Internal endpoints
	if opts.SystemSecret != "" {
		internalAuth := middleware.RequireInternalAuth(opts.SystemSecret)
		mux.Handle("POST /internal/sweep", internalAuth(http.HandlerFunc(h.Sweep)))
	}

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	// Application work reached by worker legs, or called directly.
	mux.Handle("/actions/{name}", opts.Actions)

	var handler http.Handler = otelhttp.NewHandler(mux, "backjob",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	// The protocol must see the server's own writer to extend its deadline.
	if opts.Protocol != nil {
		handler = opts.Protocol.Middleware(handler)
	}
	return middleware.RequestLogger(opts.Logger)(handler)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
