// Package handlers contains HTTP handlers for the job API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"backjob/internal/dispatch"
	"backjob/internal/lifecycle"
	"backjob/pkg/api"
)

// JobStarter enqueues a job and triggers its monitor leg.
type JobStarter interface {
	Start(ctx context.Context, r *http.Request, call dispatch.Call, delay time.Duration) (int64, error)
}

// StatusReader returns the public status of a job.
type StatusReader interface {
	PublicStatus(ctx context.Context, id int64) (lifecycle.PublicStatus, error)
}

// Sweeper deletes aged finished jobs.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the handlers.
type Deps struct {
	Starter JobStarter
	Status  StatusReader
	Sweeper Sweeper
	Actions *ActionRegistry
	// Checks maps a dependency name to its readiness check.
	Checks map[string]Pinger
	Logger *slog.Logger
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	starter   JobStarter
	status    StatusReader
	sweeper   Sweeper
	actions   *ActionRegistry
	checks    map[string]Pinger
	validator *validator.Validate
	logger    *slog.Logger
}

// New creates a new Handlers instance.
func New(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Actions == nil {
		d.Actions = NewActionRegistry()
	}
	return &Handlers{
		starter:   d.Starter,
		status:    d.Status,
		sweeper:   d.Sweeper,
		actions:   d.Actions,
		checks:    d.Checks,
		validator: validator.New(),
		logger:    d.Logger,
	}
}

// A helper function to write standard JSON responses.
func respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func httpError(w http.ResponseWriter, message string, code int) {
	respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}
