package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"backjob/internal/dispatch"
	"backjob/internal/lifecycle"
	"backjob/internal/logger"
)

// Action is application work runnable as a background job. job is nil when
// the action is called directly rather than as a worker leg. Text written to
// out becomes the job's status text.
type Action func(ctx context.Context, job *lifecycle.Current, params url.Values, out io.Writer) error

// ActionRegistry maps names to actions and serves them at /actions/{name}.
type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewActionRegistry creates an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{actions: make(map[string]Action)}
}

// Register adds or replaces the action called name.
func (a *ActionRegistry) Register(name string, fn Action) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions[name] = fn
}

// Has reports whether name is registered.
func (a *ActionRegistry) Has(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.actions[name]
	return ok
}

// Names returns the registered names in order.
func (a *ActionRegistry) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.actions))
	for n := range a.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ServeHTTP runs the action named by the {name} path value with the request's
// query and form parameters, minus trigger parameters.
func (a *ActionRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	a.mu.RLock()
	fn, ok := a.actions[name]
	a.mu.RUnlock()
	if !ok {
		httpError(w, "Unknown action: "+name, http.StatusNotFound)
		return
	}

	if err := r.ParseForm(); err != nil {
		httpError(w, "Invalid form data", http.StatusBadRequest)
		return
	}
	params := make(url.Values, len(r.Form))
	for k, v := range r.Form {
		if !dispatch.IsReserved(k) {
			params[k] = v
		}
	}

	ctx := r.Context()
	job := lifecycle.FromContext(ctx)
	err := fn(ctx, job, params, w)
	if err == nil || errors.Is(err, lifecycle.ErrJobFailed) {
		return
	}

	if job != nil {
		job.RecordError(err)
		return
	}
	logger.FromContext(ctx, slog.Default()).Error("action failed", "action", name, "error", err)
	httpError(w, err.Error(), http.StatusInternalServerError)
}
