package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"backjob/internal/lifecycle"
	"backjob/internal/store"
	"backjob/internal/store/memory"
)

func newTestEngine(t *testing.T) *lifecycle.Engine {
	t.Helper()
	st, err := store.NewJobStore(memory.New(), nil)
	if err != nil {
		t.Fatalf("NewJobStore: %v", err)
	}
	return lifecycle.NewEngine(st, lifecycle.Config{})
}

func serveAction(reg *ActionRegistry, r *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.Handle("/actions/{name}", reg)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, r)
	return rr
}

func TestActionRegistry_Names(t *testing.T) {
	reg := NewActionRegistry()
	noop := func(context.Context, *lifecycle.Current, url.Values, io.Writer) error { return nil }
	reg.Register("zeta", noop)
	reg.Register("alpha", noop)

	got := strings.Join(reg.Names(), ",")
	if got != "alpha,zeta" {
		t.Errorf("Names() = %q, want alpha,zeta", got)
	}
	if !reg.Has("alpha") || reg.Has("beta") {
		t.Error("Has() returned wrong result")
	}
}

func TestActionRegistry_StripsTriggerParams(t *testing.T) {
	reg := NewActionRegistry()
	var got url.Values
	reg.Register("echo", func(_ context.Context, job *lifecycle.Current, params url.Values, out io.Writer) error {
		got = params
		if job != nil {
			t.Error("expected no current job on a direct call")
		}
		fmt.Fprint(out, "ok")
		return nil
	})

	req := httptest.NewRequest(http.MethodGet, "/actions/echo?a=1&_backjob_id=5&_backjob_check=abc&_backjob_monitor=1", nil)
	rr := serveAction(reg, req)

	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("got %d %q", rr.Code, rr.Body.String())
	}
	if got.Get("a") != "1" {
		t.Errorf("params = %v", got)
	}
	for _, k := range []string{"_backjob_id", "_backjob_check", "_backjob_monitor"} {
		if got.Has(k) {
			t.Errorf("reserved param %s leaked into action", k)
		}
	}
}

func TestActionRegistry_PostForm(t *testing.T) {
	reg := NewActionRegistry()
	var got url.Values
	reg.Register("save", func(_ context.Context, _ *lifecycle.Current, params url.Values, _ io.Writer) error {
		got = params
		return nil
	})

	req := httptest.NewRequest(http.MethodPost, "/actions/save", strings.NewReader("name=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	serveAction(reg, req)

	if got.Get("name") != "x" {
		t.Errorf("params = %v", got)
	}
}

func TestActionRegistry_UnknownAction(t *testing.T) {
	rr := serveAction(NewActionRegistry(), httptest.NewRequest(http.MethodGet, "/actions/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestActionRegistry_ErrorWithoutJob(t *testing.T) {
	reg := NewActionRegistry()
	reg.Register("broken", func(context.Context, *lifecycle.Current, url.Values, io.Writer) error {
		return errors.New("disk full")
	})

	rr := serveAction(reg, httptest.NewRequest(http.MethodGet, "/actions/broken", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	if !strings.Contains(rr.Body.String(), "disk full") {
		t.Errorf("unexpected body %q", rr.Body.String())
	}
}

func TestActionRegistry_ErrorRecordedOnJob(t *testing.T) {
	engine := newTestEngine(t)
	id, err := engine.Create(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	job := lifecycle.NewCurrent(engine, id, func() string { return "" })

	reg := NewActionRegistry()
	reg.Register("broken", func(context.Context, *lifecycle.Current, url.Values, io.Writer) error {
		return errors.New("disk full")
	})

	req := httptest.NewRequest(http.MethodGet, "/actions/broken", nil)
	req = req.WithContext(lifecycle.WithCurrent(req.Context(), job))
	rr := serveAction(reg, req)

	if rr.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusOK)
	}
	if job.Err() == nil || job.Err().Error() != "disk full" {
		t.Errorf("recorded error = %v", job.Err())
	}
}

func TestActionRegistry_FailedJobIsNotAnError(t *testing.T) {
	engine := newTestEngine(t)
	id, _ := engine.Create(context.Background(), "", 0)
	job := lifecycle.NewCurrent(engine, id, func() string { return "" })

	reg := NewActionRegistry()
	reg.Register("gives-up", func(ctx context.Context, job *lifecycle.Current, _ url.Values, _ io.Writer) error {
		return job.Fail(ctx, "no input")
	})

	req := httptest.NewRequest(http.MethodGet, "/actions/gives-up", nil)
	req = req.WithContext(lifecycle.WithCurrent(req.Context(), job))
	serveAction(reg, req)

	if job.Err() != nil {
		t.Errorf("expected no recorded error, got %v", job.Err())
	}
	rec, err := engine.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != store.StatusFailed || rec.StatusText != "no input" {
		t.Errorf("record = %+v", rec)
	}
}
