package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"time"

	"backjob/internal/controller/handlers"
	"backjob/internal/lifecycle"
)

func registerExampleActions(reg *handlers.ActionRegistry) {
	reg.Register("echo", echoAction)
	reg.Register("countdown", countdownAction)
	reg.Register("fail", failAction)
}

// echoAction writes its parameters back, one per line.
func echoAction(_ context.Context, _ *lifecycle.Current, params url.Values, out io.Writer) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "%s=%s\n", k, params.Get(k))
	}
	return nil
}

// countdownAction counts down from steps, reporting progress after each
// interval. steps defaults to 5 and interval to 1s.
func countdownAction(ctx context.Context, job *lifecycle.Current, params url.Values, out io.Writer) error {
	steps := 5
	if v := params.Get("steps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid steps %q", v)
		}
		steps = n
	}
	interval := time.Second
	if v := params.Get("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid interval %q", v)
		}
		interval = d
	}

	for i := steps; i > 0; i-- {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		progress := (steps - i + 1) * 100 / steps
		text := fmt.Sprintf("%d left", i-1)
		if err := job.Update(ctx, lifecycle.ProgressUpdate{Progress: &progress, StatusText: &text}); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "counted down from %d", steps)
	return nil
}

// failAction fails its job with the reason parameter.
func failAction(ctx context.Context, job *lifecycle.Current, params url.Values, _ io.Writer) error {
	reason := params.Get("reason")
	if reason == "" {
		reason = "failed on request"
	}
	return job.Fail(ctx, reason)
}
