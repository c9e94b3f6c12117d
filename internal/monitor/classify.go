// Package monitor recognizes self-triggered job requests and runs the monitor
// and worker legs of a job around the application's handlers.
package monitor

import (
	"net/http"
	"strconv"

	"backjob/internal/auth"
	"backjob/internal/dispatch"
)

// Role is what an inbound request is, as far as jobs are concerned.
type Role int

const (
	// RoleExternal is any request that is not an authenticated self-call.
	RoleExternal Role = iota
	// RoleMonitor waits for the start time and runs the worker leg.
	RoleMonitor
	// RoleWorker runs the job's action.
	RoleWorker
)

func (r Role) String() string {
	switch r {
	case RoleMonitor:
		return "monitor"
	case RoleWorker:
		return "worker"
	default:
		return "external"
	}
}

// Internal reports whether the role is an authenticated self-call.
func (r Role) Internal() bool { return r != RoleExternal }

// Classify derives the role and job id from the query string of r alone.
// A request is internal only when the job id and a matching check token are
// both present; the monitor marker then selects the monitor leg.
func Classify(r *http.Request, secret string) (Role, int64) {
	q := r.URL.Query()
	rawID := q.Get(dispatch.ParamJobID)
	if !q.Has(dispatch.ParamJobID) || !q.Has(dispatch.ParamCheck) {
		return RoleExternal, 0
	}
	if !auth.VerifyCheckToken(secret, rawID, q.Get(dispatch.ParamCheck)) {
		return RoleExternal, 0
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return RoleExternal, 0
	}
	if q.Has(dispatch.ParamMonitor) {
		return RoleMonitor, id
	}
	return RoleWorker, id
}
