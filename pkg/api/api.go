// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and the server.
package api

// StartJobRequest is the request body for enqueuing a background job.
type StartJobRequest struct {
	// Action is the registered action name run by the worker leg.
	Action string            `json:"action" validate:"required,max=200,excludesall=?#"`
	Params map[string]string `json:"params,omitempty"`
	// Method is GET (default) or POST.
	Method   string            `json:"method,omitempty" validate:"omitempty,oneof=GET POST get post"`
	PostData map[string]string `json:"post_data,omitempty"`
	// DelaySeconds postpones the earliest start, up to 30 days.
	DelaySeconds int `json:"delay_seconds,omitempty" validate:"gte=0,lte=2592000"`
	// AsCurrentUser forwards the caller's cookies and Authorization header.
	AsCurrentUser bool `json:"as_current_user,omitempty"`
}

// StartJobResponse is the response body after enqueuing a job.
type StartJobResponse struct {
	JobID int64 `json:"job_id"`
}

// JobStatusResponse is the public status of a job.
type JobStatusResponse struct {
	ID         int64  `json:"id"`
	Progress   int    `json:"progress"`
	Status     string `json:"status"`
	StatusText string `json:"status_text"`
}

// SweepResponse reports how many finished jobs were deleted.
type SweepResponse struct {
	Deleted int64 `json:"deleted"`
}

// ErrorResponse represents a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
