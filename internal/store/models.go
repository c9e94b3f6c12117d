// Package store contains the persistence layer for background jobs.
package store

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a job.
// The ordinal matters: "uncompleted" means strictly below StatusCompleted,
// so a failed job sorts above a completed one and is never re-evaluated.
type Status int

const (
	StatusStarted    Status = 0
	StatusInProgress Status = 1
	StatusCompleted  Status = 2
	StatusFailed     Status = 3
)

// String returns the upper-case wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusStarted:
		return "STARTED"
	case StatusInProgress:
		return "INPROGRESS"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STARTED":
		return StatusStarted, nil
	case "INPROGRESS":
		return StatusInProgress, nil
	case "COMPLETED":
		return StatusCompleted, nil
	case "FAILED":
		return StatusFailed, nil
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// Uncompleted reports whether the job is still STARTED or INPROGRESS.
func (s Status) Uncompleted() bool {
	return s < StatusCompleted
}

// Terminal reports whether the job is COMPLETED or FAILED.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobRecord is the persisted state of one background job.
type JobRecord struct {
	ID          int64      `json:"id"`
	Progress    int        `json:"progress"`
	Status      Status     `json:"status"`
	StartTime   time.Time  `json:"start_time"`
	UpdatedTime time.Time  `json:"updated_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	// Request is the serialized call descriptor run by the worker leg.
	Request    string `json:"request"`
	StatusText string `json:"status_text"`
}

// ClampProgress bounds p to [0, 100].
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// JobPatch is a partial update of a JobRecord. Nil fields are left untouched.
type JobPatch struct {
	Progress    *int
	Status      *Status
	StartTime   *time.Time
	UpdatedTime *time.Time
	EndTime     *time.Time
	Request     *string
	StatusText  *string
}

// Merge returns p with every field supplied by over replacing p's value.
// The last writer wins field by field; fields over leaves nil keep p's value.
func (p JobPatch) Merge(over JobPatch) JobPatch {
	if over.Progress != nil {
		p.Progress = over.Progress
	}
	if over.Status != nil {
		p.Status = over.Status
	}
	if over.StartTime != nil {
		p.StartTime = over.StartTime
	}
	if over.UpdatedTime != nil {
		p.UpdatedTime = over.UpdatedTime
	}
	if over.EndTime != nil {
		p.EndTime = over.EndTime
	}
	if over.Request != nil {
		p.Request = over.Request
	}
	if over.StatusText != nil {
		p.StatusText = over.StatusText
	}
	return p
}

// Apply returns rec with the supplied fields of p written over it.
// Progress is clamped to [0, 100].
func (p JobPatch) Apply(rec JobRecord) JobRecord {
	if p.Progress != nil {
		rec.Progress = ClampProgress(*p.Progress)
	}
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.StartTime != nil {
		rec.StartTime = *p.StartTime
	}
	if p.UpdatedTime != nil {
		rec.UpdatedTime = *p.UpdatedTime
	}
	if p.EndTime != nil {
		t := *p.EndTime
		rec.EndTime = &t
	}
	if p.Request != nil {
		rec.Request = *p.Request
	}
	if p.StatusText != nil {
		rec.StatusText = *p.StatusText
	}
	return rec
}

// Columns returns the supplied fields keyed by column name, in a stable order
// of (name, value) pairs. Durable stores use it to build partial UPDATEs.
func (p JobPatch) Columns() ([]string, []any) {
	var names []string
	var values []any
	if p.Progress != nil {
		names = append(names, "progress")
		values = append(values, ClampProgress(*p.Progress))
	}
	if p.Status != nil {
		names = append(names, "status")
		values = append(values, int(*p.Status))
	}
	if p.StartTime != nil {
		names = append(names, "start_time")
		values = append(values, *p.StartTime)
	}
	if p.UpdatedTime != nil {
		names = append(names, "updated_time")
		values = append(values, *p.UpdatedTime)
	}
	if p.EndTime != nil {
		names = append(names, "end_time")
		values = append(values, *p.EndTime)
	}
	if p.Request != nil {
		names = append(names, "request")
		values = append(values, *p.Request)
	}
	if p.StatusText != nil {
		names = append(names, "status_text")
		values = append(values, *p.StatusText)
	}
	return names, values
}

// IsEmpty reports whether the patch carries no fields.
func (p JobPatch) IsEmpty() bool {
	names, _ := p.Columns()
	return len(names) == 0
}

// Int returns a pointer to v, for building patches.
func Int(v int) *int { return &v }

// String returns a pointer to v, for building patches.
func String(v string) *string { return &v }

// Time returns a pointer to v, for building patches.
func Time(v time.Time) *time.Time { return &v }

// StatusPtr returns a pointer to v, for building patches.
func StatusPtr(v Status) *Status { return &v }
