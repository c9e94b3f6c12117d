// Package dispatch invokes this application as a new inbound request, over a
// hand-written HTTP/1.1 exchange, to run the monitor and worker legs of a job.
package dispatch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Trigger parameters carried in the query string of self-calls.
const (
	ParamJobID   = "_backjob_id"
	ParamCheck   = "_backjob_check"
	ParamMonitor = "_backjob_monitor"
)

// IsReserved reports whether name is a trigger parameter.
func IsReserved(name string) bool {
	switch name {
	case ParamJobID, ParamCheck, ParamMonitor:
		return true
	}
	return false
}

// Call describes the action a job runs on its worker leg. It is stored
// JSON-encoded in the request column.
type Call struct {
	Route         string     `json:"route"`
	Params        url.Values `json:"params,omitempty"`
	Method        string     `json:"method,omitempty"`
	PostData      url.Values `json:"post_data,omitempty"`
	AsCurrentUser bool       `json:"as_current_user"`
}

// Normalize upper-cases the method (default GET), drops post data from
// non-POST calls and strips trigger parameters from Params.
func (c Call) Normalize() Call {
	c.Method = strings.ToUpper(strings.TrimSpace(c.Method))
	if c.Method == "" {
		c.Method = http.MethodGet
	}
	if c.Method != http.MethodPost {
		c.PostData = nil
	}
	if len(c.Params) > 0 {
		params := make(url.Values, len(c.Params))
		for k, v := range c.Params {
			if IsReserved(k) {
				continue
			}
			params[k] = append([]string(nil), v...)
		}
		c.Params = params
	}
	return c
}

// Body returns the urlencoded request body, empty unless the call is a POST.
func (c Call) Body() string {
	if c.Method != http.MethodPost || len(c.PostData) == 0 {
		return ""
	}
	return c.PostData.Encode()
}

// EncodeCall serializes c for storage.
func EncodeCall(c Call) (string, error) {
	if strings.TrimSpace(c.Route) == "" {
		return "", fmt.Errorf("dispatch: call has no route")
	}
	raw, err := json.Marshal(c.Normalize())
	if err != nil {
		return "", fmt.Errorf("dispatch: encode call: %w", err)
	}
	return string(raw), nil
}

// DecodeCall parses a stored call descriptor.
func DecodeCall(s string) (Call, error) {
	var c Call
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return Call{}, fmt.Errorf("dispatch: decode call: %w", err)
	}
	if strings.TrimSpace(c.Route) == "" {
		return Call{}, fmt.Errorf("dispatch: call has no route")
	}
	return c.Normalize(), nil
}
