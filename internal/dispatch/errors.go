package dispatch

import "fmt"

// TransportError is a failure to reach or talk to the application itself.
// Its message reads as a status_text diagnostic.
type TransportError struct {
	Op   string
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("Error: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a worker leg that answered with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Error: worker leg responded %s", e.Status)
}
