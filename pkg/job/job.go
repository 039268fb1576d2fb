// Package job defines the identity wrapper convoy dispatches to
// handlers. Identity is the sole basis of deduplication; everything
// else carried on a Job is opaque metadata the queue never inspects.
package job

import "fmt"

// Job is an opaque unit of work identified by a string id. Two jobs
// are equal iff their ids are equal.
type Job struct {
	ID      string
	Payload map[string]interface{}
}

// New coerces id to a string and wraps it as a Job with no payload.
// Accepts anything with a sensible string form (string, int, fmt.Stringer, ...).
func New(id interface{}) Job {
	return Job{ID: toString(id)}
}

// WithPayload returns a copy of id wrapped as a Job carrying payload.
func WithPayload(id interface{}, payload map[string]interface{}) Job {
	return Job{ID: toString(id), Payload: payload}
}

func toString(id interface{}) string {
	switch v := id.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
