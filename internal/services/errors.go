package services

import "fmt"

// ConsistencyError records one reconcile entry that could not be brought in
// line with the database. It is logged and counted, never propagated.
type ConsistencyError struct {
	Path   string
	Reason string
	Cause  error
}

func (e *ConsistencyError) Error() string {
	if e == nil {
		return "content directory inconsistent"
	}
	if e.Cause == nil {
		return fmt.Sprintf("content directory %q inconsistent: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("content directory %q inconsistent: %s: %v", e.Path, e.Reason, e.Cause)
}

func (e *ConsistencyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
