package eventstore

import "fmt"

// HandlerError wraps a failure from a synchronous dispatch handler. The
// append that triggered dispatch has already committed; per the design,
// handlers must be idempotent so a retry of the same record (via catch-up
// replay or an operator-triggered redispatch) is safe.
type HandlerError struct {
	EventType string
	EventID   string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler failed for event %s (%s): %v", e.EventID, e.EventType, e.Err)
}
func (e *HandlerError) Unwrap() error { return e.Err }
