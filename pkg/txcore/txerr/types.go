package txerr

import "fmt"

// ValidationError indicates a command failed input validation before any
// event was produced. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ConcurrencyConflictError is returned by the event store when the supplied
// expected_version does not match the aggregate's current version.
type ConcurrencyConflictError struct {
	AggregateID     string
	ExpectedVersion int
	ActualVersion   int
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on aggregate %s: expected version %d, actual %d",
		e.AggregateID, e.ExpectedVersion, e.ActualVersion)
}

// AggregateNotFoundError indicates a command targeted an aggregate with no
// events in the store.
type AggregateNotFoundError struct {
	AggregateID   string
	AggregateType string
}

func (e *AggregateNotFoundError) Error() string {
	return fmt.Sprintf("aggregate not found: %s/%s", e.AggregateType, e.AggregateID)
}

// EventStoreError wraps an underlying storage failure (database
// unreachable, disk full, serialization error).
type EventStoreError struct {
	Op  string
	Err error
}

func (e *EventStoreError) Error() string { return fmt.Sprintf("event store %s: %v", e.Op, e.Err) }
func (e *EventStoreError) Unwrap() error { return e.Err }

// CircuitOpenError is returned by the circuit breaker when a call is
// rejected because the breaker for the target service is Open: the breaker
// has tripped and is waiting out its recovery_timeout before admitting a
// half-open probe.
type CircuitOpenError struct {
	Service string
}

func (e *CircuitOpenError) Error() string { return fmt.Sprintf("circuit open for service %q", e.Service) }

// BulkheadFullError is returned by the circuit breaker when a call is
// rejected because max_concurrent_requests in-flight calls are already
// admitted. Distinct from CircuitOpenError: the breaker itself may still be
// Closed, the service is just saturated, and a caller can retry almost
// immediately rather than waiting for recovery_timeout.
type BulkheadFullError struct {
	Service string
}

func (e *BulkheadFullError) Error() string {
	return fmt.Sprintf("bulkhead full for service %q", e.Service)
}

// TimeoutError indicates an operation did not complete within its deadline.
type TimeoutError struct {
	Op      string
	Timeout string
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout) }

// CompensationFailedError is raised when a saga's compensation for a step
// itself fails after exhausting retries. It is a terminal condition: the
// saga moves to CompensationFailed and an operator must intervene.
type CompensationFailedError struct {
	SagaID   string
	StepName string
	Err      error
}

func (e *CompensationFailedError) Error() string {
	return fmt.Sprintf("compensation failed for saga %s step %s: %v", e.SagaID, e.StepName, e.Err)
}
func (e *CompensationFailedError) Unwrap() error { return e.Err }

// ConsistencyViolationError indicates data invariants were violated in a way
// no retry or compensation can repair (e.g. a step reported success but
// downstream state contradicts it).
type ConsistencyViolationError struct {
	Message string
}

func (e *ConsistencyViolationError) Error() string { return "consistency violation: " + e.Message }

// SagaTimeoutError indicates a saga or step exceeded its configured timeout.
type SagaTimeoutError struct {
	SagaID   string
	StepName string
}

func (e *SagaTimeoutError) Error() string {
	if e.StepName != "" {
		return fmt.Sprintf("saga %s: step %s timed out", e.SagaID, e.StepName)
	}
	return fmt.Sprintf("saga %s: timed out", e.SagaID)
}
