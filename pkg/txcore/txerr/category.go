// Package txerr provides the error taxonomy shared across every component:
// a handful of concrete error types plus a Categorize function that reduces
// any of them (and any caller-defined error satisfying the same shape) to
// one of four handling categories. The saga orchestrator turns a category
// into a retry-vs-compensate decision, and WithRetryContext (used by the
// local event bus and the event store's handler dispatch) uses it to decide
// whether to retry; other components just return the concrete error type.
package txerr

import (
	"errors"
	"fmt"
)

// Category is how an error should be handled upstream.
type Category int

const (
	// CategoryTransient indicates the same operation will likely succeed if
	// retried: network blips, lock contention, infrastructure timeouts.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retrying the identical operation will not
	// help: validation failures, consistency violations.
	CategoryPermanent

	// CategoryEscalatable indicates the operation itself was fine but the
	// result needs a different code path: concurrency conflicts, where
	// re-reading and retrying with a new expected_version can succeed.
	CategoryEscalatable

	// CategoryHumanRequired indicates the system cannot make progress
	// without operator intervention: a saga stuck in CompensationFailed.
	CategoryHumanRequired
)

func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryEscalatable:
		return "escalatable"
	case CategoryHumanRequired:
		return "human_required"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with the category it was resolved to and
// how many attempts have already been made.
type CategorizedError struct {
	Err      error
	Category Category
	Attempts int
	Context  string
}

func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)", e.Context, e.Err, e.Category, e.Attempts)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)", e.Err, e.Category, e.Attempts)
}

func (e *CategorizedError) Unwrap() error { return e.Err }

// Categorize inspects err and returns the category that determines whether
// the saga orchestrator retries, compensates, or escalates to an operator.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var concurrency *ConcurrencyConflictError
	if errors.As(err, &concurrency) {
		return CategoryEscalatable
	}

	var validation *ValidationError
	if errors.As(err, &validation) {
		return CategoryPermanent
	}

	var consistency *ConsistencyViolationError
	if errors.As(err, &consistency) {
		return CategoryPermanent
	}

	var compensationFailed *CompensationFailedError
	if errors.As(err, &compensationFailed) {
		return CategoryHumanRequired
	}

	var notFound *AggregateNotFoundError
	if errors.As(err, &notFound) {
		return CategoryPermanent
	}

	var circuitOpen *CircuitOpenError
	if errors.As(err, &circuitOpen) {
		return CategoryTransient
	}

	var bulkheadFull *BulkheadFullError
	if errors.As(err, &bulkheadFull) {
		return CategoryTransient
	}

	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return CategoryTransient
	}

	var storeErr *EventStoreError
	if errors.As(err, &storeErr) {
		return CategoryTransient
	}

	return CategoryPermanent
}

// IsRetryable reports whether err's category warrants an automatic retry.
func IsRetryable(err error) bool { return Categorize(err) == CategoryTransient }

// IsEscalatable reports whether err warrants re-reading state and retrying
// with fresh preconditions (e.g. a new expected_version).
func IsEscalatable(err error) bool { return Categorize(err) == CategoryEscalatable }

// NeedsHuman reports whether err requires operator intervention.
func NeedsHuman(err error) bool { return Categorize(err) == CategoryHumanRequired }
