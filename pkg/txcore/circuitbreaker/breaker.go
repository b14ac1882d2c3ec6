// Package circuitbreaker implements the resilience boundary every call to a
// participating service passes through: a per-service circuit breaker
// (wrapping sony/gobreaker) plus a bulkhead admission gate bounding
// concurrent in-flight requests.
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tracseq/txcore/pkg/txcore/txerr"
)

// State mirrors the spec's Closed/Open/HalfOpen vocabulary over gobreaker's
// own state type, so callers never need to import gobreaker directly.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

func fromGobreakerState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Config tunes a single named breaker, mapping directly onto spec section 3's
// Circuit Breaker State config fields.
type Config struct {
	FailureThreshold      uint32
	RecoveryTimeout       time.Duration
	RequestTimeout        time.Duration
	MaxConcurrentRequests int
	SuccessThreshold      uint32

	// OnStateChange is invoked whenever the breaker transitions state. It is
	// primarily used by the Manager to emit structured logs/metrics.
	OnStateChange func(service string, from, to State)
}

// DefaultConfig provides reasonable defaults for a new service breaker.
var DefaultConfig = Config{
	FailureThreshold:      5,
	RecoveryTimeout:       30 * time.Second,
	RequestTimeout:        10 * time.Second,
	MaxConcurrentRequests: 20,
	SuccessThreshold:      2,
}

// Breaker guards calls to a single named external service: gobreaker
// supplies the Closed/Open/HalfOpen state machine, a bulkhead semaphore
// bounds concurrent admission (gobreaker has no native concurrency cap),
// and a per-call context deadline enforces request_timeout.
type Breaker struct {
	service string
	cfg     Config
	cb      *gobreaker.CircuitBreaker
	sem     chan struct{}
}

// New constructs a breaker for service with the given config.
func New(service string, cfg Config) *Breaker {
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = DefaultConfig.MaxConcurrentRequests
	}

	settings := gobreaker.Settings{
		Name:        service,
		MaxRequests: cfg.SuccessThreshold,
		Interval:    0,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, fromGobreakerState(from), fromGobreakerState(to))
			}
		},
	}

	return &Breaker{
		service: service,
		cfg:     cfg,
		cb:      gobreaker.NewCircuitBreaker(settings),
		sem:     make(chan struct{}, cfg.MaxConcurrentRequests),
	}
}

// Execute admits fn through the bulkhead, enforces request_timeout, and
// routes the result through gobreaker so consecutive failures trip the
// breaker. A bulkhead rejection (max_concurrent_requests already in flight)
// returns *txerr.BulkheadFullError without ever invoking fn; a rejection by
// an Open breaker returns *txerr.CircuitOpenError instead — the two are
// distinct per spec section 4.1 (one means "saturated, retry soon", the
// other "tripped, wait recovery_timeout").
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	select {
	case b.sem <- struct{}{}:
		defer func() { <-b.sem }()
	default:
		return &txerr.BulkheadFullError{Service: b.service}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if b.cfg.RequestTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.RequestTimeout)
		defer cancel()
	}

	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn(callCtx)
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &txerr.CircuitOpenError{Service: b.service}
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &txerr.TimeoutError{Op: "call:" + b.service, Timeout: b.cfg.RequestTimeout.String()}
	}
	return err
}

// State returns the breaker's current state.
func (b *Breaker) State() State { return fromGobreakerState(b.cb.State()) }

// Service returns the name this breaker guards.
func (b *Breaker) Service() string { return b.service }

// Counts returns the underlying gobreaker failure/success counters.
func (b *Breaker) Counts() gobreaker.Counts { return b.cb.Counts() }
