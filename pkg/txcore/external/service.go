// Package external models the participating-service contract (spec section
// 6.3): every service a saga step calls into exposes a command endpoint, a
// compensation endpoint for commands that have one, and a health endpoint.
// The circuit breaker does not call the health endpoint; its half-open
// probes are ordinary calls made through the breaker. It also ships in-memory mock
// services for the laboratory sample-processing saga, grounded on the
// service/command names in the original Rust saga definition
// (sample-service, storage-service, sequencing-service,
// notification-service).
package external

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Service is what a saga step handler calls through. Real deployments
// implement this over HTTP/gRPC against the actual sample/storage/
// sequencing/notification services; txcore ships only the contract plus
// in-memory mocks for tests and the demo binary.
type Service interface {
	// Name identifies the service for breaker/handler registry lookups.
	Name() string

	// Execute runs command against the given payload, replaying the cached
	// result instead of re-applying side effects if idempotencyKey was
	// already seen (spec section 6.3/6.4).
	Execute(ctx context.Context, command string, payload map[string]any, idempotencyKey string) (any, error)

	// Compensate undoes a previously executed command, same replay rule.
	Compensate(ctx context.Context, command string, payload map[string]any, idempotencyKey string) error

	// Health reports whether the service is currently reachable. The
	// circuit breaker does not call it.
	Health(ctx context.Context) error
}

// replayCache stores the result of each idempotency key for at least the
// owning saga's timeout duration (spec section 6.4), so a retried command
// returns the original result instead of re-applying its side effect.
type replayCache struct {
	mu      sync.Mutex
	results map[string]replayEntry
}

type replayEntry struct {
	value   any
	err     error
	storeAt time.Time
}

func newReplayCache() *replayCache {
	return &replayCache{results: make(map[string]replayEntry)}
}

// lookup returns a cached (value, err) and true if key was already applied.
func (c *replayCache) lookup(key string) (any, error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.results[key]
	if !ok {
		return nil, nil, false
	}
	return entry.value, entry.err, true
}

func (c *replayCache) store(key string, value any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[key] = replayEntry{value: value, err: err, storeAt: time.Now()}
}

// evictOlderThan drops entries recorded before cutoff. Nothing in txcore
// calls it, so a MockService keeps every key it has seen.
func (c *replayCache) evictOlderThan(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.results {
		if e.storeAt.Before(cutoff) {
			delete(c.results, k)
		}
	}
}

// UnknownCommandError is returned when a command or compensation name isn't
// registered on a mock service.
type UnknownCommandError struct {
	Service string
	Command string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("%s: unknown command %q", e.Service, e.Command)
}
