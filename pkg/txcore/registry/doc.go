// Package registry provides a generic thread-safe registry for values
// indexed by key, built on sync.RWMutex for read-heavy workloads.
//
// txcore uses one Registry instance per process-wide shared table that the
// design explicitly calls out as needing fine-grained locking rather than an
// ambient global: the circuitbreaker.Manager's per-service breakers, the
// saga package's per-saga_type Definition table, and the saga
// HandlerRegistry's (service, command) step handlers all sit on top of
// Registry[K, V]. The event bus keeps its subscriptions in its own map.
//
// GetOrCreate is the idiom used for breaker lookup: a breaker is created on
// first reference and returned unchanged thereafter, atomically even under
// concurrent access, matching the "idempotent registration... no implicit
// creation on retrieval" requirement for one table (saga definitions use
// plain Register since runtime creation is never allowed there) while
// providing lazy creation for the other (breakers are created on first use
// per service name).
package registry
