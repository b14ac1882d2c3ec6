package circuitbreaker

import (
	"context"
	"log/slog"

	"github.com/tracseq/txcore/pkg/txcore/observability"
	"github.com/tracseq/txcore/pkg/txcore/registry"
)

// Manager is the process-wide breaker registry: every call site looks up a
// service's breaker by name rather than constructing one itself, satisfying
// the design note that shared mutable state must be an explicitly
// constructed, injected component rather than an ambient global.
type Manager struct {
	breakers *registry.Registry[string, *Breaker]
	defaults Config
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
}

// NewManager creates a Manager. defaults is used by GetOrCreate for any
// service not explicitly Register-ed with its own Config.
func NewManager(defaults Config, logger *slog.Logger, metrics observability.MetricsRecorder) *Manager {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Manager{
		breakers: registry.New[string, *Breaker](),
		defaults: defaults,
		logger:   logger,
		metrics:  metrics,
	}
}

// Register idempotently creates the breaker for service with cfg if it does
// not already exist; it never replaces an existing breaker, matching the
// "idempotent registration" requirement — a second Register call for the
// same service is a no-op, not a reconfiguration.
func (m *Manager) Register(service string, cfg Config) *Breaker {
	return m.breakers.GetOrCreate(service, func() *Breaker {
		return m.newBreaker(service, cfg)
	})
}

// Get returns the breaker for service without creating one; callers that
// need best-effort lookup (e.g. diagnostics) use this instead of GetOrCreate.
func (m *Manager) Get(service string) (*Breaker, bool) {
	return m.breakers.Get(service)
}

// GetOrCreate returns the breaker for service, creating it with the
// manager's default config on first reference.
func (m *Manager) GetOrCreate(service string) *Breaker {
	return m.breakers.GetOrCreate(service, func() *Breaker {
		return m.newBreaker(service, m.defaults)
	})
}

func (m *Manager) newBreaker(service string, cfg Config) *Breaker {
	cfg.OnStateChange = func(svc string, from, to State) {
		observability.LogBreakerTrip(m.logger, svc, from.String(), to.String())
		m.metrics.RecordBreakerTrip(context.Background(), svc, to.String())
	}
	return New(service, cfg)
}

// ResetAll discards every registered breaker's state by replacing it with a
// fresh one constructed from the same config it was registered with. Used
// by tests and by operator tooling recovering from an incident.
func (m *Manager) ResetAll() {
	services := m.breakers.Keys()
	for _, svc := range services {
		if b, ok := m.breakers.Get(svc); ok {
			cfg := b.cfg
			m.breakers.Register(svc, m.newBreaker(svc, cfg))
		}
	}
}

// Services lists every registered breaker's service name.
func (m *Manager) Services() []string { return m.breakers.Keys() }
