package circuitbreaker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracseq/txcore/pkg/txcore/observability"
)

func TestManager_GetOrCreateIsIdempotent(t *testing.T) {
	m := NewManager(DefaultConfig, nil, observability.NoopMetrics{})

	b1 := m.GetOrCreate("sample-service")
	b2 := m.GetOrCreate("sample-service")
	assert.Same(t, b1, b2)
}

func TestManager_RegisterDoesNotOverwrite(t *testing.T) {
	m := NewManager(DefaultConfig, nil, observability.NoopMetrics{})

	cfgA := DefaultConfig
	cfgA.FailureThreshold = 1
	cfgB := DefaultConfig
	cfgB.FailureThreshold = 99

	first := m.Register("storage-service", cfgA)
	second := m.Register("storage-service", cfgB)
	assert.Same(t, first, second)
	assert.Equal(t, uint32(1), second.cfg.FailureThreshold)
}

func TestManager_GetDoesNotCreate(t *testing.T) {
	m := NewManager(DefaultConfig, nil, observability.NoopMetrics{})
	_, ok := m.Get("never-registered")
	assert.False(t, ok)
}

func TestManager_ResetAllPreservesConfig(t *testing.T) {
	m := NewManager(DefaultConfig, nil, observability.NoopMetrics{})
	cfg := DefaultConfig
	cfg.FailureThreshold = 7
	b := m.Register("sequencing-service", cfg)

	m.ResetAll()

	after, ok := m.Get("sequencing-service")
	require.True(t, ok)
	assert.NotSame(t, b, after)
	assert.Equal(t, uint32(7), after.cfg.FailureThreshold)
}

func TestManager_Services(t *testing.T) {
	m := NewManager(DefaultConfig, nil, observability.NoopMetrics{})
	m.Register("a", DefaultConfig)
	m.Register("b", DefaultConfig)
	assert.ElementsMatch(t, []string{"a", "b"}, m.Services())
}
