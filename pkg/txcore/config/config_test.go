package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracseq/txcore/pkg/txcore/config"
)

// TestNew verifies Config creation from maps.
func TestNew(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{"nil map", nil},
		{"empty map", map[string]any{}},
		{"with values", map[string]any{"key": "value"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(tt.data)
			assert.NotNil(t, cfg.Raw())
		})
	}
}

// TestString verifies string extraction with defaults.
func TestString(t *testing.T) {
	tests := []struct {
		name       string
		data       map[string]any
		key        string
		defaultVal string
		want       string
	}{
		{"key exists", map[string]any{"name": "alice"}, "name", "default", "alice"},
		{"key missing", map[string]any{"other": "value"}, "name", "default", "default"},
		{"wrong type int", map[string]any{"name": 123}, "name", "default", "default"},
		{"nil map", nil, "name", "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(tt.data)
			got := cfg.String(tt.key, tt.defaultVal)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestDuration verifies duration extraction with various input types, the
// same vocabulary circuitbreaker.Config and eventbus.LocalBusConfig tuning
// values are loaded through in cmd/txcore-demo.
func TestDuration(t *testing.T) {
	tests := []struct {
		name       string
		data       map[string]any
		key        string
		defaultVal time.Duration
		want       time.Duration
	}{
		{"string duration", map[string]any{"timeout": "30s"}, "timeout", 10 * time.Second, 30 * time.Second},
		{"int seconds", map[string]any{"timeout": 60}, "timeout", 10 * time.Second, 60 * time.Second},
		{"time.Duration directly", map[string]any{"timeout": 5 * time.Minute}, "timeout", 10 * time.Second, 5 * time.Minute},
		{"key missing", map[string]any{"other": "value"}, "timeout", 10 * time.Second, 10 * time.Second},
		{"invalid string", map[string]any{"timeout": "invalid"}, "timeout", 10 * time.Second, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(tt.data)
			got := cfg.Duration(tt.key, tt.defaultVal)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestInt verifies integer extraction with type coercion.
func TestInt(t *testing.T) {
	tests := []struct {
		name       string
		data       map[string]any
		key        string
		defaultVal int
		want       int
	}{
		{"int value", map[string]any{"count": 42}, "count", 0, 42},
		{"float64 whole", map[string]any{"count": 50.0}, "count", 0, 50},
		{"key missing", map[string]any{"other": 1}, "count", 99, 99},
		{"wrong type string", map[string]any{"count": "42"}, "count", 99, 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(tt.data)
			got := cfg.Int(tt.key, tt.defaultVal)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestAny verifies raw value extraction, including the nested-section
// pattern loadBreakerConfig/loadBusConfig use to pull a sub-map out before
// wrapping it in a second Config.
func TestAny(t *testing.T) {
	data := map[string]any{
		"circuit_breaker": map[string]any{"failure_threshold": 7},
	}
	cfg := config.New(data)

	section, ok := cfg.Any("circuit_breaker", nil).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 7, config.New(section).Int("failure_threshold", 0))

	assert.Nil(t, cfg.Any("missing_section", nil))
}

// TestFromYAML verifies YAML parsing, including the nested section shape
// used by cmd/txcore-demo/config.yaml.
func TestFromYAML(t *testing.T) {
	yamlContent := `
circuit_breaker:
  failure_threshold: 3
  recovery_timeout: 15s
event_bus:
  shards_per_group: 4
  queue_size: 128
`
	cfg, err := config.FromYAML([]byte(yamlContent))
	require.NoError(t, err)

	breaker, ok := cfg.Any("circuit_breaker", nil).(map[string]any)
	require.True(t, ok)
	breakerCfg := config.New(breaker)
	assert.Equal(t, 3, breakerCfg.Int("failure_threshold", 0))
	assert.Equal(t, 15*time.Second, breakerCfg.Duration("recovery_timeout", 0))

	bus, ok := cfg.Any("event_bus", nil).(map[string]any)
	require.True(t, ok)
	busCfg := config.New(bus)
	assert.Equal(t, 4, busCfg.Int("shards_per_group", 0))
	assert.Equal(t, 128, busCfg.Int("queue_size", 0))
}

// TestFromFile verifies file loading with extension detection against the
// same YAML shape cmd/txcore-demo/config.yaml ships.
func TestFromFile(t *testing.T) {
	tmpDir := t.TempDir()

	yamlPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("circuit_breaker:\n  failure_threshold: 9\n"), 0o644))

	txtPath := filepath.Join(tmpDir, "config.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("content"), 0o644))

	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	breaker, ok := cfg.Any("circuit_breaker", nil).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 9, config.New(breaker).Int("failure_threshold", 0))

	_, err = config.FromFile(txtPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config file extension")

	_, err = config.FromFile(filepath.Join(tmpDir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}
