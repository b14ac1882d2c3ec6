package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracseq/txcore/pkg/txcore/circuitbreaker"
	"github.com/tracseq/txcore/pkg/txcore/eventbus"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadBreakerConfig_EmptyPathReturnsDefaults(t *testing.T) {
	cfg := loadBreakerConfig("", silentLogger())
	assert.Equal(t, circuitbreaker.DefaultConfig, cfg)
}

func TestLoadBreakerConfig_ReadsOverridesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
circuit_breaker:
  failure_threshold: 9
  recovery_timeout: 15s
  request_timeout: 2s
  max_concurrent_requests: 5
  success_threshold: 1
`), 0o644))

	cfg := loadBreakerConfig(path, silentLogger())
	assert.Equal(t, uint32(9), cfg.FailureThreshold)
	assert.Equal(t, 15*time.Second, cfg.RecoveryTimeout)
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5, cfg.MaxConcurrentRequests)
	assert.Equal(t, uint32(1), cfg.SuccessThreshold)
}

func TestLoadBreakerConfig_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg := loadBreakerConfig(filepath.Join(t.TempDir(), "missing.yaml"), silentLogger())
	assert.Equal(t, circuitbreaker.DefaultConfig, cfg)
}

func TestLoadBusConfig_EmptyPathReturnsDefaults(t *testing.T) {
	cfg := loadBusConfig("", silentLogger())
	assert.Equal(t, eventbus.DefaultLocalBusConfig, cfg)
}

func TestLoadBusConfig_ReadsOverridesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
event_bus:
  shards_per_group: 2
  queue_size: 64
  dedupe_ttl: 1m
`), 0o644))

	cfg := loadBusConfig(path, silentLogger())
	assert.Equal(t, 2, cfg.ShardsPerGroup)
	assert.Equal(t, 64, cfg.QueueSize)
	assert.Equal(t, time.Minute, cfg.DedupeTTL)
}

// TestDemoConfigFile verifies the shipped config.yaml itself parses into the
// defaults it documents, so the file and the code it's read by never drift.
func TestDemoConfigFile(t *testing.T) {
	cfg := loadBreakerConfig("config.yaml", silentLogger())
	assert.Equal(t, circuitbreaker.DefaultConfig, cfg)

	busCfg := loadBusConfig("config.yaml", silentLogger())
	assert.Equal(t, eventbus.DefaultLocalBusConfig, busCfg)
}
