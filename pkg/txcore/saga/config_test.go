package saga

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDefinitionsYAML = `
sagas:
  - saga_type: sample_processing
    timeout_seconds: 30
    retry_policy:
      max_retries: 3
      base_backoff_ms: 200
      exponential: true
    steps:
      - name: validate
        service: validation
        command: Validate
        compensation_command: RevertValidation
        retryable: true
      - name: store
        service: storage
        command: AllocateStorage
        compensation_command: DeleteSample
        retryable: true
        depends_on: [validate]
`

func TestParseDefinitions_ParsesWellFormedYAML(t *testing.T) {
	defs, err := ParseDefinitions([]byte(sampleDefinitionsYAML))
	require.NoError(t, err)
	require.Len(t, defs, 1)

	def := defs[0]
	assert.Equal(t, "sample_processing", def.SagaType)
	assert.Equal(t, 30*time.Second, def.Timeout)
	assert.Equal(t, 3, def.RetryPolicy.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, def.RetryPolicy.BaseBackoff)
	require.Len(t, def.Steps, 2)
	assert.Equal(t, []string{"validate"}, def.Steps[1].DependsOn)
}

func TestParseDefinitions_RejectsInvalidDAG(t *testing.T) {
	_, err := ParseDefinitions([]byte(`
sagas:
  - saga_type: broken
    steps:
      - name: a
        service: svc
        command: Do
        depends_on: [ghost]
`))
	assert.Error(t, err)
}
