package saga

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDef() *Definition {
	return &Definition{
		SagaType: "sample",
		Steps: []Step{
			{Name: "a", Service: "svc", Command: "Do"},
			{Name: "b", Service: "svc", Command: "Do", DependsOn: []string{"a"}},
			{Name: "c", Service: "svc", Command: "Do", DependsOn: []string{"b"}},
		},
	}
}

func TestNewExecution_InitializesEveryStepPending(t *testing.T) {
	exec := NewExecution("saga-1", sampleDef(), map[string]any{"k": "v"}, "corr-1")
	require.Len(t, exec.Steps, 3)
	for _, s := range exec.Steps {
		assert.Equal(t, StatusPending, s.Status)
	}
	assert.Equal(t, StatusRunning, exec.Status)
	assert.Equal(t, "v", exec.Context["k"])
}

func TestExecution_CompletedStepsReverseOrder(t *testing.T) {
	exec := NewExecution("saga-2", sampleDef(), nil, "corr-2")
	exec.markCompleted("a", "out-a")
	exec.markCompleted("b", "out-b")
	exec.markCompleted("c", "out-c")

	assert.Equal(t, []string{"c", "b", "a"}, exec.completedStepsReverseOrder())
}

func TestExecution_CompletedStepsReverseOrderIgnoresNonCompleted(t *testing.T) {
	exec := NewExecution("saga-3", sampleDef(), nil, "corr-3")
	exec.markCompleted("a", "out-a")
	exec.Steps["b"].Status = StatusFailed

	assert.Equal(t, []string{"a"}, exec.completedStepsReverseOrder())
}

func TestExecution_CloneIsIndependentOfOriginal(t *testing.T) {
	exec := NewExecution("saga-4", sampleDef(), map[string]any{"k": 1}, "corr-4")
	clone := exec.Clone()
	clone.Context["k"] = 2
	clone.Steps["a"].Status = StatusCompleted

	assert.Equal(t, 1, exec.Context["k"])
	assert.Equal(t, StatusPending, exec.Steps["a"].Status)
}

func TestStatus_Terminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusCompensated, StatusFailed, StatusTimedOut, StatusCompensationFailed}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}
	nonTerminal := []Status{StatusPending, StatusRunning, StatusCompensating, StatusSkipped}
	for _, s := range nonTerminal {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}
