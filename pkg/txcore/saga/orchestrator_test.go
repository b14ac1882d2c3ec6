package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracseq/txcore/pkg/txcore/circuitbreaker"
	"github.com/tracseq/txcore/pkg/txcore/txerr"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *MemoryStore, *HandlerRegistry) {
	t.Helper()
	store := NewMemoryStore()
	handlers := NewHandlerRegistry()
	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig, nil, nil)
	orch := NewOrchestrator(store, handlers, breakers, WithMaxConcurrentSteps(4))
	return orch, store, handlers
}

func waitForTerminal(t *testing.T, orch *Orchestrator, sagaID string, timeout time.Duration) *Execution {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		exec, err := orch.Get(context.Background(), sagaID)
		require.NoError(t, err)
		if exec.Status.Terminal() {
			return exec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("saga %s did not reach a terminal state within %s", sagaID, timeout)
	return nil
}

func linearDefinition(sagaType string) *Definition {
	return &Definition{
		SagaType: sagaType,
		Steps: []Step{
			{Name: "validate", Service: "validation", Command: "Validate", CompensationCommand: "RevertValidation", Retryable: true},
			{Name: "store", Service: "storage", Command: "AllocateStorage", CompensationCommand: "DeleteSample", Retryable: true, DependsOn: []string{"validate"}},
			{Name: "notify", Service: "notification", Command: "Notify", DependsOn: []string{"store"}},
		},
		Timeout:     2 * time.Second,
		RetryPolicy: RetryPolicy{MaxRetries: 3, BaseBackoff: 5 * time.Millisecond, Exponential: true},
	}
}

func TestOrchestrator_HappyPathCompletesAllSteps(t *testing.T) {
	orch, _, handlers := newTestOrchestrator(t)
	def := linearDefinition("sample_processing")
	require.NoError(t, orch.RegisterDefinition(def))

	handlers.Register("validation", "Validate", StepHandlerFunc{
		ExecuteFunc: func(ctx context.Context, _ map[string]any, _ string) (any, error) { return "validated", nil },
	})
	handlers.Register("storage", "AllocateStorage", StepHandlerFunc{
		ExecuteFunc: func(ctx context.Context, _ map[string]any, _ string) (any, error) { return "loc-1", nil },
	})
	handlers.Register("notification", "Notify", StepHandlerFunc{
		ExecuteFunc: func(ctx context.Context, _ map[string]any, _ string) (any, error) { return nil, nil },
	})

	exec, err := orch.Start(context.Background(), "sample_processing", map[string]any{"sample_id": "S1"}, "corr-1")
	require.NoError(t, err)

	final := waitForTerminal(t, orch, exec.SagaID, time.Second)
	assert.Equal(t, StatusCompleted, final.Status)
	for _, s := range final.Steps {
		assert.Equal(t, StatusCompleted, s.Status)
	}
}

func TestOrchestrator_FailureCompensatesInReverseCompletionOrder(t *testing.T) {
	orch, _, handlers := newTestOrchestrator(t)
	def := linearDefinition("sample_processing_fail")
	require.NoError(t, orch.RegisterDefinition(def))

	var mu sync.Mutex
	var compensated []string

	handlers.Register("validation", "Validate", StepHandlerFunc{
		ExecuteFunc: func(ctx context.Context, _ map[string]any, _ string) (any, error) { return "validated", nil },
		CompensateFunc: func(ctx context.Context, _ map[string]any, _ string) error {
			mu.Lock()
			compensated = append(compensated, "validate")
			mu.Unlock()
			return nil
		},
	})
	handlers.Register("storage", "AllocateStorage", StepHandlerFunc{
		ExecuteFunc: func(ctx context.Context, _ map[string]any, _ string) (any, error) {
			return nil, errors.New("disk full")
		},
		CompensateFunc: func(ctx context.Context, _ map[string]any, _ string) error {
			mu.Lock()
			compensated = append(compensated, "store")
			mu.Unlock()
			return nil
		},
	})
	handlers.Register("notification", "Notify", StepHandlerFunc{
		ExecuteFunc: func(ctx context.Context, _ map[string]any, _ string) (any, error) { return nil, nil },
	})

	exec, err := orch.Start(context.Background(), "sample_processing_fail", nil, "corr-2")
	require.NoError(t, err)

	final := waitForTerminal(t, orch, exec.SagaID, time.Second)
	assert.Equal(t, StatusCompensated, final.Status)
	assert.Equal(t, StatusCompensated, final.Steps["validate"].Status)
	// storage itself never completed, so it is not compensated; nothing to
	// reverse for it. Only "validate" (the sole previously-Completed step)
	// is compensated.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"validate"}, compensated)
}

func TestOrchestrator_NonRetryableStepFailsImmediately(t *testing.T) {
	orch, _, handlers := newTestOrchestrator(t)
	def := &Definition{
		SagaType: "single_step",
		Steps: []Step{
			{Name: "only", Service: "svc", Command: "Do", Retryable: false},
		},
		RetryPolicy: DefaultRetryPolicy,
	}
	require.NoError(t, orch.RegisterDefinition(def))

	var calls int
	handlers.Register("svc", "Do", StepHandlerFunc{
		ExecuteFunc: func(ctx context.Context, _ map[string]any, _ string) (any, error) {
			calls++
			return nil, errors.New("permanent failure")
		},
	})

	exec, err := orch.Start(context.Background(), "single_step", nil, "corr-3")
	require.NoError(t, err)

	final := waitForTerminal(t, orch, exec.SagaID, time.Second)
	assert.Equal(t, StatusCompensated, final.Status)
	assert.Equal(t, 1, calls)
}

func TestOrchestrator_RetryableStepSucceedsAfterTransientFailures(t *testing.T) {
	orch, _, handlers := newTestOrchestrator(t)
	def := &Definition{
		SagaType: "flaky",
		Steps: []Step{
			{Name: "only", Service: "svc", Command: "Do", Retryable: true},
		},
		RetryPolicy: RetryPolicy{MaxRetries: 5, BaseBackoff: time.Millisecond, Exponential: false},
	}
	require.NoError(t, orch.RegisterDefinition(def))

	var mu sync.Mutex
	attempts := 0
	handlers.Register("svc", "Do", StepHandlerFunc{
		ExecuteFunc: func(ctx context.Context, _ map[string]any, _ string) (any, error) {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n < 3 {
				return nil, &txerr.EventStoreError{Op: "call", Err: errors.New("transient blip")}
			}
			return "ok", nil
		},
	})

	exec, err := orch.Start(context.Background(), "flaky", nil, "corr-4")
	require.NoError(t, err)

	final := waitForTerminal(t, orch, exec.SagaID, time.Second)
	assert.Equal(t, StatusCompleted, final.Status)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestOrchestrator_CompensationFailureHaltsAndSignalsOperator(t *testing.T) {
	orch, _, handlers := newTestOrchestrator(t)
	def := linearDefinition("compensation_failure")
	require.NoError(t, orch.RegisterDefinition(def))

	handlers.Register("validation", "Validate", StepHandlerFunc{
		ExecuteFunc: func(ctx context.Context, _ map[string]any, _ string) (any, error) { return "validated", nil },
		CompensateFunc: func(ctx context.Context, _ map[string]any, _ string) error {
			return errors.New("compensation backend unreachable")
		},
	})
	handlers.Register("storage", "AllocateStorage", StepHandlerFunc{
		ExecuteFunc: func(ctx context.Context, _ map[string]any, _ string) (any, error) {
			return nil, errors.New("disk full")
		},
	})
	handlers.Register("notification", "Notify", StepHandlerFunc{
		ExecuteFunc: func(ctx context.Context, _ map[string]any, _ string) (any, error) { return nil, nil },
	})

	signals := orch.Signals().Subscribe(1)

	exec, err := orch.Start(context.Background(), "compensation_failure", nil, "corr-5")
	require.NoError(t, err)

	final := waitForTerminal(t, orch, exec.SagaID, time.Second)
	assert.Equal(t, StatusCompensationFailed, final.Status)

	select {
	case sig := <-signals:
		assert.Equal(t, exec.SagaID, sig.SagaID)
		assert.Equal(t, "store", sig.RootCauseStep)
	case <-time.After(time.Second):
		t.Fatal("expected an operator signal on compensation failure")
	}
}

func TestOrchestrator_SagaTimeoutCompensatesCompletedStepsAndEndsTimedOut(t *testing.T) {
	orch, _, handlers := newTestOrchestrator(t)
	def := &Definition{
		SagaType: "slow_processing",
		Steps: []Step{
			{Name: "validate", Service: "validation", Command: "Validate", CompensationCommand: "RevertValidation", Retryable: true},
			{Name: "store", Service: "storage", Command: "AllocateStorage", DependsOn: []string{"validate"}},
		},
		Timeout:     40 * time.Millisecond,
		RetryPolicy: RetryPolicy{MaxRetries: 3, BaseBackoff: 5 * time.Millisecond, Exponential: true},
	}
	require.NoError(t, orch.RegisterDefinition(def))

	var mu sync.Mutex
	var compensated []string
	var storeCalled bool

	handlers.Register("validation", "Validate", StepHandlerFunc{
		ExecuteFunc: func(ctx context.Context, _ map[string]any, _ string) (any, error) {
			time.Sleep(80 * time.Millisecond)
			return "validated", nil
		},
		CompensateFunc: func(ctx context.Context, _ map[string]any, _ string) error {
			mu.Lock()
			compensated = append(compensated, "validate")
			mu.Unlock()
			return nil
		},
	})
	handlers.Register("storage", "AllocateStorage", StepHandlerFunc{
		ExecuteFunc: func(ctx context.Context, _ map[string]any, _ string) (any, error) {
			mu.Lock()
			storeCalled = true
			mu.Unlock()
			return "loc-1", nil
		},
	})

	exec, err := orch.Start(context.Background(), "slow_processing", nil, "corr-timeout")
	require.NoError(t, err)

	final := waitForTerminal(t, orch, exec.SagaID, time.Second)

	// The saga-level timeout fires between waves, before "store" ever runs:
	// the terminal status is TimedOut, not Compensated, even though the
	// completed "validate" step was rolled back exactly as it would be for
	// an ordinary step failure.
	assert.Equal(t, StatusTimedOut, final.Status)
	assert.Equal(t, "timeout", final.ErrorCategory)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"validate"}, compensated)
	assert.False(t, storeCalled)
}

func TestOrchestrator_RecoverAllResumesNonTerminalSagas(t *testing.T) {
	store := NewMemoryStore()
	handlers := NewHandlerRegistry()
	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig, nil, nil)
	def := linearDefinition("resumable")

	// Simulate a crash: persist a saga with one step already Completed.
	exec := NewExecution("saga-resume-1", def, nil, "corr-6")
	exec.Steps["validate"].Status = StatusCompleted
	exec.Steps["validate"].CompletedSeq = 1
	require.NoError(t, store.Create(context.Background(), exec))

	orch := NewOrchestrator(store, handlers, breakers)
	require.NoError(t, orch.RegisterDefinition(def))

	var storeCalled, notifyCalled bool
	var mu sync.Mutex
	handlers.Register("validation", "Validate", StepHandlerFunc{
		ExecuteFunc: func(ctx context.Context, _ map[string]any, _ string) (any, error) {
			t.Fatal("validate should not re-run: it was already Completed before recovery")
			return nil, nil
		},
	})
	handlers.Register("storage", "AllocateStorage", StepHandlerFunc{
		ExecuteFunc: func(ctx context.Context, _ map[string]any, _ string) (any, error) {
			mu.Lock()
			storeCalled = true
			mu.Unlock()
			return "loc-1", nil
		},
	})
	handlers.Register("notification", "Notify", StepHandlerFunc{
		ExecuteFunc: func(ctx context.Context, _ map[string]any, _ string) (any, error) {
			mu.Lock()
			notifyCalled = true
			mu.Unlock()
			return nil, nil
		},
	})

	require.NoError(t, orch.RecoverAll(context.Background()))

	final := waitForTerminal(t, orch, "saga-resume-1", time.Second)
	assert.Equal(t, StatusCompleted, final.Status)
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, storeCalled)
	assert.True(t, notifyCalled)
}
