package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tracseq/txcore/pkg/txcore/circuitbreaker"
	"github.com/tracseq/txcore/pkg/txcore/observability"
	"github.com/tracseq/txcore/pkg/txcore/registry"
	"github.com/tracseq/txcore/pkg/txcore/txerr"
)

// Orchestrator drives saga instances to a terminal state, generalized from
// pkg/flowgraph/saga/saga.go's linear Orchestrator: steps form a DAG via
// depends_on, independent steps in one wave run concurrently through the
// fork/join pattern adapted from pkg/flowgraph/execute_parallel.go, and
// compensation always unwinds in reverse completion order rather than
// reverse declaration order (spec section 4.5.5).
type Orchestrator struct {
	definitions *registry.Registry[string, *Definition]
	store       Store
	handlers    *HandlerRegistry
	breakers    *circuitbreaker.Manager
	signals     *OperatorSignalBus

	logger  *slog.Logger
	metrics observability.MetricsRecorder

	// MaxConcurrentSteps bounds how many steps within a single wave run at
	// once, mirroring the bounded semaphore in executeForkJoin.
	MaxConcurrentSteps int

	// EmitEvent is called for every saga transition (started,
	// step_completed, step_failed, compensating, compensated, failed,
	// timed_out) so a caller can publish onto the saga event topic (spec
	// section 4.5.8). Nil is a valid no-op.
	EmitEvent func(ctx context.Context, eventType string, exec *Execution, fields map[string]any)

	wg sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option              { return func(o *Orchestrator) { o.logger = logger } }
func WithMetrics(m observability.MetricsRecorder) Option { return func(o *Orchestrator) { o.metrics = m } }
func WithMaxConcurrentSteps(n int) Option                { return func(o *Orchestrator) { o.MaxConcurrentSteps = n } }
func WithEventEmitter(fn func(ctx context.Context, eventType string, exec *Execution, fields map[string]any)) Option {
	return func(o *Orchestrator) { o.EmitEvent = fn }
}

// NewOrchestrator wires a saga orchestrator over store, the step handler
// registry, and the circuit breaker manager every step routes through.
func NewOrchestrator(store Store, handlers *HandlerRegistry, breakers *circuitbreaker.Manager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		definitions:        registry.New[string, *Definition](),
		store:              store,
		handlers:           handlers,
		breakers:           breakers,
		signals:            NewOperatorSignalBus(),
		metrics:            observability.NoopMetrics{},
		MaxConcurrentSteps: 8,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Signals returns the operator-intervention signal bus.
func (o *Orchestrator) Signals() *OperatorSignalBus { return o.signals }

// RegisterDefinition adds a saga definition, validating its DAG.
func (o *Orchestrator) RegisterDefinition(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if o.definitions.Has(def.SagaType) {
		return fmt.Errorf("saga type %q already registered", def.SagaType)
	}
	o.definitions.Register(def.SagaType, def)
	return nil
}

// Start instantiates and persists a new saga instance, then schedules it
// asynchronously, returning immediately with the saga_id (spec section
// 4.5.2).
func (o *Orchestrator) Start(ctx context.Context, sagaType string, initialContext map[string]any, correlationID string) (*Execution, error) {
	def, ok := o.definitions.Get(sagaType)
	if !ok {
		return nil, fmt.Errorf("saga type %q not registered", sagaType)
	}

	sagaID := fmt.Sprintf("saga-%s", uuid.New().String())
	exec := NewExecution(sagaID, def, initialContext, correlationID)

	if err := o.store.Create(ctx, exec); err != nil {
		return nil, &txerr.EventStoreError{Op: "saga_create", Err: err}
	}

	observability.LogSagaStart(o.logger, sagaID, sagaType)
	o.emit(ctx, "saga.started", exec, nil)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(context.WithoutCancel(ctx), def, exec)
	}()

	return exec.Clone(), nil
}

// Wait blocks until every scheduling goroutine launched by this orchestrator
// has returned. Intended for tests and graceful shutdown.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Get returns a saga instance's current state.
func (o *Orchestrator) Get(ctx context.Context, sagaID string) (*Execution, error) {
	return o.store.Get(ctx, sagaID)
}

// RecoverAll enumerates every non-terminal saga in the store and resumes
// scheduling it, grounded on the teacher's Resume: list what's outstanding,
// load its last persisted state, and continue rather than restart from
// scratch. A saga that was Compensating when the process stopped resumes
// compensation directly; everything else re-enters the wave scheduler,
// which treats already-Completed steps as done and skips re-executing them.
func (o *Orchestrator) RecoverAll(ctx context.Context) error {
	execs, err := o.store.ListNonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("list non-terminal sagas: %w", err)
	}

	for _, exec := range execs {
		def, ok := o.definitions.Get(exec.SagaType)
		if !ok {
			if o.logger != nil {
				o.logger.Warn("no definition registered for recovered saga, skipping",
					slog.String("saga_id", exec.SagaID), slog.String("saga_type", exec.SagaType))
			}
			continue
		}

		exec, def := exec, def
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			recoverCtx := context.WithoutCancel(ctx)
			if exec.Status == StatusCompensating {
				onSuccess := StatusCompensated
				if exec.ErrorCategory == "timeout" {
					onSuccess = StatusTimedOut
				}
				o.triggerCompensation(recoverCtx, def, exec, exec.FailedStep, errors.New("resumed saga after restart"), onSuccess)
				return
			}
			o.run(recoverCtx, def, exec)
		}()
	}
	return nil
}

func (o *Orchestrator) emit(ctx context.Context, eventType string, exec *Execution, fields map[string]any) {
	if o.EmitEvent != nil {
		o.EmitEvent(ctx, eventType, exec.Clone(), fields)
	}
}

// run executes waves of the DAG until the saga reaches a terminal state.
func (o *Orchestrator) run(ctx context.Context, def *Definition, exec *Execution) {
	waves, err := topologicalOrder(def.Steps)
	if err != nil {
		// Already validated at registration; defensive only.
		o.failSaga(ctx, def, exec, "", err)
		return
	}

	stepByName := make(map[string]*Step, len(def.Steps))
	for i := range def.Steps {
		stepByName[def.Steps[i].Name] = &def.Steps[i]
	}

	for _, wave := range waves {
		if o.sagaTimedOut(def, exec) {
			o.timeoutSaga(ctx, def, exec)
			return
		}

		if exec.Status.Terminal() {
			return
		}

		if !o.runWave(ctx, def, exec, stepByName, wave) {
			// A step in this wave failed terminally; compensation already
			// triggered inside runWave.
			return
		}
	}

	o.completeSaga(ctx, exec)
}

// runWave executes every step in wave concurrently (fork/join, bounded by
// MaxConcurrentSteps) and reports whether the saga may proceed to the next
// wave.
type stepResult struct {
	step string
	err  error
}

func (o *Orchestrator) runWave(ctx context.Context, def *Definition, exec *Execution, stepByName map[string]*Step, wave []string) bool {
	sem := make(chan struct{}, o.MaxConcurrentSteps)
	var wg sync.WaitGroup
	results := make(chan stepResult, len(wave))

	for _, name := range wave {
		step := stepByName[name]
		wg.Add(1)
		go func(step *Step) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			err := o.executeStepWithRetry(ctx, def, exec, step)
			results <- stepResult{step: step.Name, err: err}
		}(step)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	var failedStep string
	for i := 0; i < len(wave); i++ {
		res := <-results
		if res.err != nil && firstErr == nil {
			firstErr = res.err
			failedStep = res.step
		}
	}

	if firstErr != nil {
		o.triggerCompensation(ctx, def, exec, failedStep, firstErr, StatusCompensated)
		return false
	}
	return true
}

// executeStepWithRetry runs one step through its circuit breaker, applying
// the retry policy from spec section 4.5.3.
func (o *Orchestrator) executeStepWithRetry(ctx context.Context, def *Definition, exec *Execution, step *Step) error {
	exec.mu.Lock()
	alreadyDone := exec.Steps[step.Name] != nil && exec.Steps[step.Name].Status == StatusCompleted
	exec.mu.Unlock()
	if alreadyDone {
		// Recovered saga: this step completed before the process restarted.
		return nil
	}

	handler, err := o.handlers.Resolve(step.Service, step.Command)
	if err != nil {
		return err
	}
	breaker := o.breakers.GetOrCreate(step.Service)

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = def.Timeout
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	attempt := 0
	for {
		if o.sagaTimedOut(def, exec) {
			return &txerr.SagaTimeoutError{SagaID: exec.SagaID}
		}

		o.markStepRunning(exec, step.Name, attempt)
		observability.LogStepStart(o.logger, exec.SagaID, step.Name)
		start := time.Now()

		idempotencyKey := idempotencyKeyFor(exec.SagaID, step.Name, attempt)
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		var output any
		execErr := breaker.Execute(stepCtx, func(ctx context.Context) error {
			out, err := handler.Execute(ctx, o.snapshotContext(exec), idempotencyKey)
			output = out
			return err
		})
		cancel()
		elapsed := time.Since(start)

		o.metrics.RecordStepExecution(ctx, def.SagaType, step.Name, elapsed, execErr)

		if execErr == nil {
			exec.markCompleted(step.Name, output)
			o.setContext(exec, step.Name, output)
			o.persist(ctx, exec)
			observability.LogStepComplete(o.logger, exec.SagaID, step.Name, float64(elapsed.Milliseconds()))
			o.emit(ctx, "saga.step_completed", exec, map[string]any{"step": step.Name})
			return nil
		}

		observability.LogStepError(o.logger, exec.SagaID, step.Name, execErr)
		o.emit(ctx, "saga.step_failed", exec, map[string]any{"step": step.Name, "error": execErr.Error(), "attempt": attempt})

		if !step.Retryable || !txerr.IsRetryable(execErr) {
			o.markStepFailed(exec, step.Name, execErr)
			return execErr
		}

		attempt++
		o.incrementRetry(exec, step.Name)
		if attempt >= def.RetryPolicy.MaxRetries {
			o.markStepFailed(exec, step.Name, execErr)
			return execErr
		}

		delay := backoffFor(def.RetryPolicy, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// idempotencyKeyFor derives the cross-service replay-safety key from
// (saga_id, step_name, attempt_count), per spec section 6.4. attempt_count
// is part of the key, so each retry sends a new key; a call repeated with
// the same attempt_count reuses its key, so a participating service can
// return its cached result instead of re-applying the effect.
func idempotencyKeyFor(sagaID, stepName string, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", sagaID, stepName, attempt)
}

func backoffFor(policy RetryPolicy, attempt int) time.Duration {
	if !policy.Exponential {
		return policy.BaseBackoff
	}
	return time.Duration(float64(policy.BaseBackoff) * math.Pow(2, float64(attempt)))
}

func (o *Orchestrator) snapshotContext(exec *Execution) map[string]any {
	clone := exec.Clone()
	return clone.Context
}

func (o *Orchestrator) setContext(exec *Execution, stepName string, output any) {
	exec.mu.Lock()
	exec.Context[stepName] = output
	exec.mu.Unlock()
}

func (o *Orchestrator) incrementRetry(exec *Execution, stepName string) {
	exec.mu.Lock()
	exec.RetryCounters[stepName]++
	exec.mu.Unlock()
}

func (o *Orchestrator) markStepRunning(exec *Execution, stepName string, attempt int) {
	exec.mu.Lock()
	if s := exec.Steps[stepName]; s != nil {
		s.Status = StatusRunning
		s.AttemptCount = attempt
		if s.StartedAt.IsZero() {
			s.StartedAt = time.Now().UTC()
		}
	}
	exec.mu.Unlock()
}

func (o *Orchestrator) markStepFailed(exec *Execution, stepName string, err error) {
	exec.mu.Lock()
	if s := exec.Steps[stepName]; s != nil {
		s.Status = StatusFailed
		s.Error = err.Error()
		s.FinishedAt = time.Now().UTC()
	}
	exec.mu.Unlock()
}

func (o *Orchestrator) persist(ctx context.Context, exec *Execution) {
	if err := o.store.Update(ctx, exec); err != nil {
		if o.logger != nil {
			o.logger.Error("failed to persist saga state", slog.String("saga_id", exec.SagaID), slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) sagaTimedOut(def *Definition, exec *Execution) bool {
	if def.Timeout <= 0 {
		return false
	}
	return time.Since(exec.StartedAt) >= def.Timeout
}

func (o *Orchestrator) completeSaga(ctx context.Context, exec *Execution) {
	exec.mu.Lock()
	exec.Status = StatusCompleted
	now := time.Now().UTC()
	exec.CompletedAt = &now
	exec.UpdatedAt = now
	exec.mu.Unlock()

	o.persist(ctx, exec)
	observability.LogSagaComplete(o.logger, exec.SagaID, time.Since(exec.StartedAt).Seconds()*1000)
	o.metrics.RecordSagaRun(ctx, exec.SagaType, true, time.Since(exec.StartedAt))
	o.emit(ctx, "saga.completed", exec, nil)
}

func (o *Orchestrator) timeoutSaga(ctx context.Context, def *Definition, exec *Execution) {
	exec.mu.Lock()
	exec.FailedStep = ""
	exec.ErrorCategory = "timeout"
	exec.mu.Unlock()
	o.emit(ctx, "saga.timed_out", exec, nil)
	o.triggerCompensation(ctx, def, exec, "", &txerr.SagaTimeoutError{SagaID: exec.SagaID}, StatusTimedOut)
}

func (o *Orchestrator) failSaga(ctx context.Context, def *Definition, exec *Execution, failedStep string, err error) {
	exec.mu.Lock()
	exec.Status = StatusFailed
	exec.FailedStep = failedStep
	exec.ErrorCategory = txerr.Categorize(err).String()
	now := time.Now().UTC()
	exec.CompletedAt = &now
	exec.UpdatedAt = now
	exec.mu.Unlock()

	o.persist(ctx, exec)
	observability.LogSagaFailed(o.logger, exec.SagaID, err, string(StatusFailed))
	o.metrics.RecordSagaRun(ctx, exec.SagaType, false, time.Since(exec.StartedAt))
	o.emit(ctx, "saga.failed", exec, map[string]any{"failed_step": failedStep, "root_cause_step": failedStep})
}
