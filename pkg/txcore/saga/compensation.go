package saga

import (
	"context"
	"time"

	"github.com/tracseq/txcore/pkg/txcore/observability"
	"github.com/tracseq/txcore/pkg/txcore/txerr"
)

// triggerCompensation implements spec section 4.5.5 exactly: set the saga
// Compensating, walk previously-Completed steps in reverse order of
// completion (not declaration order — Execution.completedStepsReverseOrder
// tracks this independent of the DAG so a fork/join scheduler still unwinds
// correctly), invoke each step's compensation command with the same retry
// policy as the forward path, and on exhausted retries halt the saga in
// CompensationFailed for operator intervention.
//
// onSuccess is the terminal status applied once every completed step has
// been compensated: ordinary step-failure-triggered rollback lands in
// StatusCompensated, but timeoutSaga passes StatusTimedOut so a saga that
// rolled back because it hit its saga-level timeout remains distinguishable
// from one that rolled back because a step failed (spec section 3.4/8
// scenario 6).
func (o *Orchestrator) triggerCompensation(ctx context.Context, def *Definition, exec *Execution, failedStep string, cause error, onSuccess Status) {
	exec.mu.Lock()
	exec.Status = StatusCompensating
	exec.FailedStep = failedStep
	if _, ok := cause.(*txerr.SagaTimeoutError); ok {
		exec.ErrorCategory = "timeout"
	} else {
		exec.ErrorCategory = txerr.Categorize(cause).String()
	}
	exec.mu.Unlock()
	o.persist(ctx, exec)
	o.emit(ctx, "saga.compensating", exec, map[string]any{"failed_step": failedStep, "cause": cause.Error()})

	stepByName := make(map[string]*Step, len(def.Steps))
	for i := range def.Steps {
		stepByName[def.Steps[i].Name] = &def.Steps[i]
	}

	for _, stepName := range exec.completedStepsReverseOrder() {
		step := stepByName[stepName]
		if step == nil || step.CompensationCommand == "" {
			o.markStepSkippedCompensation(exec, stepName)
			continue
		}

		if err := o.compensateStepWithRetry(ctx, def, exec, step); err != nil {
			o.markCompensationFailed(ctx, exec, stepName, err)
			o.signals.Publish(OperatorSignal{
				SagaID:        exec.SagaID,
				SagaType:      exec.SagaType,
				StepName:      stepName,
				RootCauseStep: failedStep,
				Reason:        err.Error(),
				OccurredAt:    time.Now().UTC(),
			})
			o.emit(ctx, "saga.compensation_failed", exec, map[string]any{
				"step":            stepName,
				"root_cause_step": failedStep,
				"error":           err.Error(),
			})
			return
		}
	}

	exec.mu.Lock()
	exec.Status = onSuccess
	now := time.Now().UTC()
	exec.CompletedAt = &now
	exec.UpdatedAt = now
	exec.mu.Unlock()
	o.persist(ctx, exec)
	observability.LogSagaComplete(o.logger, exec.SagaID, time.Since(exec.StartedAt).Seconds()*1000)
	o.metrics.RecordSagaRun(ctx, exec.SagaType, false, time.Since(exec.StartedAt))
	o.emit(ctx, "saga.compensated", exec, map[string]any{"root_cause_step": failedStep, "final_status": string(onSuccess)})
}

// compensateStepWithRetry retries a single step's compensation using the
// saga's retry policy, mirroring executeStepWithRetry's backoff shape.
func (o *Orchestrator) compensateStepWithRetry(ctx context.Context, def *Definition, exec *Execution, step *Step) error {
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
		observability.LogCompensationStart(o.logger, exec.SagaID, step.Name)
		idempotencyKey := idempotencyKeyFor(exec.SagaID, "compensate:"+step.Name, attempt)
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		execErr := breaker.Execute(stepCtx, func(ctx context.Context) error {
			return handler.Compensate(ctx, o.snapshotContext(exec), idempotencyKey)
		})
		cancel()

		if execErr == nil {
			o.markStepCompensated(exec, step.Name)
			return nil
		}

		observability.LogCompensationFailed(o.logger, exec.SagaID, step.Name, execErr)

		attempt++
		if attempt >= def.RetryPolicy.MaxRetries {
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

func (o *Orchestrator) markStepCompensated(exec *Execution, stepName string) {
	exec.mu.Lock()
	if s := exec.Steps[stepName]; s != nil {
		s.Status = StatusCompensated
		s.FinishedAt = time.Now().UTC()
	}
	exec.mu.Unlock()
}

func (o *Orchestrator) markStepSkippedCompensation(exec *Execution, stepName string) {
	// No compensation command configured: the step stays Completed, per the
	// invariant that a Compensated saga's steps are either Compensated or,
	// for steps with no compensation, still Completed with a logged skip.
	if o.logger != nil {
		o.logger.Info("step has no compensation command, skipping", "saga_id", exec.SagaID, "step", stepName)
	}
}

func (o *Orchestrator) markCompensationFailed(ctx context.Context, exec *Execution, stepName string, err error) {
	exec.mu.Lock()
	exec.Status = StatusCompensationFailed
	if s := exec.Steps[stepName]; s != nil {
		s.Status = StatusCompensationFailed
		s.Error = err.Error()
		s.FinishedAt = time.Now().UTC()
	}
	now := time.Now().UTC()
	exec.CompletedAt = &now
	exec.UpdatedAt = now
	exec.mu.Unlock()
	o.persist(ctx, exec)
	observability.LogSagaFailed(o.logger, exec.SagaID, err, string(StatusCompensationFailed))
	o.metrics.RecordSagaRun(ctx, exec.SagaType, false, time.Since(exec.StartedAt))
}
