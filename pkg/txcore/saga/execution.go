package saga

import (
	"sync"
	"time"
)

// Status is a saga or step's lifecycle state, matching spec section 3.4.
type Status string

const (
	StatusPending             Status = "pending"
	StatusRunning             Status = "running"
	StatusCompleted           Status = "completed"
	StatusFailed              Status = "failed"
	StatusCompensating        Status = "compensating"
	StatusCompensated         Status = "compensated"
	StatusSkipped             Status = "skipped"
	StatusTimedOut            Status = "timed_out"
	StatusCompensationFailed  Status = "compensation_failed"
)

// Terminal reports whether status is one a saga never transitions out of.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompensated, StatusFailed, StatusTimedOut, StatusCompensationFailed:
		return true
	default:
		return false
	}
}

// StepExecution tracks one step's runtime state within a saga Execution.
type StepExecution struct {
	StepName     string     `json:"step_name"`
	Status       Status     `json:"status"`
	Output       any        `json:"output,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at,omitempty"`
	FinishedAt   time.Time  `json:"finished_at,omitempty"`
	AttemptCount int        `json:"attempt_count"`

	// CompletedSeq records the order in which steps reach Completed, used to
	// compute the reverse-of-completion compensation order independent of
	// DAG declaration order (spec section 4.5.5).
	CompletedSeq int `json:"completed_seq,omitempty"`
}

// Execution is a running or terminated saga instance, matching spec section
// 3.4's Saga Instance.
type Execution struct {
	SagaID        string                   `json:"saga_id"`
	SagaType      string                   `json:"saga_type"`
	Status        Status                   `json:"saga_state"`
	Steps         map[string]*StepExecution `json:"step_states"`
	Context       map[string]any           `json:"context"`
	RetryCounters map[string]int           `json:"retry_counters"`
	CorrelationID string                   `json:"correlation_id"`

	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// FailedStep identifies, for a terminal non-success saga, which step's
	// error triggered the terminal transition, and ErrorCategory records how
	// that error was categorized; the step name is also carried as
	// root_cause_step on saga.compensation_failed / saga.compensated events
	// (see DESIGN.md).
	FailedStep    string `json:"failed_step,omitempty"`
	ErrorCategory string `json:"error_category,omitempty"`

	mu sync.Mutex
}

// NewExecution instantiates a fresh saga instance with every step Pending.
func NewExecution(sagaID string, def *Definition, initialContext map[string]any, correlationID string) *Execution {
	steps := make(map[string]*StepExecution, len(def.Steps))
	for _, s := range def.Steps {
		steps[s.Name] = &StepExecution{StepName: s.Name, Status: StatusPending}
	}
	ctx := make(map[string]any, len(initialContext))
	for k, v := range initialContext {
		ctx[k] = v
	}
	now := time.Now().UTC()
	return &Execution{
		SagaID:        sagaID,
		SagaType:      def.SagaType,
		Status:        StatusRunning,
		Steps:         steps,
		Context:       ctx,
		RetryCounters: make(map[string]int),
		CorrelationID: correlationID,
		StartedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep-enough copy safe to hand to callers outside the
// orchestrator's lock.
func (e *Execution) Clone() *Execution {
	e.mu.Lock()
	defer e.mu.Unlock()

	steps := make(map[string]*StepExecution, len(e.Steps))
	for name, s := range e.Steps {
		cp := *s
		steps[name] = &cp
	}
	ctx := make(map[string]any, len(e.Context))
	for k, v := range e.Context {
		ctx[k] = v
	}
	retries := make(map[string]int, len(e.RetryCounters))
	for k, v := range e.RetryCounters {
		retries[k] = v
	}

	return &Execution{
		SagaID:         e.SagaID,
		SagaType:       e.SagaType,
		Status:         e.Status,
		Steps:          steps,
		Context:        ctx,
		RetryCounters:  retries,
		CorrelationID:  e.CorrelationID,
		StartedAt:      e.StartedAt,
		UpdatedAt:      e.UpdatedAt,
		CompletedAt:    e.CompletedAt,
		FailedStep:    e.FailedStep,
		ErrorCategory: e.ErrorCategory,
	}
}

// markCompleted records a step's Completed transition and assigns it the
// next completion sequence number, used later to compensate in reverse
// completion order. The sequence counter is derived from the highest
// CompletedSeq already recorded on any step rather than kept as separate
// state, so it survives a JSON round-trip through Store without a
// dedicated (and easily-forgotten-to-serialize) counter field.
func (e *Execution) markCompleted(stepName string, output any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	step := e.Steps[stepName]
	step.Status = StatusCompleted
	step.Output = output
	step.FinishedAt = time.Now().UTC()

	max := 0
	for _, s := range e.Steps {
		if s.CompletedSeq > max {
			max = s.CompletedSeq
		}
	}
	step.CompletedSeq = max + 1
	e.UpdatedAt = time.Now().UTC()
}

// completedStepsReverseOrder returns step names currently Completed, most
// recently completed first.
func (e *Execution) completedStepsReverseOrder() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	type entry struct {
		name string
		seq  int
	}
	var entries []entry
	for name, s := range e.Steps {
		if s.Status == StatusCompleted {
			entries = append(entries, entry{name, s.CompletedSeq})
		}
	}
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].seq > entries[i].seq {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}
