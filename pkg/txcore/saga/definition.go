// Package saga implements the forward-then-compensate workflow orchestrator
// (C5), generalized from the teacher's linear pkg/flowgraph/saga/saga.go
// into a DAG-based scheduler: steps declare depends_on, independent steps
// run concurrently via the fork/join pattern adapted from
// pkg/flowgraph/execute_parallel.go, and compensation always unwinds in
// reverse order of completion rather than reverse declaration order.
package saga

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// RetryPolicy configures step-level retry backoff, matching spec section
// 3.5's saga definition retry_policy.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	Exponential bool
}

// DefaultRetryPolicy is a conservative default for definitions that don't
// specify one explicitly.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, BaseBackoff: 200 * time.Millisecond, Exponential: true}

// Step defines one node in a saga's DAG.
type Step struct {
	Name string

	// Service names the participating service this step's command targets;
	// looked up through the circuit breaker registry by name (spec design
	// note: services are referenced by name, never held by pointer).
	Service string

	// Command is the command_type invoked on Service.
	Command string

	// CompensationCommand, if non-empty, is invoked during rollback. A step
	// with no compensation command is logged and skipped during
	// compensation (never treated as an error).
	CompensationCommand string

	Timeout time.Duration

	// Retryable gates whether a failure is retried at all; false means a
	// single failure immediately triggers compensation regardless of the
	// definition's retry_policy.
	Retryable bool

	// DependsOn names steps that must reach Completed before this step may
	// start, forming the saga's DAG. Steps with no shared dependency may
	// execute concurrently.
	DependsOn []string
}

// Definition is a saga's static, immutable-at-runtime template: the set of
// steps, their dependency DAG, and the saga-wide timeout/retry policy.
// Definitions are loaded once at startup from the saga definition registry
// (spec section 6.5); runtime modification is out of scope.
type Definition struct {
	SagaType    string
	Steps       []Step
	Timeout     time.Duration
	RetryPolicy RetryPolicy
}

// Validate checks structural well-formedness: unique step names, a DAG with
// no cycles, and every dependency naming a step that exists.
func (d *Definition) Validate() error {
	if d.SagaType == "" {
		return errors.New("saga_type is required")
	}
	if len(d.Steps) == 0 {
		return errors.New("saga must have at least one step")
	}

	byName := make(map[string]*Step, len(d.Steps))
	for i := range d.Steps {
		step := &d.Steps[i]
		if step.Name == "" {
			return fmt.Errorf("step %d: name is required", i)
		}
		if _, dup := byName[step.Name]; dup {
			return fmt.Errorf("step %q: duplicate name", step.Name)
		}
		byName[step.Name] = step
	}
	for _, step := range d.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := byName[dep]; !ok {
				return fmt.Errorf("step %q: depends_on unknown step %q", step.Name, dep)
			}
		}
	}

	if _, err := topologicalOrder(d.Steps); err != nil {
		return fmt.Errorf("saga %q: %w", d.SagaType, err)
	}
	return nil
}

// topologicalOrder groups steps into "waves": wave[i] contains every step
// whose dependencies lie entirely in wave[0..i-1]. Steps within one wave
// have no dependency relationship to each other and are candidates for
// concurrent execution by the scheduler.
func topologicalOrder(steps []Step) ([][]string, error) {
	remaining := make(map[string]Step, len(steps))
	for _, s := range steps {
		remaining[s.Name] = s
	}

	var waves [][]string
	done := make(map[string]bool, len(steps))

	for len(remaining) > 0 {
		var wave []string
		for name, step := range remaining {
			ready := true
			for _, dep := range step.DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, name)
			}
		}
		if len(wave) == 0 {
			return nil, errors.New("cycle detected in depends_on graph")
		}
		sort.Strings(wave)
		for _, name := range wave {
			done[name] = true
			delete(remaining, name)
		}
		waves = append(waves, wave)
	}
	return waves, nil
}
