package external

import (
	"context"

	"github.com/tracseq/txcore/pkg/txcore/saga"
)

// StepHandler adapts a Service into a saga.StepHandler for one (command,
// compensationCommand) pair, translating the saga's sagaContext map
// directly into the command payload. compensationCommand may be empty for
// steps with no compensation.
func StepHandler(svc Service, command, compensationCommand string) saga.StepHandlerFunc {
	h := saga.StepHandlerFunc{
		ExecuteFunc: func(ctx context.Context, sagaContext map[string]any, idempotencyKey string) (any, error) {
			return svc.Execute(ctx, command, sagaContext, idempotencyKey)
		},
	}
	if compensationCommand != "" {
		h.CompensateFunc = func(ctx context.Context, sagaContext map[string]any, idempotencyKey string) error {
			return svc.Compensate(ctx, compensationCommand, sagaContext, idempotencyKey)
		}
	}
	return h
}
