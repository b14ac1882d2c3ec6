package command

import (
	"context"
	"time"

	"github.com/tracseq/txcore/pkg/txcore/txerr"
	"github.com/tracseq/txcore/pkg/txcore/txevent"
)

// ValidateFunc enforces business constraints on a command's input before any
// event is built. Returning a non-nil error (typically *txerr.ValidationError)
// stops the pipeline before expected_version is even resolved.
type ValidateFunc func(cmd Command) error

// GenericHandler implements the four-step contract from spec section 4.4.1:
// validate, determine expected_version, build the event, append it.
type GenericHandler struct {
	AggregateType string

	// Creation marks this command as the aggregate-creation command for its
	// type: expected_version is always 0 regardless of what the caller
	// supplies, matching "for a creation command, expected_version = None"
	// (interpreted by the store as 0 for a brand-new aggregate).
	Creation bool

	Validate ValidateFunc
	Build    EventBuilder

	Append  AppendFunc
	Version VersionFunc
}

// Handle runs validate -> resolve expected_version -> build -> append.
func (h *GenericHandler) Handle(ctx context.Context, cmd Command) (Result, error) {
	if h.Validate != nil {
		if err := h.Validate(cmd); err != nil {
			return Result{}, asValidationError(err)
		}
	}

	expected, err := h.resolveExpectedVersion(ctx, cmd)
	if err != nil {
		return Result{}, err
	}

	evt, err := h.Build(cmd, h.AggregateType, expected+1)
	if err != nil {
		return Result{}, &txerr.ValidationError{Message: err.Error()}
	}

	records, err := h.Append(ctx, cmd.AggregateID, h.AggregateType, expected, []txevent.Event{evt})
	if err != nil {
		return Result{}, err
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.EventID
	}

	return Result{
		Success:     true,
		AggregateID: cmd.AggregateID,
		Version:     expected + 1,
		EventIDs:    ids,
		Timestamp:   time.Now().UTC(),
	}, nil
}

func (h *GenericHandler) resolveExpectedVersion(ctx context.Context, cmd Command) (int, error) {
	if h.Creation {
		return 0, nil
	}
	if cmd.ExpectedVersion != nil {
		return *cmd.ExpectedVersion, nil
	}

	version, err := h.Version(ctx, cmd.AggregateID)
	if err != nil {
		return 0, &txerr.EventStoreError{Op: "resolve_version", Err: err}
	}
	if version == 0 {
		return 0, &txerr.AggregateNotFoundError{AggregateID: cmd.AggregateID, AggregateType: h.AggregateType}
	}
	return version, nil
}

func asValidationError(err error) error {
	if _, ok := err.(*txerr.ValidationError); ok {
		return err
	}
	return &txerr.ValidationError{Message: err.Error()}
}

var _ Handler = (*GenericHandler)(nil)
