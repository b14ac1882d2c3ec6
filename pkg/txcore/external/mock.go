package external

import (
	"context"
	"fmt"
	"sync"
)

// CommandFunc executes one command against a mutable service-local store.
type CommandFunc func(payload map[string]any) (any, error)

// CompensationFunc undoes one command.
type CompensationFunc func(payload map[string]any) error

// MockService is an in-memory Service backing tests and the demo binary. It
// replays cached results for a repeated idempotency_key rather than
// re-running the command/compensation function, satisfying the cross-service
// contract of spec section 6.4 without a real downstream database.
type MockService struct {
	name string

	mu            sync.Mutex
	commands      map[string]CommandFunc
	compensations map[string]CompensationFunc
	healthy       bool

	replay *replayCache
}

// NewMockService constructs an empty mock for serviceName; register commands
// with RegisterCommand/RegisterCompensation before use.
func NewMockService(serviceName string) *MockService {
	return &MockService{
		name:          serviceName,
		commands:      make(map[string]CommandFunc),
		compensations: make(map[string]CompensationFunc),
		healthy:       true,
		replay:        newReplayCache(),
	}
}

func (s *MockService) Name() string { return s.name }

// RegisterCommand wires a named command handler.
func (s *MockService) RegisterCommand(name string, fn CommandFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[name] = fn
}

// RegisterCompensation wires a named compensation handler.
func (s *MockService) RegisterCompensation(name string, fn CompensationFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compensations[name] = fn
}

// SetHealthy toggles the result of Health. Execute and Compensate do not
// consult it.
func (s *MockService) SetHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
}

func (s *MockService) Health(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.healthy {
		return fmt.Errorf("%s: unhealthy", s.name)
	}
	return nil
}

func (s *MockService) Execute(ctx context.Context, command string, payload map[string]any, idempotencyKey string) (any, error) {
	if v, err, ok := s.replay.lookup(idempotencyKey); ok {
		return v, err
	}

	s.mu.Lock()
	fn, ok := s.commands[command]
	s.mu.Unlock()
	if !ok {
		err := &UnknownCommandError{Service: s.name, Command: command}
		s.replay.store(idempotencyKey, nil, err)
		return nil, err
	}

	out, err := fn(payload)
	s.replay.store(idempotencyKey, out, err)
	return out, err
}

func (s *MockService) Compensate(ctx context.Context, command string, payload map[string]any, idempotencyKey string) error {
	if _, err, ok := s.replay.lookup(idempotencyKey); ok {
		return err
	}

	s.mu.Lock()
	fn, ok := s.compensations[command]
	s.mu.Unlock()
	if !ok {
		err := &UnknownCommandError{Service: s.name, Command: command}
		s.replay.store(idempotencyKey, nil, err)
		return err
	}

	err := fn(payload)
	s.replay.store(idempotencyKey, nil, err)
	return err
}
