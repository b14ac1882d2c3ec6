// Command txcore-demo wires every component of txcore together and runs the
// laboratory sample-processing saga end to end against in-memory mock
// services, grounded on the original LaboratoryProcessing saga definition
// (CreateSample -> ValidateSample -> AllocateStorage -> StoreSample ->
// ScheduleSequencing -> SendNotifications). Breaker and event bus tuning are
// loaded from the YAML file named by TXCORE_CONFIG (see config.yaml in this
// directory); with no path set it runs on circuitbreaker.DefaultConfig and
// eventbus.DefaultLocalBusConfig.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tracseq/txcore/pkg/txcore/circuitbreaker"
	"github.com/tracseq/txcore/pkg/txcore/config"
	"github.com/tracseq/txcore/pkg/txcore/eventbus"
	"github.com/tracseq/txcore/pkg/txcore/external"
	"github.com/tracseq/txcore/pkg/txcore/observability"
	"github.com/tracseq/txcore/pkg/txcore/saga"
	"github.com/tracseq/txcore/pkg/txcore/txevent"
)

// loadBreakerConfig reads breaker tuning from path, falling back to
// circuitbreaker.DefaultConfig entirely when path is empty or unreadable —
// the demo always runs, a tuning file just lets an operator override it
// without a rebuild.
func loadBreakerConfig(path string, logger *slog.Logger) circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig
	if path == "" {
		return cfg
	}
	c, err := config.FromFile(path)
	if err != nil {
		logger.Warn("falling back to default breaker config", "path", path, "error", err)
		return cfg
	}
	section, _ := c.Any("circuit_breaker", nil).(map[string]any)
	breaker := config.New(section)
	cfg.FailureThreshold = uint32(breaker.Int("failure_threshold", int(cfg.FailureThreshold)))
	cfg.RecoveryTimeout = breaker.Duration("recovery_timeout", cfg.RecoveryTimeout)
	cfg.RequestTimeout = breaker.Duration("request_timeout", cfg.RequestTimeout)
	cfg.MaxConcurrentRequests = breaker.Int("max_concurrent_requests", cfg.MaxConcurrentRequests)
	cfg.SuccessThreshold = uint32(breaker.Int("success_threshold", int(cfg.SuccessThreshold)))
	return cfg
}

// loadBusConfig reads local event bus tuning from the same file.
func loadBusConfig(path string, logger *slog.Logger) eventbus.LocalBusConfig {
	cfg := eventbus.DefaultLocalBusConfig
	if path == "" {
		return cfg
	}
	c, err := config.FromFile(path)
	if err != nil {
		logger.Warn("falling back to default bus config", "path", path, "error", err)
		return cfg
	}
	section, _ := c.Any("event_bus", nil).(map[string]any)
	bus := config.New(section)
	cfg.ShardsPerGroup = bus.Int("shards_per_group", cfg.ShardsPerGroup)
	cfg.QueueSize = bus.Int("queue_size", cfg.QueueSize)
	cfg.DedupeTTL = bus.Duration("dedupe_ttl", cfg.DedupeTTL)
	return cfg
}

func laboratoryProcessingDefinition() *saga.Definition {
	return &saga.Definition{
		SagaType: "LaboratoryProcessing",
		Steps: []saga.Step{
			{Name: "CreateSample", Service: "sample-service", Command: "CreateSampleCommand", CompensationCommand: "DeleteSampleCommand", Timeout: 30 * time.Second, Retryable: true},
			{Name: "ValidateSample", Service: "sample-service", Command: "ValidateSampleCommand", CompensationCommand: "RevertValidationCommand", Timeout: 60 * time.Second, Retryable: true, DependsOn: []string{"CreateSample"}},
			{Name: "AllocateStorage", Service: "storage-service", Command: "AllocateStorageCommand", CompensationCommand: "ReleaseStorageCommand", Timeout: 45 * time.Second, Retryable: true, DependsOn: []string{"ValidateSample"}},
			{Name: "StoreSample", Service: "storage-service", Command: "StoreSampleCommand", CompensationCommand: "RemoveSampleFromStorageCommand", Timeout: 30 * time.Second, Retryable: false, DependsOn: []string{"AllocateStorage"}},
			{Name: "ScheduleSequencing", Service: "sequencing-service", Command: "ScheduleSequencingCommand", CompensationCommand: "CancelSequencingCommand", Timeout: 30 * time.Second, Retryable: true, DependsOn: []string{"StoreSample"}},
			{Name: "SendNotifications", Service: "notification-service", Command: "SendProcessingNotificationCommand", Timeout: 15 * time.Second, Retryable: true, DependsOn: []string{"ScheduleSequencing"}},
		},
		Timeout: 5 * time.Minute,
		RetryPolicy: saga.RetryPolicy{
			MaxRetries:  3,
			BaseBackoff: 5 * time.Second,
			Exponential: true,
		},
	}
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	configPath := os.Getenv("TXCORE_CONFIG")

	bus := eventbus.NewLocalBus(loadBusConfig(configPath, logger))
	defer bus.Close()

	sub, err := bus.Subscribe(eventbus.SubscribeOptions{ConsumerGroup: "demo-watcher", Topics: []string{eventbus.TopicSaga}}, func(ctx context.Context, msg eventbus.Message) error {
		var fields map[string]any
		_ = msg.Decode(&fields)
		logger.Info("saga event", "event_type", msg.EventType, "fields", fields)
		return nil
	})
	if err != nil {
		logger.Error("subscribe failed", "error", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	breakers := circuitbreaker.NewManager(loadBreakerConfig(configPath, logger), logger, observability.NoopMetrics{})

	sampleSvc := external.NewSampleService()
	storageSvc := external.NewStorageService()
	sequencingSvc := external.NewSequencingService()
	notificationSvc := external.NewNotificationService()

	handlers := saga.NewHandlerRegistry()
	handlers.Register("sample-service", "CreateSampleCommand", external.StepHandler(sampleSvc, "CreateSampleCommand", "DeleteSampleCommand"))
	handlers.Register("sample-service", "ValidateSampleCommand", external.StepHandler(sampleSvc, "ValidateSampleCommand", "RevertValidationCommand"))
	handlers.Register("storage-service", "AllocateStorageCommand", external.StepHandler(storageSvc, "AllocateStorageCommand", "ReleaseStorageCommand"))
	handlers.Register("storage-service", "StoreSampleCommand", external.StepHandler(storageSvc, "StoreSampleCommand", "RemoveSampleFromStorageCommand"))
	handlers.Register("sequencing-service", "ScheduleSequencingCommand", external.StepHandler(sequencingSvc, "ScheduleSequencingCommand", "CancelSequencingCommand"))
	handlers.Register("notification-service", "SendProcessingNotificationCommand", external.StepHandler(notificationSvc, "SendProcessingNotificationCommand", ""))

	store := saga.NewMemoryStore()

	orch := saga.NewOrchestrator(store, handlers, breakers,
		saga.WithLogger(logger),
		saga.WithMaxConcurrentSteps(4),
		saga.WithEventEmitter(func(ctx context.Context, eventType string, exec *saga.Execution, fields map[string]any) {
			payload, _ := json.Marshal(fields)
			msg := eventbus.Message{
				EventID:       exec.SagaID + ":" + eventType,
				EventType:     eventType,
				AggregateID:   exec.SagaID,
				AggregateType: "saga",
				Payload:       payload,
				Metadata:      txevent.Metadata{CorrelationID: exec.CorrelationID},
				Timestamp:     time.Now().UTC(),
			}
			if err := bus.Publish(ctx, msg); err != nil {
				logger.Warn("failed to publish saga event", "error", err)
			}
		}),
	)

	def := laboratoryProcessingDefinition()
	if err := orch.RegisterDefinition(def); err != nil {
		logger.Error("register definition failed", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	exec, err := orch.Start(ctx, "LaboratoryProcessing", map[string]any{"sample_type": "blood"}, "demo-correlation-1")
	if err != nil {
		logger.Error("start saga failed", "error", err)
		os.Exit(1)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		current, err := orch.Get(ctx, exec.SagaID)
		if err != nil {
			logger.Error("get saga failed", "error", err)
			os.Exit(1)
		}
		if current.Status.Terminal() {
			fmt.Printf("saga %s finished with status %s\n", current.SagaID, current.Status)
			for name, step := range current.Steps {
				fmt.Printf("  step %-20s status=%-20s output=%v\n", name, step.Status, step.Output)
			}
			orch.Wait()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	logger.Error("saga did not reach a terminal state in time")
	os.Exit(1)
}
