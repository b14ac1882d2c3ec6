package external

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SampleStatus names the statuses a sample moves through (pending ->
// validated -> in_storage -> in_sequencing, or discarded), grounded on the
// laboratory sample-processing saga's step order. The mock sample-service
// sets only pending and validated.
type SampleStatus string

const (
	SampleStatusPending      SampleStatus = "pending"
	SampleStatusValidated    SampleStatus = "validated"
	SampleStatusInStorage    SampleStatus = "in_storage"
	SampleStatusInSequencing SampleStatus = "in_sequencing"
	SampleStatusDiscarded    SampleStatus = "discarded"
)

// NewSampleService builds the mock sample-service, backing the
// CreateSample/ValidateSample steps of the laboratory-processing saga.
func NewSampleService() *MockService {
	svc := NewMockService("sample-service")

	type record struct {
		id     string
		status SampleStatus
	}
	var mu sync.Mutex
	samples := make(map[string]*record)

	svc.RegisterCommand("CreateSampleCommand", func(payload map[string]any) (any, error) {
		id := "sample-" + uuid.New().String()
		mu.Lock()
		samples[id] = &record{id: id, status: SampleStatusPending}
		mu.Unlock()
		return map[string]any{"sample_id": id, "status": string(SampleStatusPending)}, nil
	})
	svc.RegisterCompensation("DeleteSampleCommand", func(payload map[string]any) error {
		id, _ := payload["sample_id"].(string)
		mu.Lock()
		delete(samples, id)
		mu.Unlock()
		return nil
	})

	svc.RegisterCommand("ValidateSampleCommand", func(payload map[string]any) (any, error) {
		id, _ := payload["sample_id"].(string)
		mu.Lock()
		defer mu.Unlock()
		rec, ok := samples[id]
		if !ok {
			return nil, fmt.Errorf("sample-service: unknown sample %q", id)
		}
		rec.status = SampleStatusValidated
		return map[string]any{"sample_id": id, "status": string(rec.status)}, nil
	})
	svc.RegisterCompensation("RevertValidationCommand", func(payload map[string]any) error {
		id, _ := payload["sample_id"].(string)
		mu.Lock()
		defer mu.Unlock()
		if rec, ok := samples[id]; ok {
			rec.status = SampleStatusPending
		}
		return nil
	})

	return svc
}

// NewStorageService builds the mock storage-service, backing the
// AllocateStorage/StoreSample steps.
func NewStorageService() *MockService {
	svc := NewMockService("storage-service")

	type slot struct {
		location string
		stored   bool
	}
	var mu sync.Mutex
	slots := make(map[string]*slot)

	svc.RegisterCommand("AllocateStorageCommand", func(payload map[string]any) (any, error) {
		id, _ := payload["sample_id"].(string)
		location := "rack-" + uuid.New().String()[:8]
		mu.Lock()
		slots[id] = &slot{location: location}
		mu.Unlock()
		return map[string]any{"sample_id": id, "location": location}, nil
	})
	svc.RegisterCompensation("ReleaseStorageCommand", func(payload map[string]any) error {
		id, _ := payload["sample_id"].(string)
		mu.Lock()
		delete(slots, id)
		mu.Unlock()
		return nil
	})

	svc.RegisterCommand("StoreSampleCommand", func(payload map[string]any) (any, error) {
		id, _ := payload["sample_id"].(string)
		mu.Lock()
		defer mu.Unlock()
		s, ok := slots[id]
		if !ok {
			return nil, fmt.Errorf("storage-service: no allocation for sample %q", id)
		}
		s.stored = true
		return map[string]any{"sample_id": id, "location": s.location}, nil
	})
	svc.RegisterCompensation("RemoveSampleFromStorageCommand", func(payload map[string]any) error {
		id, _ := payload["sample_id"].(string)
		mu.Lock()
		defer mu.Unlock()
		if s, ok := slots[id]; ok {
			s.stored = false
		}
		return nil
	})

	return svc
}

// NewSequencingService builds the mock sequencing-service, backing the
// ScheduleSequencing step. Scheduling has no bounded retry in the original
// saga definition but does have compensation.
func NewSequencingService() *MockService {
	svc := NewMockService("sequencing-service")

	var mu sync.Mutex
	scheduled := make(map[string]string) // sample_id -> run_id

	svc.RegisterCommand("ScheduleSequencingCommand", func(payload map[string]any) (any, error) {
		id, _ := payload["sample_id"].(string)
		runID := "run-" + uuid.New().String()[:8]
		mu.Lock()
		scheduled[id] = runID
		mu.Unlock()
		return map[string]any{"sample_id": id, "run_id": runID}, nil
	})
	svc.RegisterCompensation("CancelSequencingCommand", func(payload map[string]any) error {
		id, _ := payload["sample_id"].(string)
		mu.Lock()
		delete(scheduled, id)
		mu.Unlock()
		return nil
	})

	return svc
}

// NewNotificationService builds the mock notification-service, backing the
// terminal SendNotifications step. It has no compensation command, matching
// the original saga definition: once a notification is sent it is not
// un-sent on later compensation.
func NewNotificationService() *MockService {
	svc := NewMockService("notification-service")

	svc.RegisterCommand("SendProcessingNotificationCommand", func(payload map[string]any) (any, error) {
		return map[string]any{"sent": true}, nil
	})

	return svc
}
