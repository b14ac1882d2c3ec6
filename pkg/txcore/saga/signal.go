package saga

import (
	"sync"
	"time"
)

// OperatorSignal is raised when a saga halts in CompensationFailed: a
// terminal condition requiring human intervention (spec section 4.5.5).
// Adapted from pkg/flowgraph/signal/signal.go's fire-and-forget Signal, but
// simplified to outbound-only broadcast: nothing in this domain sends a
// signal back into a running saga, so the registry/dispatcher/inbound-ack
// machinery of the teacher's Signal has no counterpart here.
type OperatorSignal struct {
	SagaID        string
	SagaType      string
	StepName      string
	RootCauseStep string
	Reason        string
	OccurredAt    time.Time
}

// OperatorSignalBus fans out OperatorSignals to every subscriber. Publish
// never blocks: a subscriber with a full channel simply misses the signal,
// since operator paging is expected to be backed by a separate durable
// alerting path (outside this module's scope) and this bus only drives
// in-process notification.
type OperatorSignalBus struct {
	mu          sync.Mutex
	subscribers []chan OperatorSignal
}

func NewOperatorSignalBus() *OperatorSignalBus {
	return &OperatorSignalBus{}
}

// Subscribe returns a channel that receives every future signal. Buffer
// controls how many unread signals may queue before new ones are dropped.
func (b *OperatorSignalBus) Subscribe(buffer int) <-chan OperatorSignal {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan OperatorSignal, buffer)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

func (b *OperatorSignalBus) Publish(sig OperatorSignal) {
	b.mu.Lock()
	subs := append([]chan OperatorSignal(nil), b.subscribers...)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- sig:
		default:
		}
	}
}
