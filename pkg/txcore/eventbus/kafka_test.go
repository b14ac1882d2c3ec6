package eventbus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracseq/txcore/pkg/txcore/txevent"
)

// TestBuildProducerMessage_KeysByAggregateIDAndCarriesHeaders covers the one
// piece of KafkaBus logic that doesn't require a live broker: the
// translation from a Message into the sarama wire shape. A real KafkaBus
// requires sarama.NewClient to dial actual brokers, so it's exercised here
// against the pure function instead.
func TestBuildProducerMessage_KeysByAggregateIDAndCarriesHeaders(t *testing.T) {
	msg := Message{
		EventID:       "evt-1",
		EventType:     "saga.completed",
		AggregateID:   "saga-42",
		AggregateType: "saga",
		Payload:       json.RawMessage(`{"ok":true}`),
		Metadata:      txevent.Metadata{CorrelationID: "corr-9"},
		Timestamp:     time.Now().UTC(),
	}

	pm, err := buildProducerMessage(msg, "orchestrator")
	require.NoError(t, err)

	assert.Equal(t, msg.Topic(), pm.Topic)

	key, err := pm.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "saga-42", string(key))

	value, err := pm.Value.Encode()
	require.NoError(t, err)
	var roundTripped Message
	require.NoError(t, json.Unmarshal(value, &roundTripped))
	assert.Equal(t, msg.EventID, roundTripped.EventID)

	headers := make(map[string]string, len(pm.Headers))
	for _, h := range pm.Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	assert.Equal(t, "evt-1", headers["event-id"])
	assert.Equal(t, "saga.completed", headers["event-type"])
	assert.Equal(t, "corr-9", headers["correlation-id"])
	assert.Equal(t, "orchestrator", headers["source-service"])
}

func TestBuildProducerMessage_EmptySourceServiceStillProducesHeader(t *testing.T) {
	msg := Message{EventID: "evt-3", AggregateID: "saga-7", AggregateType: "saga"}

	pm, err := buildProducerMessage(msg, "")
	require.NoError(t, err)

	var sourceService string
	for _, h := range pm.Headers {
		if string(h.Key) == "source-service" {
			sourceService = string(h.Value)
		}
	}
	assert.Equal(t, "", sourceService)
}

func TestDefaultKafkaDedupeTTL(t *testing.T) {
	assert.Equal(t, 5*time.Minute, DefaultKafkaDedupeTTL)
}
