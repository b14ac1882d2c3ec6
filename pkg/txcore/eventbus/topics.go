// Package eventbus implements the publish/subscribe fabric (C2) that fans
// persisted events out to external services, the saga orchestrator, and the
// dead-letter sink. It provides two Bus implementations: LocalBus, an
// in-process bus suitable for tests and single-process deployments, and
// KafkaBus, a durable transport backed by a real broker, matching the
// design's resolution that the bus contract assumes a durable broker in
// production and allows an in-process bus only for test harnesses.
package eventbus

// Fixed topic names. The topic set is closed: publishers never invent a new
// topic at runtime, and TopicFor is a pure function of aggregate type.
const (
	TopicSample       = "laboratory.sample.events"
	TopicSequencing   = "laboratory.sequencing.events"
	TopicStorage      = "laboratory.storage.events"
	TopicNotification = "laboratory.notification.events"
	TopicSaga         = "laboratory.saga.events"
	TopicDeadLetter   = "laboratory.dead-letter"
)

// Topics lists every topic the bus recognizes, in a stable order.
var Topics = []string{
	TopicSample,
	TopicSequencing,
	TopicStorage,
	TopicNotification,
	TopicSaga,
	TopicDeadLetter,
}

// aggregateTopics maps an aggregate_type to its fixed topic.
var aggregateTopics = map[string]string{
	"sample":          TopicSample,
	"sequencing_run":  TopicSequencing,
	"storage_unit":    TopicStorage,
	"notification":    TopicNotification,
	"saga":            TopicSaga,
}

// TopicFor returns the topic for aggregateType. It is a pure function: the
// same aggregate type always maps to the same topic. Unrecognized aggregate
// types route to the dead-letter topic rather than silently widening the
// topic set.
func TopicFor(aggregateType string) string {
	if topic, ok := aggregateTopics[aggregateType]; ok {
		return topic
	}
	return TopicDeadLetter
}
