package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

// KafkaBusConfig configures the durable, broker-backed bus.
type KafkaBusConfig struct {
	Brokers []string
	Logger  *slog.Logger

	// SourceService is recorded in every message's source-service header.
	SourceService string

	// DedupeTTL enables delivery deduplication per (ConsumerGroup, EventID),
	// mirroring LocalBus: a consumer-group rebalance can redeliver offsets
	// that were processed but not yet committed, and a handler that isn't
	// itself idempotent would otherwise double-apply them.
	DedupeTTL time.Duration
}

// DefaultKafkaDedupeTTL is a reasonable KafkaBusConfig.DedupeTTL for
// production use; DedupeTTL is opt-in (zero disables it), matching
// LocalBusConfig's convention.
const DefaultKafkaDedupeTTL = 5 * time.Minute

// KafkaBus is a Bus backed by a real Kafka cluster via sarama: publish uses
// a synchronous producer keyed by aggregate_id (preserving per-partition
// ordering for a given aggregate), and Subscribe starts a
// sarama.ConsumerGroup per call, grounded on the
// producer/consumer-group-with-stop-channel shape used for saga Kafka
// consumers in the wider ecosystem. This is the production transport; tests
// and single-process deployments use LocalBus instead.
type KafkaBus struct {
	cfg      KafkaBusConfig
	producer sarama.SyncProducer
	client   sarama.Client

	mu   sync.Mutex
	subs []*kafkaSubscription
}

// NewKafkaBus dials brokers and constructs a KafkaBus.
func NewKafkaBus(cfg KafkaBusConfig) (*KafkaBus, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 5
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Version = sarama.V2_8_0_0

	client, err := sarama.NewClient(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return &KafkaBus{cfg: cfg, producer: producer, client: client}, nil
}

// Publish sends msg to its fixed topic, keyed by aggregate_id so that all
// events for one aggregate land on the same partition and are therefore
// consumed in order.
func (b *KafkaBus) Publish(ctx context.Context, msg Message) error {
	return b.publishOne(msg)
}

// PublishBatch publishes every message, returning a *PublishError collecting
// any that failed.
func (b *KafkaBus) PublishBatch(ctx context.Context, msgs []Message) error {
	var failed []Message
	var lastErr error
	for _, msg := range msgs {
		if err := b.publishOne(msg); err != nil {
			failed = append(failed, msg)
			lastErr = err
		}
	}
	if len(failed) > 0 {
		return &PublishError{Failed: failed, Attempts: 1, Err: lastErr}
	}
	return nil
}

func (b *KafkaBus) publishOne(msg Message) error {
	pm, err := buildProducerMessage(msg, b.cfg.SourceService)
	if err != nil {
		return &PublishError{Failed: []Message{msg}, Attempts: 1, Err: err}
	}

	_, _, err = b.producer.SendMessage(pm)
	if err != nil {
		return &PublishError{Failed: []Message{msg}, Attempts: 1, Err: err}
	}
	return nil
}

// buildProducerMessage translates a Message into the sarama wire shape:
// keyed by aggregate_id for per-aggregate partition ordering, with the
// identifying fields also carried as headers so a consumer (or an
// operator inspecting the topic with a CLI tool) never has to decode the
// JSON body just to see event-id/event-type/correlation-id/source-service.
func buildProducerMessage(msg Message, sourceService string) (*sarama.ProducerMessage, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	return &sarama.ProducerMessage{
		Topic: msg.Topic(),
		Key:   sarama.StringEncoder(msg.AggregateID),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-id"), Value: []byte(msg.EventID)},
			{Key: []byte("event-type"), Value: []byte(msg.EventType)},
			{Key: []byte("correlation-id"), Value: []byte(msg.Metadata.CorrelationID)},
			{Key: []byte("source-service"), Value: []byte(sourceService)},
		},
	}, nil
}

// Subscribe starts a consumer group reading opts.Topics and dispatching
// matching messages to handler.
func (b *KafkaBus) Subscribe(opts SubscribeOptions, handler Handler) (Subscription, error) {
	group, err := sarama.NewConsumerGroupFromClient(opts.ConsumerGroup, b.client)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &kafkaSubscription{
		group:  group,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	var dedupe *dedupeCache
	if b.cfg.DedupeTTL > 0 {
		dedupe = newDedupeCache(b.cfg.DedupeTTL)
		go dedupe.run(ctx.Done())
	}
	handlerImpl := &consumerGroupHandler{opts: opts, handler: handler, logger: b.cfg.Logger, dedupe: dedupe}

	go func() {
		defer close(sub.done)
		for {
			if err := group.Consume(ctx, opts.Topics, handlerImpl); err != nil {
				if b.cfg.Logger != nil {
					b.cfg.Logger.Warn("kafka consume loop error", slog.String("error", err.Error()))
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub, nil
}

// Stats is unsupported for KafkaBus in-process (broker-side metrics cover
// this in production); it returns a zero value.
func (b *KafkaBus) Stats() Stats { return Stats{} }

// Close shuts down the producer, client, and every active subscription.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
	if err := b.producer.Close(); err != nil {
		return err
	}
	return b.client.Close()
}

type kafkaSubscription struct {
	group  sarama.ConsumerGroup
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *kafkaSubscription) Unsubscribe() {
	s.cancel()
	<-s.done
	_ = s.group.Close()
}

type consumerGroupHandler struct {
	opts    SubscribeOptions
	handler Handler
	logger  *slog.Logger
	dedupe  *dedupeCache
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case kmsg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal(kmsg.Value, &msg); err != nil {
				if h.logger != nil {
					h.logger.Error("failed to decode kafka message", slog.String("error", err.Error()))
				}
				sess.MarkMessage(kmsg, "")
				continue
			}
			if subMatches(h.opts, msg) {
				if h.dedupe != nil && h.dedupe.isDuplicate(h.opts.ConsumerGroup+"/"+msg.EventID) {
					sess.MarkMessage(kmsg, "")
					continue
				}
				ctx := context.Background()
				var cancel context.CancelFunc
				if h.opts.HandlerTimeout > 0 {
					ctx, cancel = context.WithTimeout(ctx, h.opts.HandlerTimeout)
				}
				err := h.handler(ctx, msg)
				if cancel != nil {
					cancel()
				}
				if err != nil && h.logger != nil {
					h.logger.Warn("handler failed, message still acked", slog.String("event_id", msg.EventID), slog.String("error", err.Error()))
				}
			}
			sess.MarkMessage(kmsg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}
