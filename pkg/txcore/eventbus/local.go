package eventbus

import (
	"context"
	"hash/fnv"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tracseq/txcore/pkg/txcore/txerr"
)

// LocalBusConfig configures an in-process bus.
type LocalBusConfig struct {
	// ShardsPerGroup bounds how many ordering workers a consumer group
	// spins up; messages for the same aggregate_id always land on the same
	// shard, giving per-aggregate-key ordering within the group.
	ShardsPerGroup int

	// QueueSize is the buffer depth of each shard's message channel.
	QueueSize int

	// DedupeTTL enables delivery deduplication per (ConsumerGroup, EventID).
	DedupeTTL time.Duration

	// Retry governs publish-side retry before a PublishError is returned.
	Retry txerr.RetryConfig

	// DeadLetter receives messages whose handler failed; when nil,
	// NewLocalBus substitutes a no-op. Messages
	// are still considered delivered (acked) even after landing here, so a
	// poison message cannot stall the consumer group.
	DeadLetter Handler
}

// DefaultLocalBusConfig provides reasonable defaults.
var DefaultLocalBusConfig = LocalBusConfig{
	ShardsPerGroup: 8,
	QueueSize:      256,
	DedupeTTL:      5 * time.Minute,
	Retry:          txerr.DefaultRetry,
}

// LocalBus is an in-memory Bus, grounded on the fan-out pattern of a
// per-subscription buffered channel plus goroutine loop, extended with
// per-(consumer_group, aggregate_id) ordering shards and dead-letter
// routing. It is the bus implementation test harnesses and single-process
// deployments use; production deployments use KafkaBus.
type LocalBus struct {
	cfg LocalBusConfig

	mu   sync.RWMutex
	subs map[string]*localSubscription

	dedupe *dedupeCache // key: consumerGroup + "/" + eventID

	stats struct {
		published, delivered, failed, deadLettered, deduplicated atomic.Int64
	}

	nextID  atomic.Int64
	closed  atomic.Bool
	closeCh chan struct{}
}

// NewLocalBus constructs a LocalBus.
func NewLocalBus(cfg LocalBusConfig) *LocalBus {
	if cfg.ShardsPerGroup <= 0 {
		cfg.ShardsPerGroup = DefaultLocalBusConfig.ShardsPerGroup
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultLocalBusConfig.QueueSize
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultLocalBusConfig.Retry
	}
	if cfg.DeadLetter == nil {
		cfg.DeadLetter = func(context.Context, Message) error { return nil }
	}

	b := &LocalBus{
		cfg:     cfg,
		subs:    make(map[string]*localSubscription),
		closeCh: make(chan struct{}),
	}
	if cfg.DedupeTTL > 0 {
		b.dedupe = newDedupeCache(cfg.DedupeTTL)
		go b.dedupe.run(b.closeCh)
	}
	return b
}

type localSubscription struct {
	id      string
	opts    SubscribeOptions
	handler Handler
	bus     *LocalBus
	shards  []chan Message
	done    chan struct{}
}

// Publish delivers msg to every matching subscription, retrying according to
// the bus's retry config before returning a *PublishError.
func (b *LocalBus) Publish(ctx context.Context, msg Message) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	result := txerr.WithRetryContext(ctx, b.cfg.Retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.deliver(ctx, msg)
	})
	b.stats.published.Add(1)
	if result.Err != nil {
		b.stats.failed.Add(1)
		return &PublishError{Failed: []Message{msg}, Attempts: result.Attempts, Err: result.Err}
	}
	return nil
}

// PublishBatch publishes every message, collecting failures into one
// *PublishError rather than failing fast.
func (b *LocalBus) PublishBatch(ctx context.Context, msgs []Message) error {
	var failed []Message
	var lastErr error
	attempts := 0
	for _, msg := range msgs {
		if err := b.Publish(ctx, msg); err != nil {
			var pubErr *PublishError
			if ok := asPublishError(err, &pubErr); ok {
				failed = append(failed, pubErr.Failed...)
				attempts += pubErr.Attempts
				lastErr = pubErr.Err
			} else {
				failed = append(failed, msg)
				lastErr = err
			}
		}
	}
	if len(failed) > 0 {
		return &PublishError{Failed: failed, Attempts: attempts, Err: lastErr}
	}
	return nil
}

func asPublishError(err error, target **PublishError) bool {
	pe, ok := err.(*PublishError)
	if ok {
		*target = pe
	}
	return ok
}

func (b *LocalBus) deliver(ctx context.Context, msg Message) error {
	b.mu.RLock()
	matches := make([]*localSubscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if subMatches(sub.opts, msg) {
			matches = append(matches, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matches {
		shard := sub.shardFor(msg.AggregateID)
		select {
		case shard <- msg:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.closeCh:
			return ErrBusClosed
		}
	}
	return nil
}

func subMatches(opts SubscribeOptions, msg Message) bool {
	if len(opts.Topics) > 0 {
		found := false
		topic := msg.Topic()
		for _, t := range opts.Topics {
			if t == topic {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(opts.EventTypePatterns) == 0 {
		return true
	}
	for _, pattern := range opts.EventTypePatterns {
		if ok, _ := path.Match(pattern, msg.EventType); ok {
			return true
		}
	}
	return false
}

// Subscribe registers handler and starts one goroutine per ordering shard.
func (b *LocalBus) Subscribe(opts SubscribeOptions, handler Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	id := b.nextID.Add(1)
	sub := &localSubscription{
		id:      itoa(id),
		opts:    opts,
		handler: handler,
		bus:     b,
		done:    make(chan struct{}),
	}
	sub.shards = make([]chan Message, b.cfg.ShardsPerGroup)
	for i := range sub.shards {
		sub.shards[i] = make(chan Message, b.cfg.QueueSize)
		go sub.processShard(sub.shards[i])
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return sub, nil
}

func (s *localSubscription) shardFor(aggregateID string) chan Message {
	h := fnv.New32a()
	_, _ = h.Write([]byte(aggregateID))
	idx := int(h.Sum32()) % len(s.shards)
	if idx < 0 {
		idx += len(s.shards)
	}
	return s.shards[idx]
}

func (s *localSubscription) processShard(ch chan Message) {
	for {
		select {
		case msg := <-ch:
			if s.bus.cfg.DedupeTTL > 0 && s.bus.isDuplicate(s.opts.ConsumerGroup, msg.EventID) {
				s.bus.stats.deduplicated.Add(1)
				continue
			}

			ctx := context.Background()
			var cancel context.CancelFunc
			if s.opts.HandlerTimeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, s.opts.HandlerTimeout)
			}
			err := s.handler(ctx, msg)
			if cancel != nil {
				cancel()
			}
			s.bus.stats.delivered.Add(1)
			if err != nil {
				s.bus.stats.deadLettered.Add(1)
				dlMsg := msg
				_ = s.bus.cfg.DeadLetter(context.Background(), dlMsg)
			}
		case <-s.done:
			if len(ch) > 0 {
				continue
			}
			return
		}
	}
}

// Unsubscribe stops delivery to this subscription.
func (s *localSubscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	close(s.done)
}

// Stats returns cumulative delivery counters.
func (b *LocalBus) Stats() Stats {
	return Stats{
		Published:    b.stats.published.Load(),
		Delivered:    b.stats.delivered.Load(),
		Failed:       b.stats.failed.Load(),
		DeadLettered: b.stats.deadLettered.Load(),
		Deduplicated: b.stats.deduplicated.Load(),
	}
}

// Close stops accepting new subscriptions and publishes; in-flight shard
// goroutines drain their buffered channel before exiting.
func (b *LocalBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.closeCh)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		close(sub.done)
	}
	return nil
}

func (b *LocalBus) isDuplicate(group, eventID string) bool {
	return b.dedupe.isDuplicate(group + "/" + eventID)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
