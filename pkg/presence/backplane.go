package presence

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"

	"github.com/platinummonkey/bioviews/pkg/observability"
)

// Envelope is an event addressed to a topic.
type Envelope struct {
	Topic string
	Event Event
}

// Backplane fans events out to every hub instance, including the publisher.
type Backplane interface {
	Publish(ctx context.Context, topic string, ev Event) error
	// Listen delivers published events until ctx ends, then closes the channel.
	Listen(ctx context.Context) (<-chan Envelope, error)
}

// LoopbackBackplane connects hubs inside one process. It is mainly useful for tests
// that run several hubs against a shared registry.
type LoopbackBackplane struct {
	mu        sync.RWMutex
	listeners map[chan Envelope]struct{}
	buffer    int
}

// NewLoopbackBackplane creates a backplane whose listeners buffer up to buffer events.
func NewLoopbackBackplane(buffer int) *LoopbackBackplane {
	if buffer <= 0 {
		buffer = 64
	}
	return &LoopbackBackplane{listeners: make(map[chan Envelope]struct{}), buffer: buffer}
}

// Publish implements Backplane. Listeners that are full miss the event.
func (b *LoopbackBackplane) Publish(_ context.Context, topic string, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.listeners {
		select {
		case ch <- Envelope{Topic: topic, Event: ev}:
		default:
		}
	}
	return nil
}

// Listen implements Backplane.
func (b *LoopbackBackplane) Listen(ctx context.Context) (<-chan Envelope, error) {
	ch := make(chan Envelope, b.buffer)

	b.mu.Lock()
	b.listeners[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.listeners, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// RedisBackplane fans events out over Redis pub/sub, one channel per topic.
type RedisBackplane struct {
	client *redis.Client
	prefix string
	logger *observability.Logger
}

// NewRedisBackplane creates a backplane. An empty prefix selects "bioviews:presence".
func NewRedisBackplane(client *redis.Client, prefix string, logger *observability.Logger) *RedisBackplane {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackplane{
		client: client,
		prefix: prefix + ":events:",
		logger: logger.WithComponent("presence_backplane"),
	}
}

// Publish implements Backplane.
func (b *RedisBackplane) Publish(ctx context.Context, topic string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode presence event: %w", err)
	}
	if err := b.client.Publish(ctx, b.prefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish presence event: %w", err)
	}
	return nil
}

// Listen implements Backplane.
func (b *RedisBackplane) Listen(ctx context.Context) (<-chan Envelope, error) {
	ps := b.client.PSubscribe(ctx, b.prefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to presence events: %w", err)
	}

	out := make(chan Envelope, 64)
	go func() {
		defer close(out)
		defer ps.Close()
		defer observability.RecoverPanic(b.logger, "presence backplane")

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.WithError(err).Warn("dropping malformed presence event")
					continue
				}
				select {
				case out <- Envelope{Topic: strings.TrimPrefix(msg.Channel, b.prefix), Event: ev}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
