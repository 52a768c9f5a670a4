package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/bioviews/pkg/async"
	"github.com/platinummonkey/bioviews/pkg/observability"
)

var (
	// ErrUnknownSubscription is returned when tracking with a subscription this hub
	// does not hold.
	ErrUnknownSubscription = errors.New("unknown presence subscription")
	// ErrInvalidTopic is returned for topic names that are not profile topics.
	ErrInvalidTopic = errors.New("invalid presence topic")
	// ErrInvalidViewerKey is returned when a track message has no viewer key.
	ErrInvalidViewerKey = errors.New("viewer key is required")
)

// HubOptions configures a Hub. Zero values pick defaults.
type HubOptions struct {
	// LivenessTTL is how long an entry survives without a refresh
	LivenessTTL time.Duration
	// SyncInterval is how often entries are refreshed, expired and re-synced
	SyncInterval     time.Duration
	SubscriberBuffer int
	Backplane        Backplane
	Obfuscator       *KeyObfuscator
	Logger           *observability.Logger
	Metrics          *observability.Metrics
	Now              func() time.Time
}

// Hub is the presence broker for one process.
type Hub struct {
	registry     Registry
	backplane    Backplane
	obfuscator   *KeyObfuscator
	ttl          time.Duration
	syncInterval time.Duration
	buffer       int
	logger       *observability.Logger
	metrics      *observability.Metrics
	now          func() time.Time

	mu     sync.RWMutex
	topics map[string]map[string]*LocalSubscription
}

// LocalSubscription is a subscriber attached to this hub.
type LocalSubscription struct {
	id     string
	topic  string
	events chan Event
	hub    *Hub

	// guarded by hub.mu
	key    string
	closed bool
}

// ID returns the subscription id.
func (s *LocalSubscription) ID() string {
	return s.id
}

// Topic returns the subscribed topic.
func (s *LocalSubscription) Topic() string {
	return s.topic
}

// Events delivers presence events. It is closed by Unsubscribe.
func (s *LocalSubscription) Events() <-chan Event {
	return s.events
}

// NewHub creates a hub over registry.
func NewHub(registry Registry, opts HubOptions) *Hub {
	h := &Hub{
		registry:     registry,
		backplane:    opts.Backplane,
		obfuscator:   opts.Obfuscator,
		ttl:          opts.LivenessTTL,
		syncInterval: opts.SyncInterval,
		buffer:       opts.SubscriberBuffer,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Now,
		topics:       make(map[string]map[string]*LocalSubscription),
	}
	if h.ttl <= 0 {
		h.ttl = 60 * time.Second
	}
	if h.syncInterval <= 0 {
		h.syncInterval = h.ttl / 3
	}
	if h.buffer <= 0 {
		h.buffer = 32
	}
	if h.buffer < 2 {
		// room for the subscribed ack and the initial sync
		h.buffer = 2
	}
	if h.obfuscator == nil {
		h.obfuscator = NewKeyObfuscator("")
	}
	if h.logger == nil {
		h.logger = observability.NewNopLogger()
	}
	h.logger = h.logger.WithComponent("presence_hub")
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Subscribe attaches a subscriber to topic. The first events are a subscribed
// acknowledgement followed by a sync of the current members.
func (h *Hub) Subscribe(ctx context.Context, topic string) (*LocalSubscription, error) {
	if _, ok := ProfileFromTopic(topic); !ok {
		return nil, ErrInvalidTopic
	}

	members, err := h.registry.Members(ctx, topic, h.now())
	if err != nil {
		return nil, fmt.Errorf("failed to load presence members: %w", err)
	}

	sub := &LocalSubscription{
		id:     uuid.NewString(),
		topic:  topic,
		events: make(chan Event, h.buffer),
		hub:    h,
	}
	sub.events <- Event{Type: EventSubscribed, Topic: topic, SubscriptionID: sub.id}
	sub.events <- Event{Type: EventSync, Topic: topic, Keys: members}

	h.mu.Lock()
	subs := h.topics[topic]
	if subs == nil {
		subs = make(map[string]*LocalSubscription)
		h.topics[topic] = subs
	}
	subs[sub.id] = sub
	h.mu.Unlock()

	h.updateLoad()
	return sub, nil
}

// Track records the viewer behind a subscription and announces a join when the viewer
// was not already present.
func (h *Hub) Track(ctx context.Context, topic string, msg TrackMessage) error {
	if msg.ViewerKey == "" {
		return ErrInvalidViewerKey
	}

	h.mu.Lock()
	sub := h.topics[topic][msg.SubscriptionID]
	if sub == nil || sub.closed {
		h.mu.Unlock()
		return ErrUnknownSubscription
	}
	previous := sub.key
	token := h.obfuscator.Token(topic, msg.ViewerKey)
	sub.key = token
	h.mu.Unlock()

	now := h.now()
	if previous != "" && previous != token {
		h.untrack(ctx, topic, Entry{SubscriptionID: sub.id, Key: previous}, now)
	}

	joined, err := h.registry.Track(ctx, topic, Entry{
		SubscriptionID: sub.id,
		Key:            token,
		ExpiresAt:      now.Add(h.ttl),
	}, now)
	if err != nil {
		return fmt.Errorf("failed to track presence: %w", err)
	}
	if joined {
		h.publish(ctx, topic, Event{Type: EventJoin, Topic: topic, Key: token})
	}
	return nil
}

// Unsubscribe detaches sub, closes its event channel and announces a leave when it
// was the viewer's last subscription. Calling it twice is safe.
func (h *Hub) Unsubscribe(ctx context.Context, sub *LocalSubscription) {
	h.mu.Lock()
	if sub.closed {
		h.mu.Unlock()
		return
	}
	sub.closed = true
	key := sub.key
	if subs := h.topics[sub.topic]; subs != nil {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(h.topics, sub.topic)
		}
	}
	close(sub.events)
	h.mu.Unlock()

	h.updateLoad()

	if key != "" {
		h.untrack(ctx, sub.topic, Entry{SubscriptionID: sub.id, Key: key}, h.now())
	}
}

func (h *Hub) untrack(ctx context.Context, topic string, e Entry, now time.Time) {
	left, err := h.registry.Untrack(ctx, topic, e, now)
	if err != nil {
		// the entry expires on its own after the liveness TTL
		h.logger.WithError(err).WithField("topic", topic).Warn("failed to untrack presence")
		return
	}
	if left {
		h.publish(ctx, topic, Event{Type: EventLeave, Topic: topic, Key: e.Key})
	}
}

// Count returns the number of distinct present viewers in topic.
func (h *Hub) Count(ctx context.Context, topic string) (int, error) {
	members, err := h.registry.Members(ctx, topic, h.now())
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

func (h *Hub) publish(ctx context.Context, topic string, ev Event) {
	h.metrics.ObservePresenceEvent(string(ev.Type))

	if h.backplane == nil {
		h.deliver(topic, ev)
		return
	}
	if err := h.backplane.Publish(ctx, topic, ev); err != nil {
		h.logger.WithError(err).Warn("backplane publish failed, delivering locally")
		h.deliver(topic, ev)
	}
}

// deliver hands ev to every local subscriber of topic without blocking. A subscriber
// with a full buffer misses the event and is corrected by the next sync.
func (h *Hub) deliver(topic string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.topics[topic] {
		select {
		case sub.events <- ev:
		default:
			h.metrics.ObservePresenceDropped()
		}
	}
}

// Run refreshes, expires and re-syncs presence every sync interval and relays
// backplane events until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if h.backplane != nil {
		envelopes, err := h.backplane.Listen(ctx)
		if err != nil {
			return err
		}
		g.Go(func() error {
			for env := range envelopes {
				h.deliver(env.Topic, env.Event)
			}
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(h.syncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				h.Tick(ctx)
			}
		}
	})

	return g.Wait()
}

type topicSnapshot struct {
	topic   string
	entries []Entry
}

// Tick runs one maintenance round: refresh entries of live local subscriptions, sweep
// expired entries, and send every local subscriber an authoritative sync.
func (h *Hub) Tick(ctx context.Context) {
	defer observability.RecoverPanic(h.logger, "presence tick")

	now := h.now()
	snapshots := h.snapshot(now)

	errs := async.Batch(ctx, snapshots, 8, "presence refresh", h.syncInterval,
		func(ctx context.Context, s topicSnapshot) error {
			for _, e := range s.entries {
				joined, err := h.registry.Track(ctx, s.topic, e, now)
				if err != nil {
					return err
				}
				if joined {
					h.publish(ctx, s.topic, Event{Type: EventJoin, Topic: s.topic, Key: e.Key})
				}
			}
			return nil
		})
	for _, err := range errs {
		h.logger.WithError(err).Warn("presence refresh failed")
	}

	changes, err := h.registry.Expire(ctx, now)
	if err != nil {
		h.logger.WithError(err).Warn("presence expiry sweep failed")
	}
	h.metrics.ObservePresenceExpired(len(changes))
	for _, c := range changes {
		h.publish(ctx, c.Topic, Event{Type: EventLeave, Topic: c.Topic, Key: c.Key})
	}

	errs = async.Batch(ctx, snapshots, 8, "presence sync", h.syncInterval,
		func(ctx context.Context, s topicSnapshot) error {
			members, err := h.registry.Members(ctx, s.topic, now)
			if err != nil {
				return err
			}
			h.deliver(s.topic, Event{Type: EventSync, Topic: s.topic, Keys: members})
			return nil
		})
	for _, err := range errs {
		h.logger.WithError(err).Warn("presence sync failed")
	}

	h.updateLoad()
}

func (h *Hub) snapshot(now time.Time) []topicSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]topicSnapshot, 0, len(h.topics))
	for topic, subs := range h.topics {
		s := topicSnapshot{topic: topic}
		for _, sub := range subs {
			if sub.key != "" {
				s.entries = append(s.entries, Entry{SubscriptionID: sub.id, Key: sub.key, ExpiresAt: now.Add(h.ttl)})
			}
		}
		out = append(out, s)
	}
	return out
}

func (h *Hub) updateLoad() {
	h.mu.RLock()
	subs := 0
	for _, s := range h.topics {
		subs += len(s)
	}
	topics := len(h.topics)
	h.mu.RUnlock()

	h.metrics.SetPresenceLoad(subs, topics)
}

// Transport returns an in-process Transport backed by this hub.
func (h *Hub) Transport() Transport {
	return hubTransport{hub: h}
}

type hubTransport struct {
	hub *Hub
}

func (t hubTransport) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	sub, err := t.hub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	return &hubSubscription{sub: sub}, nil
}

type hubSubscription struct {
	sub *LocalSubscription
}

func (s *hubSubscription) Events() <-chan Event {
	return s.sub.events
}

func (s *hubSubscription) Track(ctx context.Context, msg TrackMessage) error {
	return s.sub.hub.Track(ctx, s.sub.topic, msg)
}

func (s *hubSubscription) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.sub.hub.Unsubscribe(ctx, s.sub)
	return nil
}
