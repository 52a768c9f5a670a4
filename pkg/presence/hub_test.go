package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/bioviews/pkg/observability"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Now()}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func next(t *testing.T, sub *LocalSubscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for presence event")
		return Event{}
	}
}

func drain(sub *LocalSubscription) {
	for {
		select {
		case <-sub.Events():
		default:
			return
		}
	}
}

func TestHub_SubscribeTrackLeave(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(NewMemoryRegistry(), HubOptions{})
	topic := TopicFor("alesta")

	owner, err := hub.Subscribe(ctx, topic)
	require.NoError(t, err)

	ack := next(t, owner)
	assert.Equal(t, EventSubscribed, ack.Type)
	assert.Equal(t, owner.ID(), ack.SubscriptionID)
	snap := next(t, owner)
	assert.Equal(t, EventSync, snap.Type)
	assert.Empty(t, snap.Keys)

	visitor, err := hub.Subscribe(ctx, topic)
	require.NoError(t, err)
	drain(visitor)

	require.NoError(t, hub.Track(ctx, topic, TrackMessage{SubscriptionID: visitor.ID(), ViewerKey: "anon_1"}))

	join := next(t, owner)
	assert.Equal(t, EventJoin, join.Type)
	assert.NotEqual(t, "anon_1", join.Key, "raw viewer keys never leave the hub")
	assert.Equal(t, EventJoin, next(t, visitor).Type)

	n, err := hub.Count(ctx, topic)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hub.Unsubscribe(ctx, visitor)
	hub.Unsubscribe(ctx, visitor)

	leave := next(t, owner)
	assert.Equal(t, EventLeave, leave.Type)
	assert.Equal(t, join.Key, leave.Key)

	_, open := <-visitor.Events()
	assert.False(t, open)
}

func TestHub_MultipleTabsCountOnce(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(NewMemoryRegistry(), HubOptions{})
	topic := TopicFor("alesta")

	watcher, _ := hub.Subscribe(ctx, topic)
	drain(watcher)

	tab1, _ := hub.Subscribe(ctx, topic)
	tab2, _ := hub.Subscribe(ctx, topic)
	require.NoError(t, hub.Track(ctx, topic, TrackMessage{SubscriptionID: tab1.ID(), ViewerKey: "user-1"}))
	require.NoError(t, hub.Track(ctx, topic, TrackMessage{SubscriptionID: tab2.ID(), ViewerKey: "user-1"}))

	assert.Equal(t, EventJoin, next(t, watcher).Type)

	n, _ := hub.Count(ctx, topic)
	assert.Equal(t, 1, n)

	hub.Unsubscribe(ctx, tab1)
	n, _ = hub.Count(ctx, topic)
	assert.Equal(t, 1, n, "other tab still present")

	hub.Unsubscribe(ctx, tab2)
	assert.Equal(t, EventLeave, next(t, watcher).Type)
}

func TestHub_TrackErrors(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(NewMemoryRegistry(), HubOptions{})

	_, err := hub.Subscribe(ctx, "not-a-topic")
	assert.ErrorIs(t, err, ErrInvalidTopic)

	err = hub.Track(ctx, TopicFor("a"), TrackMessage{SubscriptionID: "nope", ViewerKey: "k"})
	assert.ErrorIs(t, err, ErrUnknownSubscription)

	sub, _ := hub.Subscribe(ctx, TopicFor("a"))
	err = hub.Track(ctx, TopicFor("a"), TrackMessage{SubscriptionID: sub.ID()})
	assert.ErrorIs(t, err, ErrInvalidViewerKey)

	err = hub.Track(ctx, TopicFor("b"), TrackMessage{SubscriptionID: sub.ID(), ViewerKey: "k"})
	assert.ErrorIs(t, err, ErrUnknownSubscription, "subscription belongs to another topic")
}

func TestHub_TickExpiresPhantoms(t *testing.T) {
	ctx := context.Background()
	clock := newManualClock()
	registry := NewMemoryRegistry()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	hub := NewHub(registry, HubOptions{LivenessTTL: time.Minute, SyncInterval: 20 * time.Second, Now: clock.Now, Metrics: metrics})
	topic := TopicFor("alesta")

	watcher, _ := hub.Subscribe(ctx, topic)
	drain(watcher)

	// a viewer from an instance that died without unsubscribing
	_, err := registry.Track(ctx, topic, Entry{SubscriptionID: "dead", Key: "phantom", ExpiresAt: clock.Now().Add(time.Minute)}, clock.Now())
	require.NoError(t, err)

	live, _ := hub.Subscribe(ctx, topic)
	require.NoError(t, hub.Track(ctx, topic, TrackMessage{SubscriptionID: live.ID(), ViewerKey: "here"}))
	drain(watcher)

	clock.Advance(30 * time.Second)
	hub.Tick(ctx)
	snap := next(t, watcher)
	assert.Equal(t, EventSync, snap.Type)
	assert.Len(t, snap.Keys, 2, "phantom still inside its liveness window")

	clock.Advance(45 * time.Second)
	hub.Tick(ctx)

	leave := next(t, watcher)
	assert.Equal(t, EventLeave, leave.Type)
	assert.Equal(t, "phantom", leave.Key)

	snap = next(t, watcher)
	assert.Equal(t, EventSync, snap.Type)
	assert.Len(t, snap.Keys, 1, "live subscription was refreshed by the earlier tick")

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PresenceExpiredTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.PresenceSubscribers))
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	hub := NewHub(NewMemoryRegistry(), HubOptions{SubscriberBuffer: 2, Metrics: metrics})
	topic := TopicFor("alesta")

	slow, _ := hub.Subscribe(ctx, topic)

	for i := 0; i < 3; i++ {
		sub, _ := hub.Subscribe(ctx, topic)
		require.NoError(t, hub.Track(ctx, topic, TrackMessage{SubscriptionID: sub.ID(), ViewerKey: string(rune('a' + i))}))
	}

	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.PresenceDroppedTotal), float64(3))
	assert.Equal(t, EventSubscribed, next(t, slow).Type, "buffered events are intact")
}

func TestHub_SharedBackplane(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	registry := NewRedisRegistry(client, "")
	backplane := NewLoopbackBackplane(16)
	obf := NewKeyObfuscator("shared")

	hubA := NewHub(registry, HubOptions{Backplane: backplane, Obfuscator: obf, SyncInterval: time.Hour})
	hubB := NewHub(registry, HubOptions{Backplane: backplane, Obfuscator: obf, SyncInterval: time.Hour})

	doneA := make(chan error, 1)
	doneB := make(chan error, 1)
	go func() { doneA <- hubA.Run(ctx) }()
	go func() { doneB <- hubB.Run(ctx) }()

	topic := TopicFor("alesta")
	owner, err := hubA.Subscribe(ctx, topic)
	require.NoError(t, err)
	drain(owner)

	visitor, err := hubB.Subscribe(ctx, topic)
	require.NoError(t, err)

	// wait for both listeners to attach before publishing
	assert.Eventually(t, func() bool {
		backplane.mu.RLock()
		defer backplane.mu.RUnlock()
		return len(backplane.listeners) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, hubB.Track(ctx, topic, TrackMessage{SubscriptionID: visitor.ID(), ViewerKey: "anon_1"}))

	join := next(t, owner)
	assert.Equal(t, EventJoin, join.Type, "join crosses instances")

	n, err := hubA.Count(ctx, topic)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cancel()
	assert.NoError(t, <-doneA)
	assert.NoError(t, <-doneB)
}
