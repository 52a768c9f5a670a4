package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTransport hands out one subscription whose events the test feeds directly.
type scriptedTransport struct {
	sub *scriptedSubscription
	err error
}

func (t *scriptedTransport) Subscribe(context.Context, string) (Subscription, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.sub, nil
}

type scriptedSubscription struct {
	events chan Event

	mu      sync.Mutex
	tracked []TrackMessage
	closes  int
	once    sync.Once
}

func newScriptedSubscription() *scriptedSubscription {
	return &scriptedSubscription{events: make(chan Event, 16)}
}

func (s *scriptedSubscription) Events() <-chan Event { return s.events }

func (s *scriptedSubscription) Track(_ context.Context, msg TrackMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked = append(s.tracked, msg)
	return nil
}

func (s *scriptedSubscription) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.once.Do(func() { close(s.events) })
	return nil
}

func (s *scriptedSubscription) trackedMessages() []TrackMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TrackMessage(nil), s.tracked...)
}

func TestChannel_Lifecycle(t *testing.T) {
	sub := newScriptedSubscription()
	joinedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ch := NewChannel(&scriptedTransport{sub: sub}, "alesta", "anon_1", ChannelOptions{
		Now: func() time.Time { return joinedAt },
	})

	assert.Equal(t, StateDisconnected, ch.State())
	assert.Equal(t, "profile_alesta", ch.Topic())

	require.NoError(t, ch.Join(context.Background()))
	assert.Equal(t, StateJoining, ch.State())
	assert.Empty(t, sub.trackedMessages(), "no track before the acknowledgement")

	sub.events <- Event{Type: EventSubscribed, SubscriptionID: "sub-1"}
	require.Eventually(t, func() bool { return ch.State() == StateJoined }, time.Second, time.Millisecond)

	tracked := sub.trackedMessages()
	require.Len(t, tracked, 1)
	assert.Equal(t, TrackMessage{SubscriptionID: "sub-1", ViewerKey: "anon_1", JoinedAt: joinedAt}, tracked[0])

	sub.events <- Event{Type: EventSync, Keys: []string{"a", "b", "c"}}
	sub.events <- Event{Type: EventLeave, Key: "b"}
	sub.events <- Event{Type: EventJoin, Key: "b"}
	sub.events <- Event{Type: EventJoin, Key: "b"}
	require.Eventually(t, func() bool { return ch.Count() == 3 }, time.Second, time.Millisecond)

	require.NoError(t, ch.Leave())
	require.NoError(t, ch.Leave())
	assert.Equal(t, StateDisconnected, ch.State())
	assert.Equal(t, 1, sub.closes)

	assert.ErrorIs(t, ch.Join(context.Background()), ErrAlreadyJoined)
}

func TestChannel_CountsHoldsLatest(t *testing.T) {
	sub := newScriptedSubscription()
	ch := NewChannel(&scriptedTransport{sub: sub}, "alesta", "k", ChannelOptions{})
	require.NoError(t, ch.Join(context.Background()))
	defer ch.Leave()

	sub.events <- Event{Type: EventJoin, Key: "a"}
	sub.events <- Event{Type: EventJoin, Key: "b"}
	sub.events <- Event{Type: EventJoin, Key: "c"}
	require.Eventually(t, func() bool { return ch.Count() == 3 }, time.Second, time.Millisecond)

	select {
	case n := <-ch.Counts():
		assert.Equal(t, 3, n)
	case <-time.After(time.Second):
		t.Fatal("no count published")
	}
}

func TestChannel_TransportEndsStream(t *testing.T) {
	sub := newScriptedSubscription()
	ch := NewChannel(&scriptedTransport{sub: sub}, "alesta", "k", ChannelOptions{})
	require.NoError(t, ch.Join(context.Background()))

	close(sub.events)
	sub.once.Do(func() {})

	select {
	case <-ch.Done():
	case <-time.After(time.Second):
		t.Fatal("reducer did not stop")
	}
	assert.Equal(t, StateDisconnected, ch.State())
	assert.NoError(t, ch.Leave(), "leave stays unconditional after a dropped stream")
}

func TestChannel_SubscribeFailure(t *testing.T) {
	ch := NewChannel(&scriptedTransport{err: errors.New("offline")}, "alesta", "k", ChannelOptions{})

	assert.Error(t, ch.Join(context.Background()))
	assert.Equal(t, StateDisconnected, ch.State())
	assert.NoError(t, ch.Leave())
}

func TestChannel_LeaveBeforeJoin(t *testing.T) {
	ch := NewChannel(&scriptedTransport{sub: newScriptedSubscription()}, "alesta", "k", ChannelOptions{})
	assert.NoError(t, ch.Leave())
	assert.ErrorIs(t, ch.Join(context.Background()), ErrAlreadyJoined)
}

func TestChannel_WithHub(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(NewMemoryRegistry(), HubOptions{})

	owner := NewChannel(hub.Transport(), "alesta", "alesta", ChannelOptions{})
	require.NoError(t, owner.Join(ctx))
	defer owner.Leave()

	visitors := make([]*Channel, 0, 3)
	for _, key := range []string{"anon_1", "anon_2", "anon_2"} {
		v := NewChannel(hub.Transport(), "alesta", key, ChannelOptions{})
		require.NoError(t, v.Join(ctx))
		visitors = append(visitors, v)
	}

	require.Eventually(t, func() bool { return owner.Count() == 3 }, time.Second, time.Millisecond,
		"owner plus two distinct visitors")

	require.NoError(t, visitors[0].Leave())
	require.Eventually(t, func() bool { return owner.Count() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, visitors[1].Leave())
	assert.Never(t, func() bool { return owner.Count() != 2 }, 50*time.Millisecond, 5*time.Millisecond,
		"second tab of anon_2 keeps it present")

	require.NoError(t, visitors[2].Leave())
	require.Eventually(t, func() bool { return owner.Count() == 1 }, time.Second, time.Millisecond)
}
