package presence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/bioviews/pkg/observability"
)

// ErrAlreadyJoined is returned by Join on a channel that has already been used.
var ErrAlreadyJoined = errors.New("presence channel already joined")

// Transport opens subscriptions to presence topics.
type Transport interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription is one open subscription. Events is closed when the subscription ends
// for any reason.
type Subscription interface {
	Events() <-chan Event
	Track(ctx context.Context, msg TrackMessage) error
	Close() error
}

// State is the lifecycle state of a Channel.
type State int32

const (
	StateDisconnected State = iota
	StateJoining
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

// ChannelOptions configures a Channel.
type ChannelOptions struct {
	Logger       *observability.Logger
	Now          func() time.Time
	TrackTimeout time.Duration
}

// Channel is one client's membership in a profile's presence topic. A Channel is
// single-use: Join once, Leave once. Leave after the transport failed is still safe.
type Channel struct {
	transport Transport
	topic     string
	viewerKey string
	logger    *observability.Logger
	now       func() time.Time
	timeout   time.Duration

	state  atomic.Int32
	count  atomic.Int64
	counts chan int

	mu      sync.Mutex
	started bool
	sub     Subscription
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewChannel creates a channel for profileUserID announcing viewerKey.
func NewChannel(transport Transport, profileUserID, viewerKey string, opts ChannelOptions) *Channel {
	c := &Channel{
		transport: transport,
		topic:     TopicFor(profileUserID),
		viewerKey: viewerKey,
		logger:    opts.Logger,
		now:       opts.Now,
		timeout:   opts.TrackTimeout,
		counts:    make(chan int, 1),
		done:      make(chan struct{}),
	}
	if c.logger == nil {
		c.logger = observability.NewNopLogger()
	}
	c.logger = c.logger.WithComponent("presence").WithField("topic", c.topic)
	if c.now == nil {
		c.now = time.Now
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}
	return c
}

// Topic returns the topic this channel joins.
func (c *Channel) Topic() string {
	return c.topic
}

// State reports the current lifecycle state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Count is the latest number of distinct present viewers.
func (c *Channel) Count() int {
	return int(c.count.Load())
}

// Counts delivers count changes. It holds only the latest value, so a slow reader
// skips intermediate counts rather than blocking the reducer.
func (c *Channel) Counts() <-chan int {
	return c.counts
}

// Done is closed once the reducer has stopped.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Join opens the subscription and starts the reducer. It returns once the
// subscription is open; the track message is sent when the transport acknowledges it.
func (c *Channel) Join(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyJoined
	}
	c.started = true
	c.state.Store(int32(StateJoining))

	sub, err := c.transport.Subscribe(ctx, c.topic)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		close(c.done)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.sub = sub
	c.cancel = cancel

	go c.reduce(runCtx, sub)
	return nil
}

// Leave closes the subscription and waits for the reducer to stop. It is safe to call
// more than once and before Join.
func (c *Channel) Leave() error {
	c.mu.Lock()
	sub, cancel := c.sub, c.cancel
	c.sub, c.cancel = nil, nil
	if !c.started {
		c.started = true
		close(c.done)
	}
	c.mu.Unlock()

	var err error
	if cancel != nil {
		cancel()
	}
	if sub != nil {
		err = sub.Close()
	}
	<-c.done
	c.state.Store(int32(StateDisconnected))
	return err
}

func (c *Channel) reduce(ctx context.Context, sub Subscription) {
	defer close(c.done)
	defer c.state.Store(int32(StateDisconnected))
	defer observability.RecoverPanic(c.logger, "presence reducer")

	set := NewSet()
	events := sub.Events()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == EventSubscribed {
				c.track(ctx, sub, ev.SubscriptionID)
				continue
			}
			set = set.Apply(ev)
			c.publish(set.Len())
		}
	}
}

func (c *Channel) track(ctx context.Context, sub Subscription, subscriptionID string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg := TrackMessage{
		SubscriptionID: subscriptionID,
		ViewerKey:      c.viewerKey,
		JoinedAt:       c.now().UTC(),
	}
	if err := sub.Track(ctx, msg); err != nil {
		// still joined as a listener; the count stays visible
		c.logger.WithError(err).Warn("presence track failed")
	}
	c.state.CompareAndSwap(int32(StateJoining), int32(StateJoined))
}

func (c *Channel) publish(n int) {
	if int64(n) == c.count.Swap(int64(n)) {
		return
	}
	select {
	case <-c.counts:
	default:
	}
	c.counts <- n
}
