package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/bioviews/pkg/async"
	"github.com/platinummonkey/bioviews/pkg/dedup"
	"github.com/platinummonkey/bioviews/pkg/observability"
	"github.com/platinummonkey/bioviews/pkg/presence"
	"github.com/platinummonkey/bioviews/pkg/viewer"
	"github.com/platinummonkey/bioviews/pkg/views"
)

// DefaultJoinTimeout bounds opening a presence subscription.
const DefaultJoinTimeout = 5 * time.Second

// Options configures a Tracker. Guard and Recorder are required; a nil Transport
// disables presence.
type Options struct {
	Guard     *dedup.Guard
	Recorder  ViewRecorder
	Transport presence.Transport
	Viewer    viewer.Viewer
	// AnonymousKey identifies this client in presence when signed out
	AnonymousKey  string
	RecordTimeout time.Duration
	JoinTimeout   time.Duration
	Logger        *observability.Logger
	Metrics       *observability.Metrics
	Now           func() time.Time
}

// Tracker creates page sessions for one client.
type Tracker struct {
	opts Options
}

// New creates a tracker. A missing anonymous key is generated once and reused for
// every session of this tracker.
func New(opts Options) *Tracker {
	if opts.AnonymousKey == "" {
		opts.AnonymousKey = viewer.NewAnonymousKey()
	}
	if opts.RecordTimeout <= 0 {
		opts.RecordTimeout = views.DefaultRecordTimeout
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	opts.Logger = opts.Logger.WithComponent("tracker")
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{opts: opts}
}

// ViewerKey returns the key this client tracks under in presence.
func (t *Tracker) ViewerKey() string {
	return t.opts.Viewer.PresenceKey(t.opts.AnonymousKey)
}

// Session is one page mount.
type Session struct {
	profileUserID string
	tracked       bool
	recorded      <-chan struct{}
	joined        <-chan struct{}
	channel       *presence.Channel
}

// Mount starts a page session for profileUserID. It returns immediately: the cooldown
// decision is made synchronously, recording and presence join run in the background.
// Cancelling ctx does not abort an in-flight record; each background step carries
// its own timeout.
func (t *Tracker) Mount(ctx context.Context, profileUserID string) *Session {
	logger := t.opts.Logger.WithProfile(profileUserID)
	bg := observability.WithLogger(context.WithoutCancel(ctx), logger)

	s := &Session{profileUserID: profileUserID}

	s.tracked = t.opts.Guard.Mount(profileUserID).ShouldTrack(t.opts.Now())
	t.opts.Metrics.ObserveDedup(s.tracked)
	if s.tracked {
		s.recorded = async.SafeGo(bg, t.opts.RecordTimeout, "record profile view", func(ctx context.Context) error {
			return t.opts.Recorder.RecordView(ctx, profileUserID)
		})
	} else {
		logger.Debug("view within cooldown, not recorded")
	}

	if t.opts.Transport != nil {
		s.channel = presence.NewChannel(t.opts.Transport, profileUserID, t.ViewerKey(), presence.ChannelOptions{
			Logger: logger,
			Now:    t.opts.Now,
		})
		s.joined = async.SafeGo(bg, t.opts.JoinTimeout, "join presence", func(ctx context.Context) error {
			err := s.channel.Join(ctx)
			if errors.Is(err, presence.ErrAlreadyJoined) {
				// unmounted before the join started
				return nil
			}
			return err
		})
	}
	return s
}

// ProfileUserID returns the mounted profile.
func (s *Session) ProfileUserID() string {
	return s.profileUserID
}

// Tracked reports whether this mount attempted to record a view.
func (s *Session) Tracked() bool {
	return s.tracked
}

// Presence returns the session's presence channel, or nil when presence is disabled.
func (s *Session) Presence() *presence.Channel {
	return s.channel
}

// Wait blocks until the background record and join have finished or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	for _, ch := range []<-chan struct{}{s.recorded, s.joined} {
		if ch == nil {
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Unmount leaves the presence topic. It is safe to call more than once and does not
// wait for an in-flight record.
func (s *Session) Unmount() error {
	if s.channel == nil {
		return nil
	}
	return s.channel.Leave()
}
