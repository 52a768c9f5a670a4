package views

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/bioviews/pkg/observability"
)

// DefaultRecordTimeout bounds a RecordView call when no timeout is configured.
const DefaultRecordTimeout = 3 * time.Second

// RecorderOptions configures a Recorder. Zero values pick defaults.
type RecorderOptions struct {
	Hasher  *IPHasher
	Timeout time.Duration
	// Atomic selects the single-procedure path when the view store supports it
	Atomic  bool
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
	NewID   func() ViewID
}

// countCache is implemented by count stores that keep a local copy of the counter.
type countCache interface {
	Prime(profileUserID string, n int64)
	Invalidate(profileUserID string)
}

// Recorder writes views. It is safe for concurrent use.
type Recorder struct {
	views   ViewStore
	counts  CountStore
	hasher  *IPHasher
	timeout time.Duration
	atomic  bool
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
	newID   func() ViewID
}

// NewRecorder creates a recorder over the given stores.
func NewRecorder(views ViewStore, counts CountStore, opts RecorderOptions) *Recorder {
	r := &Recorder{
		views:   views,
		counts:  counts,
		hasher:  opts.Hasher,
		timeout: opts.Timeout,
		atomic:  opts.Atomic,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		newID:   opts.NewID,
	}
	if r.hasher == nil {
		r.hasher = NewIPHasher("")
	}
	if r.timeout <= 0 {
		r.timeout = DefaultRecordTimeout
	}
	if r.logger == nil {
		r.logger = observability.NewNopLogger()
	}
	r.logger = r.logger.WithComponent("recorder")
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = func() ViewID { return ViewID(uuid.NewString()) }
	}
	return r
}

// RecordView stores one view and increments the profile's counter.
//
// On ErrCounterNotUpdated the returned id is valid: the row exists and only the counter
// is behind. Any other error means nothing was stored. Failures are not retried.
func (r *Recorder) RecordView(ctx context.Context, req RecordRequest) (ViewID, error) {
	if err := req.Validate(); err != nil {
		r.metrics.ObserveRecordFailure("validate")
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ctx, span := observability.Tracer().Start(ctx, "views.RecordView",
		trace.WithAttributes(attribute.String("profile_user_id", req.ProfileUserID)))
	defer span.End()

	began := time.Now()
	view := r.buildView(req)
	logger := observability.UpdateLoggerWithTraceContext(ctx, r.logger.WithProfile(req.ProfileUserID))

	if ar, ok := r.views.(AtomicRecorder); ok && r.atomic {
		count, err := ar.RecordViewAtomic(ctx, view)
		cc, cached := r.counts.(countCache)
		if err != nil {
			// the procedure may have committed before the error surfaced
			if cached {
				cc.Invalidate(req.ProfileUserID)
			}
			r.fail(span, logger, "atomic", err)
			return "", err
		}
		if cached {
			cc.Prime(req.ProfileUserID, count)
		}
		r.metrics.ObserveRecord("atomic", time.Since(began))
		logger.WithField("view_id", view.ID).Debug("view recorded")
		return view.ID, nil
	}

	if err := r.views.InsertView(ctx, view); err != nil {
		r.fail(span, logger, "insert", err)
		return "", err
	}

	if _, err := r.counts.IncrementViewCount(ctx, req.ProfileUserID); err != nil {
		r.fail(span, logger.WithField("view_id", view.ID), "increment", err)
		return view.ID, fmt.Errorf("%w: %w", ErrCounterNotUpdated, err)
	}

	r.metrics.ObserveRecord("sequential", time.Since(began))
	logger.WithField("view_id", view.ID).Debug("view recorded")
	return view.ID, nil
}

func (r *Recorder) buildView(req RecordRequest) *ProfileView {
	v := &ProfileView{
		ID:            r.newID(),
		ProfileUserID: req.ProfileUserID,
		ViewerUserID:  req.ViewerUserID,
		CreatedAt:     r.now().UTC(),
	}
	if h := r.hasher.Hash(req.ViewerIP); h != "" {
		v.ViewerIPHash = &h
	}
	if ua := SanitizeUserAgent(req.UserAgent); ua != "" {
		v.UserAgent = &ua
	}
	return v
}

func (r *Recorder) fail(span trace.Span, logger *observability.Logger, stage string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	r.metrics.ObserveRecordFailure(stage)
	logger.WithError(err).WithField("stage", stage).Warn("failed to record view")
}
