package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coocood/freecache"
	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/bioviews/pkg/observability"
	"github.com/platinummonkey/bioviews/pkg/viewer"
	"github.com/platinummonkey/bioviews/pkg/views"
)

// MaxRecentViews caps the recent views preview.
const MaxRecentViews = 10

const summaryCacheName = "analytics_summary"

// ErrNotOwner reports that the caller does not own the profile. Service methods turn
// it into an empty result; it is exported for callers that gate other reads.
var ErrNotOwner = errors.New("caller does not own this profile")

// Options configures a Service. Zero values pick defaults.
type Options struct {
	RecentLimit    int
	WindowDays     int
	WindowMaxRows  int
	CacheSizeBytes int
	CacheTTL       time.Duration
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	Now            func() time.Time
}

// Summary is the owner dashboard payload.
type Summary struct {
	ProfileUserID string              `json:"profileUserId"`
	ViewCount     int64               `json:"viewCount"`
	RecentViews   []views.ProfileView `json:"recentViews"`
	ByDay         []DayCount          `json:"byDay"`
	Timezone      string              `json:"timezone"`
	WindowDays    int                 `json:"windowDays"`
}

// Service answers owner analytics queries.
type Service struct {
	views    views.ViewStore
	counts   views.CountStore
	cache    *freecache.Cache
	cacheTTL time.Duration
	limit    int
	window   int
	maxRows  int
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewService creates a service over the view and count stores.
func NewService(vs views.ViewStore, counts views.CountStore, opts Options) *Service {
	s := &Service{
		views:    vs,
		counts:   counts,
		cacheTTL: opts.CacheTTL,
		limit:    opts.RecentLimit,
		window:   opts.WindowDays,
		maxRows:  opts.WindowMaxRows,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
	if s.limit <= 0 || s.limit > MaxRecentViews {
		s.limit = MaxRecentViews
	}
	if s.window <= 0 {
		s.window = 30
	}
	if s.maxRows <= 0 {
		s.maxRows = 5000
	}
	if s.logger == nil {
		s.logger = observability.NewNopLogger()
	}
	s.logger = s.logger.WithComponent("analytics")
	if s.now == nil {
		s.now = time.Now
	}
	if opts.CacheSizeBytes > 0 && s.cacheTTL > 0 {
		s.cache = freecache.NewCache(opts.CacheSizeBytes)
	}
	return s
}

// Authorize returns ErrNotOwner unless caller owns profileUserID.
func Authorize(caller viewer.Viewer, profileUserID string) error {
	if !caller.Owns(profileUserID) {
		return ErrNotOwner
	}
	return nil
}

// RecentViews returns the newest views of a profile for its owner. Non-owners get an
// empty slice and no error. limit is clamped to the configured preview size.
func (s *Service) RecentViews(ctx context.Context, caller viewer.Viewer, profileUserID string, limit int) ([]views.ProfileView, error) {
	if Authorize(caller, profileUserID) != nil {
		return []views.ProfileView{}, nil
	}
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}

	rows, err := s.views.ListRecentViews(ctx, profileUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent views: %w", err)
	}
	views.SortRecent(rows)
	return rows, nil
}

// Summary builds the dashboard for the owner, with daily totals over the analytics
// window bucketed in loc. Non-owners get an empty summary and no error.
func (s *Service) Summary(ctx context.Context, caller viewer.Viewer, profileUserID string, loc *time.Location) (*Summary, error) {
	if loc == nil {
		loc = time.UTC
	}
	if Authorize(caller, profileUserID) != nil {
		return s.empty(profileUserID, loc), nil
	}

	ctx, span := observability.Tracer().Start(ctx, "analytics.Summary",
		trace.WithAttributes(
			attribute.String("profile_user_id", profileUserID),
			attribute.String("timezone", loc.String()),
		))
	defer span.End()

	cacheKey := []byte(profileUserID + "|" + loc.String())
	if cached := s.fromCache(cacheKey); cached != nil {
		return cached, nil
	}

	count, err := s.counts.GetViewCount(ctx, profileUserID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load view count: %w", err)
	}

	recent, err := s.RecentViews(ctx, caller, profileUserID, s.limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// the oldest bucket is a whole local day
	start := s.now().In(loc).AddDate(0, 0, -s.window)
	since := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	windowRows, err := s.views.ListViewsSince(ctx, profileUserID, since, s.maxRows)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load view window: %w", err)
	}
	if len(windowRows) == s.maxRows {
		s.logger.WithProfile(profileUserID).Warn("analytics window truncated at max rows")
	}

	summary := &Summary{
		ProfileUserID: profileUserID,
		ViewCount:     count,
		RecentViews:   recent,
		ByDay:         SortedDays(GroupByDay(windowRows, loc)),
		Timezone:      loc.String(),
		WindowDays:    s.window,
	}
	s.toCache(cacheKey, summary)
	return summary, nil
}

func (s *Service) empty(profileUserID string, loc *time.Location) *Summary {
	return &Summary{
		ProfileUserID: profileUserID,
		RecentViews:   []views.ProfileView{},
		ByDay:         []DayCount{},
		Timezone:      loc.String(),
		WindowDays:    s.window,
	}
}

func (s *Service) fromCache(key []byte) *Summary {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(key)
	if err != nil {
		s.metrics.ObserveCache(summaryCacheName, false)
		return nil
	}

	var summary Summary
	if err := json.Unmarshal(raw, &summary); err != nil {
		s.cache.Del(key)
		s.metrics.ObserveCache(summaryCacheName, false)
		return nil
	}
	s.metrics.ObserveCache(summaryCacheName, true)
	return &summary
}

func (s *Service) toCache(key []byte, summary *Summary) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := s.cache.Set(key, raw, int(s.cacheTTL.Seconds())); err != nil {
		s.logger.WithError(err).Debug("summary too large to cache")
	}
}
