package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/platinummonkey/bioviews/pkg/httputil"
	"github.com/platinummonkey/bioviews/pkg/observability"
	"github.com/platinummonkey/bioviews/pkg/presence"
	"github.com/platinummonkey/bioviews/pkg/viewer"
	"github.com/platinummonkey/bioviews/pkg/views"
)

// PresenceCountResponse is the body of GET /api/v1/profiles/{id}/presence.
type PresenceCountResponse struct {
	ActiveViewers int `json:"activeViewers"`
}

// getAnalytics handles GET /api/v1/profiles/{id}/analytics
// Query params:
//   - limit: recent views to return (1-10)
//   - tz: IANA zone for day buckets, defaults to the server zone
func (s *Server) getAnalytics(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil || limit < 0 {
		httputil.WriteBadRequest(w, "limit must be a non-negative integer")
		return
	}

	loc := s.loc
	if tz := httputil.ParseQueryString(r, "tz", ""); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			httputil.WriteBadRequest(w, "unknown time zone: "+tz)
			return
		}
	}

	summary, err := s.analytics.Summary(r.Context(), viewer.FromContext(r.Context()), id, loc)
	if errors.Is(err, views.ErrProfileNotFound) {
		httputil.WriteNotFoundError(w, "profile not found")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithProfile(id).WithError(err).Error("failed to build analytics")
		httputil.WriteServiceUnavailable(w, "analytics unavailable")
		return
	}
	if limit > 0 && limit < len(summary.RecentViews) {
		summary.RecentViews = summary.RecentViews[:limit]
	}

	_ = httputil.WriteSuccess(w, summary)
}

// getPresence handles GET /api/v1/profiles/{id}/presence
func (s *Server) getPresence(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if !viewer.FromContext(r.Context()).Owns(id) {
		_ = httputil.WriteSuccess(w, PresenceCountResponse{})
		return
	}

	count, err := s.hub.Count(r.Context(), presence.TopicFor(id))
	if err != nil {
		observability.FromContext(r.Context()).WithProfile(id).WithError(err).Error("failed to count presence")
		httputil.WriteServiceUnavailable(w, "presence unavailable")
		return
	}

	_ = httputil.WriteSuccess(w, PresenceCountResponse{ActiveViewers: count})
}
