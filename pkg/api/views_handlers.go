package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/bioviews/pkg/dedup"
	"github.com/platinummonkey/bioviews/pkg/httputil"
	"github.com/platinummonkey/bioviews/pkg/observability"
	"github.com/platinummonkey/bioviews/pkg/viewer"
	"github.com/platinummonkey/bioviews/pkg/views"
)

// RecordViewRequest is the body of POST /api/v1/views.
type RecordViewRequest struct {
	ProfileUserID string  `json:"profileUserId"`
	ViewerUserID  *string `json:"viewerUserId,omitempty"`
	ViewerIP      string  `json:"viewerIp,omitempty"`
	UserAgent     string  `json:"userAgent,omitempty"`
}

// RecordViewResponse is the body returned by POST /api/v1/views.
type RecordViewResponse struct {
	Success bool         `json:"success"`
	ViewID  views.ViewID `json:"viewId,omitempty"`
	// Duplicate is set when the server-side cooldown skipped the record
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ViewCountResponse is the body of GET /api/v1/profiles/{id}/view-count.
type ViewCountResponse struct {
	ProfileUserID string `json:"profileUserId"`
	ViewCount     int64  `json:"viewCount"`
}

// recordView handles POST /api/v1/views
func (s *Server) recordView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	var body RecordViewRequest
	if err := httputil.ParseJSON(r, &body); err != nil {
		_ = httputil.WriteJSON(w, http.StatusBadRequest, RecordViewResponse{Error: err.Error()})
		return
	}

	req := s.buildRecordRequest(r, body)
	if err := req.Validate(); err != nil {
		_ = httputil.WriteJSON(w, http.StatusBadRequest, RecordViewResponse{Error: err.Error()})
		return
	}

	if s.cooldowns != nil {
		guard := dedup.NewGuard(s.cooldowns.Scoped(s.deviceScope(r, req.ViewerIP)), s.cooldown)
		tracked := guard.ShouldTrack(req.ProfileUserID, s.now())
		s.metrics.ObserveDedup(tracked)
		if !tracked {
			_ = httputil.WriteSuccess(w, RecordViewResponse{Success: true, Duplicate: true})
			return
		}
	}

	id, err := s.recorder.RecordView(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, views.ErrCounterNotUpdated):
		// the row exists; counter drift is accepted
		logger.WithProfile(req.ProfileUserID).WithError(err).Warn("view recorded without counter update")
	case errors.Is(err, views.ErrInvalidRequest):
		_ = httputil.WriteJSON(w, http.StatusBadRequest, RecordViewResponse{Error: err.Error()})
		return
	case errors.Is(err, views.ErrProfileNotFound):
		_ = httputil.WriteJSON(w, http.StatusNotFound, RecordViewResponse{Error: "profile not found"})
		return
	default:
		logger.WithProfile(req.ProfileUserID).WithError(err).Error("failed to record view")
		_ = httputil.WriteJSON(w, http.StatusServiceUnavailable, RecordViewResponse{Error: "view not recorded"})
		return
	}

	_ = httputil.WriteCreated(w, RecordViewResponse{Success: true, ViewID: id})
}

// buildRecordRequest fills viewer details from the request. The resolved identity and
// connection address win over the body unless the client is trusted.
func (s *Server) buildRecordRequest(r *http.Request, body RecordViewRequest) views.RecordRequest {
	req := views.RecordRequest{
		ProfileUserID: body.ProfileUserID,
		ViewerUserID:  viewer.FromContext(r.Context()).UserIDPtr(),
		ViewerIP:      httputil.ClientIP(r),
		UserAgent:     body.UserAgent,
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}
	if s.trust {
		if body.ViewerUserID != nil {
			req.ViewerUserID = body.ViewerUserID
		}
		if body.ViewerIP != "" {
			req.ViewerIP = body.ViewerIP
		}
	}
	return req
}

func (s *Server) deviceScope(r *http.Request, ip string) string {
	if device := strings.TrimSpace(r.Header.Get(DeviceHeader)); device != "" && len(device) <= 128 {
		return "device:" + device
	}
	return "ip:" + s.hasher.Hash(ip)
}

// getViewCount handles GET /api/v1/profiles/{id}/view-count
func (s *Server) getViewCount(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	count, err := s.counts.GetViewCount(r.Context(), id)
	if err != nil {
		if errors.Is(err, views.ErrProfileNotFound) {
			httputil.WriteNotFoundError(w, "profile not found")
			return
		}
		observability.FromContext(r.Context()).WithProfile(id).WithError(err).Error("failed to read view count")
		httputil.WriteServiceUnavailable(w, "view count unavailable")
		return
	}

	_ = httputil.WriteSuccess(w, ViewCountResponse{ProfileUserID: id, ViewCount: count})
}
