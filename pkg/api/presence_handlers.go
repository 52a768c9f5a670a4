package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/platinummonkey/bioviews/pkg/httputil"
	"github.com/platinummonkey/bioviews/pkg/observability"
	"github.com/platinummonkey/bioviews/pkg/presence"
	"github.com/platinummonkey/bioviews/pkg/viewer"
)

const unsubscribeTimeout = 5 * time.Second

// TrackResponse is the body returned by POST /api/v1/presence/{topic}/track.
type TrackResponse struct {
	Status string `json:"status"`
}

// streamPresence handles GET /api/v1/presence/{topic}/stream
// The first frame is the subscribed acknowledgement carrying the subscription id the
// client must send back with track. The subscription ends when the client goes away.
func (s *Server) streamPresence(w http.ResponseWriter, r *http.Request) {
	topic, ok := httputil.ParsePathStringOrError(w, r, "topic")
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	logger := observability.FromContext(ctx).WithField("topic", topic)

	sub, err := s.hub.Subscribe(ctx, topic)
	if err != nil {
		if errors.Is(err, presence.ErrInvalidTopic) {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		logger.WithError(err).Error("failed to subscribe to presence")
		httputil.WriteServiceUnavailable(w, "presence unavailable")
		return
	}
	defer func() {
		// the request context is already cancelled when the client leaves
		unsubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unsubscribeTimeout)
		defer cancel()
		s.hub.Unsubscribe(unsubCtx, sub)
	}()
	defer observability.RecoverPanic(logger, "presence stream")

	h := w.Header()
	h.Set("Content-Type", presence.SSEContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if err := presence.WriteSSE(w, ev); err != nil {
				logger.WithError(err).Debug("presence stream write failed")
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if err := presence.WriteSSEComment(w, "keep-alive"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// trackPresence handles POST /api/v1/presence/{topic}/track
// Signed-in viewers are always tracked under their user id.
func (s *Server) trackPresence(w http.ResponseWriter, r *http.Request) {
	topic, ok := httputil.ParsePathStringOrError(w, r, "topic")
	if !ok {
		return
	}

	var msg presence.TrackMessage
	if !httputil.ParseJSONOrError(w, r, &msg) {
		return
	}
	msg.ViewerKey = viewer.FromContext(r.Context()).PresenceKey(msg.ViewerKey)
	if msg.JoinedAt.IsZero() {
		msg.JoinedAt = s.now()
	}

	err := s.hub.Track(r.Context(), topic, msg)
	switch {
	case err == nil:
	case errors.Is(err, presence.ErrInvalidViewerKey):
		httputil.WriteBadRequest(w, err.Error())
		return
	case errors.Is(err, presence.ErrUnknownSubscription):
		httputil.WriteNotFoundError(w, err.Error())
		return
	default:
		observability.FromContext(r.Context()).WithField("topic", topic).WithError(err).Error("failed to track presence")
		httputil.WriteServiceUnavailable(w, "presence unavailable")
		return
	}

	_ = httputil.WriteAccepted(w, TrackResponse{Status: "tracked"})
}
