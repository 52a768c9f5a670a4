// Package viewer models who is looking at a profile page: an authenticated user or an
// anonymous visitor.
package viewer

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/bioviews/pkg/contextkeys"
)

const anonymousPrefix = "anon_"

// Viewer is the identity resolved for the current request or client.
type Viewer struct {
	// UserID is empty for anonymous viewers
	UserID string
}

// Anonymous returns the identity of a signed-out visitor.
func Anonymous() Viewer {
	return Viewer{}
}

// Authenticated returns the identity of a signed-in user.
func Authenticated(userID string) Viewer {
	return Viewer{UserID: strings.TrimSpace(userID)}
}

// IsAuthenticated reports whether the viewer is signed in.
func (v Viewer) IsAuthenticated() bool {
	return v.UserID != ""
}

// Owns reports whether the viewer is the owner of the given profile. Profiles are keyed
// by their owner's user id, so this is an identity comparison.
func (v Viewer) Owns(profileUserID string) bool {
	return v.IsAuthenticated() && v.UserID == profileUserID
}

// UserIDPtr returns the user id as a nullable column value.
func (v Viewer) UserIDPtr() *string {
	if !v.IsAuthenticated() {
		return nil
	}
	id := v.UserID
	return &id
}

// PresenceKey returns the key this viewer tracks under on a presence topic: the user id
// when signed in, otherwise the supplied per-client anonymous key.
func (v Viewer) PresenceKey(anonymousKey string) string {
	if v.IsAuthenticated() {
		return v.UserID
	}
	return anonymousKey
}

// NewAnonymousKey generates a per-client key for anonymous presence tracking.
func NewAnonymousKey() string {
	return anonymousPrefix + uuid.NewString()
}

// IsAnonymousKey reports whether key was produced by NewAnonymousKey.
func IsAnonymousKey(key string) bool {
	return strings.HasPrefix(key, anonymousPrefix)
}

// WithViewer stores the viewer in the context.
func WithViewer(ctx context.Context, v Viewer) context.Context {
	ctx = context.WithValue(ctx, contextkeys.ViewerKey, v)
	if v.IsAuthenticated() {
		ctx = contextkeys.WithUserID(ctx, v.UserID)
	}
	return ctx
}

// FromContext returns the viewer stored in ctx, or an anonymous viewer.
func FromContext(ctx context.Context) Viewer {
	if v, ok := ctx.Value(contextkeys.ViewerKey).(Viewer); ok {
		return v
	}
	return Anonymous()
}
