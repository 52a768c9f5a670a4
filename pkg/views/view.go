package views

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gookit/validate"
)

var (
	// ErrInvalidRequest marks malformed record input. Nothing is written.
	ErrInvalidRequest = errors.New("invalid view request")
	// ErrProfileNotFound is returned when the profile being viewed does not exist.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrCounterNotUpdated means the view row was stored but the counter increment
	// failed. Callers treat it as success with counter drift.
	ErrCounterNotUpdated = errors.New("view recorded but counter not updated")
)

// ViewID identifies a stored view.
type ViewID string

// ProfileView is one recorded page view. Rows are append-only.
type ProfileView struct {
	ID            ViewID    `json:"id"`
	Seq           int64     `json:"seq"`
	ProfileUserID string    `json:"profileUserId"`
	ViewerUserID  *string   `json:"viewerUserId,omitempty"`
	ViewerIPHash  *string   `json:"viewerIpHash,omitempty"`
	UserAgent     *string   `json:"userAgent,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// RecordRequest is the input to RecordView. ViewerIP is hashed before anything is
// stored; UserAgent is sanitized.
type RecordRequest struct {
	ProfileUserID string  `json:"profileUserId" validate:"required|maxLen:128"`
	ViewerUserID  *string `json:"viewerUserId,omitempty"`
	ViewerIP      string  `json:"viewerIp,omitempty" validate:"maxLen:64"`
	UserAgent     string  `json:"userAgent,omitempty"`
}

// Validate checks the request shape.
func (r *RecordRequest) Validate() error {
	r.ProfileUserID = strings.TrimSpace(r.ProfileUserID)
	if r.ViewerUserID != nil {
		id := strings.TrimSpace(*r.ViewerUserID)
		if id == "" {
			r.ViewerUserID = nil
		} else {
			r.ViewerUserID = &id
		}
	}

	v := validate.Struct(r)
	if !v.Validate() {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, v.Errors.One())
	}
	return nil
}

// ViewStore holds ProfileView rows.
type ViewStore interface {
	// InsertView stores v and assigns v.Seq. ErrProfileNotFound when the profile is unknown.
	InsertView(ctx context.Context, v *ProfileView) error
	// ListRecentViews returns up to limit rows, newest first, ties by Seq ascending.
	ListRecentViews(ctx context.Context, profileUserID string, limit int) ([]ProfileView, error)
	// ListViewsSince returns up to limit rows created at or after since, in the same order.
	ListViewsSince(ctx context.Context, profileUserID string, since time.Time, limit int) ([]ProfileView, error)
	// PurgeViewsBefore deletes rows older than cutoff and reports how many were removed.
	PurgeViewsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CountStore owns the per-profile counter.
type CountStore interface {
	GetViewCount(ctx context.Context, profileUserID string) (int64, error)
	IncrementViewCount(ctx context.Context, profileUserID string) (int64, error)
}

// AtomicRecorder inserts a view and increments the counter as one unit.
type AtomicRecorder interface {
	RecordViewAtomic(ctx context.Context, v *ProfileView) (int64, error)
}

// SortRecent orders views newest first with ties broken by Seq ascending.
func SortRecent(views []ProfileView) {
	sortViews(views)
}
