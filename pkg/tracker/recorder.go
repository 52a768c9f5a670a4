package tracker

import (
	"context"
	"errors"

	"github.com/platinummonkey/bioviews/pkg/client"
	"github.com/platinummonkey/bioviews/pkg/viewer"
	"github.com/platinummonkey/bioviews/pkg/views"
)

// ViewRecorder records one view of a profile.
type ViewRecorder interface {
	RecordView(ctx context.Context, profileUserID string) error
}

// RecorderFunc adapts a function to ViewRecorder.
type RecorderFunc func(ctx context.Context, profileUserID string) error

// RecordView implements ViewRecorder.
func (f RecorderFunc) RecordView(ctx context.Context, profileUserID string) error {
	return f(ctx, profileUserID)
}

// ClientRecorder records through the HTTP API.
func ClientRecorder(c *client.Client) ViewRecorder {
	return RecorderFunc(func(ctx context.Context, profileUserID string) error {
		_, err := c.RecordView(ctx, profileUserID)
		return err
	})
}

// LocalRecorder records in-process as v. A counter that failed to update after the row
// was written counts as recorded.
func LocalRecorder(r *views.Recorder, v viewer.Viewer) ViewRecorder {
	return RecorderFunc(func(ctx context.Context, profileUserID string) error {
		_, err := r.RecordView(ctx, views.RecordRequest{
			ProfileUserID: profileUserID,
			ViewerUserID:  v.UserIDPtr(),
		})
		if errors.Is(err, views.ErrCounterNotUpdated) {
			return nil
		}
		return err
	})
}
