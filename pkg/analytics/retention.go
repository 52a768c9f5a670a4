package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/bioviews/pkg/observability"
	"github.com/platinummonkey/bioviews/pkg/views"
)

// Purger deletes view rows older than a cutoff.
type Purger interface {
	PurgeViewsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ Purger = (views.ViewStore)(nil)

// Retention purges old view rows. Counters are left alone.
type Retention struct {
	store   Purger
	days    int
	timeout time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewRetention creates a retention job keeping days of history. days <= 0 disables
// purging.
func NewRetention(store Purger, days int, logger *observability.Logger, metrics *observability.Metrics) *Retention {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Retention{
		store:   store,
		days:    days,
		timeout: 5 * time.Minute,
		logger:  logger.WithComponent("retention"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Cutoff returns the oldest creation time that survives a run started at now.
func (r *Retention) Cutoff(now time.Time) time.Time {
	return now.UTC().AddDate(0, 0, -r.days)
}

// Run performs one purge and returns the number of rows removed.
func (r *Retention) Run(ctx context.Context) (int64, error) {
	if r.days <= 0 {
		r.logger.Debug("retention disabled")
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cutoff := r.Cutoff(r.now())
	purged, err := r.store.PurgeViewsBefore(ctx, cutoff)
	r.metrics.ObserveRetention(purged, err)
	if err != nil {
		return 0, fmt.Errorf("failed to purge views before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	r.logger.WithFields(map[string]interface{}{
		"purged": purged,
		"cutoff": cutoff.Format(time.RFC3339),
	}).Info("purged old profile views")
	return purged, nil
}

// Schedule registers Run on c with a cron spec. Failures are logged.
func (r *Retention) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		defer observability.RecoverPanic(r.logger, "retention run")
		if _, err := r.Run(context.Background()); err != nil {
			r.logger.WithError(err).Error("retention run failed")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("invalid retention schedule %q: %w", spec, err)
	}
	return id, nil
}
