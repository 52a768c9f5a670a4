package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/bioviews/pkg/observability"
)

func TestRetention_PurgesOldRowsOnly(t *testing.T) {
	store := seedStore(t, 1, 0, 0, 0, 0, 2)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r := NewRetention(store, 3, nil, metrics)
	r.now = func() time.Time { return testNow }

	purged, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)
	assert.Equal(t, 1, store.ViewRows("alesta"))

	count, err := store.GetViewCount(context.Background(), "alesta")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count, "counter survives purge")

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.RetentionPurgedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RetentionRunsTotal.WithLabelValues("success")))
}

func TestRetention_Disabled(t *testing.T) {
	store := seedStore(t, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1)
	r := NewRetention(store, 0, nil, nil)

	purged, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, purged)
	assert.Equal(t, 1, store.ViewRows("alesta"))
}

type failingPurger struct{}

func (failingPurger) PurgeViewsBefore(context.Context, time.Time) (int64, error) {
	return 0, errors.New("lock timeout")
}

func TestRetention_Error(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r := NewRetention(failingPurger{}, 30, nil, metrics)

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RetentionRunsTotal.WithLabelValues("error")))
}

func TestRetention_Cutoff(t *testing.T) {
	r := NewRetention(failingPurger{}, 90, nil, nil)
	assert.Equal(t, time.Date(2023, 12, 11, 20, 0, 0, 0, time.UTC), r.Cutoff(testNow))
}

func TestRetention_Schedule(t *testing.T) {
	r := NewRetention(failingPurger{}, 30, nil, nil)
	c := cron.New()

	_, err := r.Schedule(c, "0 3 * * *")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	_, err = r.Schedule(c, "not a schedule")
	assert.Error(t, err)
}
