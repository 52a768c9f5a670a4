package views

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RecentOrdering(t *testing.T) {
	store := NewMemoryStore()
	store.AddProfile("alesta", 0)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, v := range []ProfileView{
		{ID: "old", ProfileUserID: "alesta", CreatedAt: base.Add(-time.Hour)},
		{ID: "tie-a", ProfileUserID: "alesta", CreatedAt: base},
		{ID: "tie-b", ProfileUserID: "alesta", CreatedAt: base},
		{ID: "newest", ProfileUserID: "alesta", CreatedAt: base.Add(time.Minute)},
	} {
		v := v
		require.NoError(t, store.InsertView(ctx, &v))
	}

	views, err := store.ListRecentViews(ctx, "alesta", 3)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, []ViewID{"newest", "tie-a", "tie-b"}, []ViewID{views[0].ID, views[1].ID, views[2].ID})

	since, err := store.ListViewsSince(ctx, "alesta", base, 0)
	require.NoError(t, err)
	assert.Len(t, since, 3)
}

func TestMemoryStore_Purge(t *testing.T) {
	store := NewMemoryStore()
	store.AddProfile("alesta", 2)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.InsertView(ctx, &ProfileView{ID: "a", ProfileUserID: "alesta", CreatedAt: now.AddDate(-2, 0, 0)}))
	require.NoError(t, store.InsertView(ctx, &ProfileView{ID: "b", ProfileUserID: "alesta", CreatedAt: now}))

	n, err := store.PurgeViewsBefore(ctx, now.AddDate(-1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, store.ViewRows("alesta"))

	count, _ := store.GetViewCount(ctx, "alesta")
	assert.Equal(t, int64(2), count, "purging never touches the counter")
}

func TestMemoryStore_UnknownProfile(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	assert.ErrorIs(t, store.InsertView(ctx, &ProfileView{ProfileUserID: "ghost"}), ErrProfileNotFound)
	_, err := store.GetViewCount(ctx, "ghost")
	assert.ErrorIs(t, err, ErrProfileNotFound)
	_, err = store.IncrementViewCount(ctx, "ghost")
	assert.ErrorIs(t, err, ErrProfileNotFound)
	_, err = store.RecordViewAtomic(ctx, &ProfileView{ProfileUserID: "ghost"})
	assert.ErrorIs(t, err, ErrProfileNotFound)
}
