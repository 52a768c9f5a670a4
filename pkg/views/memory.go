package views

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps profiles, counters and views in memory. It implements ViewStore,
// CountStore and AtomicRecorder and is used for local development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	counts  map[string]int64
	views   []ProfileView
	nextSeq int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]int64)}
}

// AddProfile creates a profile with a starting counter value.
func (s *MemoryStore) AddProfile(profileUserID string, viewCount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[profileUserID] = viewCount
}

// InsertView implements ViewStore.
func (s *MemoryStore) InsertView(_ context.Context, v *ProfileView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(v)
}

func (s *MemoryStore) insertLocked(v *ProfileView) error {
	if _, ok := s.counts[v.ProfileUserID]; !ok {
		return ErrProfileNotFound
	}
	s.nextSeq++
	v.Seq = s.nextSeq
	s.views = append(s.views, *v)
	return nil
}

// ListRecentViews implements ViewStore.
func (s *MemoryStore) ListRecentViews(ctx context.Context, profileUserID string, limit int) ([]ProfileView, error) {
	return s.ListViewsSince(ctx, profileUserID, time.Time{}, limit)
}

// ListViewsSince implements ViewStore.
func (s *MemoryStore) ListViewsSince(_ context.Context, profileUserID string, since time.Time, limit int) ([]ProfileView, error) {
	s.mu.RLock()
	out := make([]ProfileView, 0)
	for _, v := range s.views {
		if v.ProfileUserID == profileUserID && !v.CreatedAt.Before(since) {
			out = append(out, v)
		}
	}
	s.mu.RUnlock()

	sortViews(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PurgeViewsBefore implements ViewStore.
func (s *MemoryStore) PurgeViewsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.views[:0]
	var purged int64
	for _, v := range s.views {
		if v.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, v)
	}
	s.views = kept
	return purged, nil
}

// GetViewCount implements CountStore.
func (s *MemoryStore) GetViewCount(_ context.Context, profileUserID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.counts[profileUserID]
	if !ok {
		return 0, ErrProfileNotFound
	}
	return n, nil
}

// IncrementViewCount implements CountStore.
func (s *MemoryStore) IncrementViewCount(_ context.Context, profileUserID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.counts[profileUserID]
	if !ok {
		return 0, ErrProfileNotFound
	}
	n++
	s.counts[profileUserID] = n
	return n, nil
}

// RecordViewAtomic implements AtomicRecorder.
func (s *MemoryStore) RecordViewAtomic(_ context.Context, v *ProfileView) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertLocked(v); err != nil {
		return 0, err
	}
	s.counts[v.ProfileUserID]++
	return s.counts[v.ProfileUserID], nil
}

// ViewRows returns the number of stored rows for a profile.
func (s *MemoryStore) ViewRows(profileUserID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, v := range s.views {
		if v.ProfileUserID == profileUserID {
			n++
		}
	}
	return n
}

func sortViews(views []ProfileView) {
	sort.SliceStable(views, func(i, j int) bool {
		if !views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].CreatedAt.After(views[j].CreatedAt)
		}
		return views[i].Seq < views[j].Seq
	})
}
