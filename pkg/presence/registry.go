package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry is one subscription's presence in a topic. Several entries may share a Key
// when one visitor has the page open in several tabs.
type Entry struct {
	SubscriptionID string
	Key            string
	ExpiresAt      time.Time
}

// Change is a key that left a topic during an expiry sweep.
type Change struct {
	Topic string
	Key   string
}

// Registry stores presence entries. A key is present in a topic while at least one
// unexpired entry holds it.
type Registry interface {
	// Track adds or refreshes e and reports whether its key was absent before.
	Track(ctx context.Context, topic string, e Entry, now time.Time) (bool, error)
	// Untrack removes e and reports whether its key is now absent.
	Untrack(ctx context.Context, topic string, e Entry, now time.Time) (bool, error)
	// Members returns the distinct present keys, sorted.
	Members(ctx context.Context, topic string, now time.Time) ([]string, error)
	// Expire removes entries that expired at or before now and returns the keys that
	// are no longer present anywhere in their topic.
	Expire(ctx context.Context, now time.Time) ([]Change, error)
}

// MemoryRegistry is a Registry for a single process.
type MemoryRegistry struct {
	mu     sync.Mutex
	topics map[string]map[string]Entry
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{topics: make(map[string]map[string]Entry)}
}

// Track implements Registry.
func (r *MemoryRegistry) Track(_ context.Context, topic string, e Entry, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.topics[topic]
	if entries == nil {
		entries = make(map[string]Entry)
		r.topics[topic] = entries
	}

	present := hasLiveKey(entries, e.Key, now)
	entries[e.SubscriptionID] = e
	return !present, nil
}

// Untrack implements Registry.
func (r *MemoryRegistry) Untrack(_ context.Context, topic string, e Entry, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.topics[topic]
	existing, ok := entries[e.SubscriptionID]
	if !ok {
		return false, nil
	}
	delete(entries, e.SubscriptionID)
	if len(entries) == 0 {
		delete(r.topics, topic)
	}

	if !existing.ExpiresAt.After(now) {
		// already gone as far as everyone else is concerned
		return false, nil
	}
	return !hasLiveKey(entries, existing.Key, now), nil
}

// Members implements Registry.
func (r *MemoryRegistry) Members(_ context.Context, topic string, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := NewSet()
	for _, e := range r.topics[topic] {
		if e.ExpiresAt.After(now) {
			set[e.Key] = struct{}{}
		}
	}
	return set.Keys(), nil
}

// Expire implements Registry.
func (r *MemoryRegistry) Expire(_ context.Context, now time.Time) ([]Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changes []Change
	for topic, entries := range r.topics {
		gone := NewSet()
		for id, e := range entries {
			if !e.ExpiresAt.After(now) {
				delete(entries, id)
				gone[e.Key] = struct{}{}
			}
		}
		for _, key := range gone.Keys() {
			if !hasLiveKey(entries, key, now) {
				changes = append(changes, Change{Topic: topic, Key: key})
			}
		}
		if len(entries) == 0 {
			delete(r.topics, topic)
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Topic != changes[j].Topic {
			return changes[i].Topic < changes[j].Topic
		}
		return changes[i].Key < changes[j].Key
	})
	return changes, nil
}

func hasLiveKey(entries map[string]Entry, key string, now time.Time) bool {
	for _, e := range entries {
		if e.Key == key && e.ExpiresAt.After(now) {
			return true
		}
	}
	return false
}
