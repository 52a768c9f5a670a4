package dedup

import (
	"strconv"
	"sync"
	"time"
)

// DefaultCooldown is the minimum spacing between two tracked views of one profile from
// one device.
const DefaultCooldown = 5 * time.Minute

const keyPrefix = "profile_view_"

// Key returns the cooldown record key for a profile.
func Key(profileUserID string) string {
	return keyPrefix + profileUserID
}

// CooldownStore is a small string key/value store. Implementations swallow their own
// errors: a failed Get reads as missing, a failed Set is dropped.
type CooldownStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// Claimer is implemented by stores that can check and stamp a record in one step, so
// concurrent guards over a shared store admit a single view per window.
type Claimer interface {
	// Claim stamps key with now and returns true unless it holds a usable timestamp
	// less than cooldown before now.
	Claim(key string, now time.Time, cooldown time.Duration) bool
}

// Guard makes cooldown decisions against a CooldownStore.
type Guard struct {
	store    CooldownStore
	cooldown time.Duration
	mu       sync.Mutex
}

// NewGuard creates a guard. A non-positive cooldown selects DefaultCooldown.
func NewGuard(store CooldownStore, cooldown time.Duration) *Guard {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Guard{store: store, cooldown: cooldown}
}

// Cooldown reports the configured window.
func (g *Guard) Cooldown() time.Duration {
	return g.cooldown
}

// ShouldTrack reports whether a view of profileUserID at now should be recorded. When it
// returns true the record is updated to now before returning, so a failure further
// down still consumes the cooldown.
func (g *Guard) ShouldTrack(profileUserID string, now time.Time) bool {
	key := Key(profileUserID)
	if c, ok := g.store.(Claimer); ok {
		return c.Claim(key, now, g.cooldown)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.lastTracked(key, now); ok {
		if now.Sub(last) < g.cooldown {
			return false
		}
	}

	g.store.Set(key, strconv.FormatInt(now.UnixMilli(), 10))
	return true
}

// LastTracked returns the stored timestamp for a profile, if a usable one exists.
func (g *Guard) LastTracked(profileUserID string, now time.Time) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.lastTracked(Key(profileUserID), now)
}

func (g *Guard) lastTracked(key string, now time.Time) (time.Time, bool) {
	raw, ok := g.store.Get(key)
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	last := time.UnixMilli(ms)
	// A record from the future comes from a clock change or tampering. Treating it as
	// fresh would suppress views until the clock catches up.
	if last.After(now) {
		return time.Time{}, false
	}
	return last, true
}

// Mount evaluates the guard at most once for a single page mount, however many times
// the page re-renders.
type Mount struct {
	guard         *Guard
	profileUserID string

	once     sync.Once
	decision bool
}

// Mount starts a mount-scoped evaluation for profileUserID.
func (g *Guard) Mount(profileUserID string) *Mount {
	return &Mount{guard: g, profileUserID: profileUserID}
}

// ShouldTrack evaluates the guard on the first call and returns that same decision on
// every later call.
func (m *Mount) ShouldTrack(now time.Time) bool {
	m.once.Do(func() {
		m.decision = m.guard.ShouldTrack(m.profileUserID, now)
	})
	return m.decision
}
