// Package dedup decides whether a page load counts as a new profile view.
//
// A Guard keeps one cooldown record per profile in a CooldownStore. The record holds
// the last time a view was attempted, as epoch milliseconds, under the key
// "profile_view_{profileUserId}". A view is attempted only when the cooldown window
// (five minutes by default) has elapsed, and the record is refreshed at the moment the
// decision is made, before any recording happens.
//
// Missing, unreadable and future-dated records are treated as stale, so storage
// problems never suppress a view.
//
// Stores:
//   - MemoryStore: per-process, the equivalent of browser-local storage
//   - FileStore: a JSON file that survives restarts, used by the CLI
//   - RedisStore: server-side per-device cooldowns shared across instances
package dedup
