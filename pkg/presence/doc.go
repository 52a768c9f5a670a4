// Package presence tracks how many visitors are currently on a profile page.
//
// Each profile has a topic named "profile_{profileUserId}". Clients subscribe to the
// topic, announce themselves with a track message once the subscription is
// acknowledged, and then receive three kinds of events:
//
//   - sync: the authoritative set of present keys, replacing the local mirror
//   - join: one key became present
//   - leave: one key is gone
//
// The client side is a Channel. Events are folded into a Set by a single reducer
// goroutine, so duplicated or reordered join and leave events are harmless, and every
// sync corrects whatever deltas were missed. Only the set's cardinality is exposed.
//
// The server side is a Hub. It keeps per-topic subscriber lists for the local process,
// stores presence entries in a Registry (memory or Redis), refreshes entries for live
// subscriptions, expires entries whose owners vanished without unsubscribing, and
// periodically sends each subscriber an authoritative sync. Events fan out across
// instances through a Backplane.
//
// Viewer keys never leave the server. The hub replaces them with per-topic tokens
// derived by a keyed hash, so the same visitor cannot be correlated across profiles
// and identities cannot be recovered from the stream.
package presence
