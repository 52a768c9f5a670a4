// Package api exposes view tracking, owner analytics and live presence over HTTP.
//
// Routes:
//
//	POST /api/v1/views                          record a profile view
//	GET  /api/v1/profiles/{id}/view-count       public view counter
//	GET  /api/v1/profiles/{id}/analytics        owner dashboard (?limit=&tz=)
//	GET  /api/v1/profiles/{id}/presence         owner-only active viewer count
//	GET  /api/v1/presence/{topic}/stream        presence events as server-sent events
//	POST /api/v1/presence/{topic}/track         announce the viewer behind a stream
//
// Owner-only endpoints never reveal data to other callers; they answer 200 with an
// empty payload instead of 403 so a profile's activity cannot be probed.
package api
