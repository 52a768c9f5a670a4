// Package client is a Go client for the bioviews HTTP API.
//
//	c := client.New("http://localhost:8080", client.WithToken(jwt))
//	resp, err := c.RecordView(ctx, "alesta")
//	n, err := c.ViewCount(ctx, "alesta")
//
// Presence returns a presence.Transport backed by the server-sent event stream, so a
// presence.Channel works the same against a remote server as against an in-process hub.
package client
