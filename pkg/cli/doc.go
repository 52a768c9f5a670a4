// Package cli provides the bioviews command-line interface.
//
// # Commands
//
// visit: Mount a profile page like a browser would. The cooldown is kept in a file
// under the user config dir, so running visit twice within five minutes records once.
// The live viewer count is printed until interrupted.
//
//	bioviews visit --server http://localhost:8080 alesta
//
// count: Print a profile's public view counter.
//
//	bioviews count alesta
//
// analytics: Print the owner dashboard.
//
//	bioviews analytics --token $TOKEN --tz Europe/Berlin alesta
//
// watch: Poll the owner-only active viewer count.
//
//	bioviews watch --token $TOKEN --interval 2s alesta
//
// token: Issue a development token signed with the shared secret.
//
//	bioviews token --secret dev-secret --user alesta
package cli
