// Package tracker runs the view tracking lifecycle of one profile page mount.
//
// Mounting a page evaluates the cooldown guard once. When it allows tracking, the view
// is recorded in the background with a bounded timeout; failures are logged and never
// reach the page. Independently the viewer joins the profile's presence topic.
// Unmount always leaves the presence topic, whether or not the join succeeded.
//
//	t := tracker.New(tracker.Options{
//		Guard:     dedup.NewGuard(store, dedup.DefaultCooldown),
//		Recorder:  tracker.ClientRecorder(c),
//		Transport: c.Presence(),
//		Viewer:    viewer.Anonymous(),
//	})
//	session := t.Mount(ctx, "alesta")
//	defer session.Unmount()
package tracker
