// Package async provides safe concurrent execution primitives for background tasks.
//
// SafeGo runs a function in a goroutine with a timeout, panic recovery and error
// logging. It backs the fire-and-forget view recording done on page mount.
//
//	done := async.SafeGo(ctx, 3*time.Second, "record profile view", record)
//	<-done // optional
//
// Batch fans a slice out over a bounded number of goroutines and collects errors. The
// presence hub uses it to sweep and resync topics concurrently.
//
//	errs := async.Batch(ctx, topics, 4, "presence sync", time.Second, hub.syncTopic)
package async
