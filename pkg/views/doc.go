// Package views records profile views and maintains the denormalized per-profile view
// counter.
//
// A view is an append-only ProfileView row. Recording one takes two writes: insert the
// row, then increment the owning profile's counter. Stores that implement
// AtomicRecorder perform both inside one server-side procedure, and the Recorder
// prefers that path. Otherwise the writes run in sequence; when the increment fails
// after the insert succeeded, the row stays and RecordView returns the new id together
// with ErrCounterNotUpdated.
//
// Raw IP addresses are never stored. IPHasher turns them into a keyed BLAKE2b digest
// before the row is built, and SanitizeUserAgent strips markup and control characters
// from the user agent.
//
//	rec := views.NewRecorder(store, store, views.RecorderOptions{
//		Hasher:  views.NewIPHasher(secret),
//		Timeout: 3 * time.Second,
//	})
//	id, err := rec.RecordView(ctx, views.RecordRequest{ProfileUserID: "alesta"})
package views
