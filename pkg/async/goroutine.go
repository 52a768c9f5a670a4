package async

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/bioviews/pkg/observability"
)

// SafeGo executes fn in a goroutine with:
// - a timeout derived from parentCtx
// - panic recovery
// - error logging through the logger carried by parentCtx
//
// The returned channel is closed once fn has finished. Fire-and-forget callers can
// ignore it; tests and shutdown paths can wait on it.
//
//	async.SafeGo(ctx, 3*time.Second, "record profile view", func(ctx context.Context) error {
//	    _, err := recorder.RecordView(ctx, req)
//	    return err
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	logger := observability.GetLogger(parentCtx).WithField("task", taskName)

	go func() {
		defer close(done)

		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			// Background failures are logged, never surfaced
			logger.WithError(err).Warn("background task failed")
		}
	}()

	return done
}

// Batch runs fn over items with at most workers goroutines in flight and returns every
// error encountered. Each call gets its own timeout; a panic in one item is converted
// into an error for that item.
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	if workers <= 0 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(workers)

	logger := observability.GetLogger(ctx).WithField("task", taskName)

	for _, item := range items {
		g.Go(func() (err error) {
			itemCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			defer func() {
				if r := recover(); r != nil {
					err = observability.MustRecover(r)
					logger.WithError(err).Error("PANIC recovered in batch item")
				}
				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}()
			return fn(itemCtx, item)
		})
	}

	_ = g.Wait()
	return errs
}
