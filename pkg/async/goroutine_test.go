package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/bioviews/pkg/observability"
)

func quietContext() context.Context {
	return observability.WithLogger(context.Background(), observability.NewNopLogger())
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestSafeGo_Success(t *testing.T) {
	var executed atomic.Bool
	done := SafeGo(quietContext(), time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})
	waitDone(t, done)
	assert.True(t, executed.Load())
}

func TestSafeGo_WithError(t *testing.T) {
	var executed atomic.Bool
	done := SafeGo(quietContext(), time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return errors.New("test error")
	})
	waitDone(t, done)
	assert.True(t, executed.Load(), "errors are logged, not fatal")
}

func TestSafeGo_Timeout(t *testing.T) {
	var completed atomic.Bool
	var ctxErr atomic.Value
	done := SafeGo(quietContext(), 30*time.Millisecond, "slow task", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			completed.Store(true)
			return nil
		case <-ctx.Done():
			ctxErr.Store(ctx.Err())
			return ctx.Err()
		}
	})
	waitDone(t, done)
	assert.False(t, completed.Load())
	assert.Equal(t, context.DeadlineExceeded, ctxErr.Load())
}

func TestSafeGo_PanicRecovery(t *testing.T) {
	done := SafeGo(quietContext(), time.Second, "panicky task", func(ctx context.Context) error {
		panic("test panic")
	})
	waitDone(t, done)
}

func TestSafeGo_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(quietContext())
	started := make(chan struct{})
	done := SafeGo(ctx, time.Minute, "cancelled task", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	cancel()
	waitDone(t, done)
}

func TestBatch(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}

	errs := Batch(quietContext(), items, 3, "batch", time.Second, func(ctx context.Context, n int) error {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		if n%4 == 0 {
			return errors.New("multiple of four")
		}
		if n == 7 {
			panic("seven")
		}
		return nil
	})

	require.Len(t, errs, 3)
	assert.LessOrEqual(t, maxInFlight.Load(), int32(3))
}

func TestBatch_Empty(t *testing.T) {
	assert.Empty(t, Batch(quietContext(), []string{}, 2, "empty", time.Second, func(ctx context.Context, s string) error {
		return errors.New("never called")
	}))
}
