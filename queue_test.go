package reqorch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueBoundsConcurrency(t *testing.T) {
	q := newQueue(2)
	var inFlight int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := q.acquire(context.Background())
			require.NoError(t, err)
			defer release()

			cur := atomic.AddInt32(&inFlight, 1)
			for {
				max := atomic.LoadInt32(&maxObserved)
				if cur <= max || atomic.CompareAndSwapInt32(&maxObserved, max, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&maxObserved), int32(2))
}

func TestQueueAcquireRespectsContextCancellation(t *testing.T) {
	q := newQueue(1)
	release, err := q.acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = q.acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueTryAcquireNonBlocking(t *testing.T) {
	q := newQueue(1)
	release, ok := q.tryAcquire()
	require.True(t, ok)
	defer release()

	_, ok = q.tryAcquire()
	assert.False(t, ok)
}

func TestQueueCloseRejectsWaitingAndFutureAcquires(t *testing.T) {
	q := newQueue(1)
	release, err := q.acquire(context.Background())
	require.NoError(t, err)

	waitErr := make(chan error, 1)
	go func() {
		_, err := q.acquire(context.Background())
		waitErr <- err
	}()

	require.Eventually(t, func() bool {
		return q.snapshot().Pending == 1
	}, time.Second, time.Millisecond)

	q.Close("shutting down")

	select {
	case err := <-waitErr:
		assert.ErrorIs(t, err, errQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("waiting acquire was not evicted by Close")
	}

	_, err = q.acquire(context.Background())
	assert.ErrorIs(t, err, errQueueClosed)

	release()
	assert.True(t, q.snapshot().Closed)
}

func TestQueueClearEvictsOnlyCurrentWaiters(t *testing.T) {
	q := newQueue(1)
	release, err := q.acquire(context.Background())
	require.NoError(t, err)

	waitErr := make(chan error, 1)
	go func() {
		_, err := q.acquire(context.Background())
		waitErr <- err
	}()

	require.Eventually(t, func() bool {
		return q.snapshot().Pending == 1
	}, time.Second, time.Millisecond)

	q.Clear("draining backlog")

	select {
	case err := <-waitErr:
		assert.ErrorIs(t, err, errQueueAborted)
	case <-time.After(time.Second):
		t.Fatal("waiting acquire was not evicted by Clear")
	}

	release()

	release2, err := q.acquire(context.Background())
	require.NoError(t, err, "queue should still accept new acquires after Clear")
	release2()
	assert.False(t, q.snapshot().Closed)
}

func TestQueueStatsDeliversImmediateSnapshotAndUpdates(t *testing.T) {
	q := newQueue(2)
	stats, unsubscribe := q.Stats()
	defer unsubscribe()

	initial := <-stats
	assert.Equal(t, QueueStats{Active: 0, Pending: 0, Capacity: 2, Closed: false}, initial)

	release, err := q.acquire(context.Background())
	require.NoError(t, err)

	var after QueueStats
	require.Eventually(t, func() bool {
		select {
		case after = <-stats:
			return after.Active == 1
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, after.Active)

	release()
}

func TestQueueReleaseIsIdempotent(t *testing.T) {
	q := newQueue(1)
	release, err := q.acquire(context.Background())
	require.NoError(t, err)

	release()
	release()
	release()

	assert.Equal(t, 0, q.snapshot().Active)

	release2, err := q.acquire(context.Background())
	require.NoError(t, err)
	release2()
}
