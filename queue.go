package reqorch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// errQueueClosed and errQueueAborted are the sentinels queue.acquire
// returns for the two eviction paths Close and Clear drive; callers use
// errors.Is to translate them into the matching *Error kind.
var (
	errQueueClosed  = errors.New("reqorch: queue closed")
	errQueueAborted = errors.New("reqorch: aborted while waiting in queue")
)

// QueueStats is a point-in-time snapshot of queue occupancy, delivered
// to every Stats subscriber immediately on attach and again whenever
// admission state changes.
type QueueStats struct {
	Active   int
	Pending  int
	Capacity int
	Closed   bool
}

type waiterRejectKind int

const (
	waiterRejectNone waiterRejectKind = iota
	waiterRejectClosed
	waiterRejectCleared
)

// queueWaiter is one goroutine currently blocked in acquire. The FIFO
// order of waiters is simply the order of q.waiters, since new waiters
// are always appended; Close and Clear walk it to evict blocked callers
// the underlying semaphore has no way to reach directly.
type queueWaiter struct {
	cancel context.CancelFunc
	reject waiterRejectKind
	reason string
}

// queue bounds the number of requests executing against the adapter at
// once. Admission is FIFO: golang.org/x/sync/semaphore.Weighted already
// wakes waiters in acquire order, which gives us fairness without a
// hand-rolled wait queue for the common path; a parallel waiter ledger
// exists solely so Close/Clear can reach into currently-blocked callers,
// something the semaphore itself doesn't expose.
type queue struct {
	sem      *semaphore.Weighted
	capacity int64

	mu          sync.Mutex
	active      int
	waiters     []*queueWaiter
	closed      bool
	closeReason string

	subMu     sync.Mutex
	subs      map[uint64]chan QueueStats
	nextSubID uint64
}

func newQueue(concurrency int) *queue {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &queue{
		sem:      semaphore.NewWeighted(int64(concurrency)),
		capacity: int64(concurrency),
		subs:     make(map[uint64]chan QueueStats),
	}
}

// acquire blocks until a slot is free, ctx is done, or the queue is
// closed/cleared out from under the caller, returning a release
// function on success. The caller must invoke release exactly once;
// release tolerates repeat calls safely (it is a no-op after the first).
func (q *queue) acquire(ctx context.Context) (release func(), err error) {
	q.mu.Lock()
	if q.closed {
		reason := q.closeReason
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", errQueueClosed, reason)
	}
	waitCtx, cancel := context.WithCancel(ctx)
	w := &queueWaiter{cancel: cancel}
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()
	q.broadcast()

	err = q.sem.Acquire(waitCtx, 1)

	q.mu.Lock()
	q.removeWaiterLocked(w)
	reject, reason := w.reject, w.reason
	if err == nil {
		q.active++
	}
	q.mu.Unlock()
	q.broadcast()

	if err != nil {
		cancel()
		switch reject {
		case waiterRejectClosed:
			return nil, fmt.Errorf("%w: %s", errQueueClosed, reason)
		case waiterRejectCleared:
			return nil, fmt.Errorf("%w: %s", errQueueAborted, reason)
		default:
			return nil, err
		}
	}

	var once sync.Once
	release = func() {
		once.Do(func() {
			cancel()
			q.sem.Release(1)
			q.mu.Lock()
			q.active--
			q.mu.Unlock()
			q.broadcast()
		})
	}
	return release, nil
}

// tryAcquire attempts a non-blocking admission, used when a caller wants
// to reject immediately (KindQueueFull) instead of waiting.
func (q *queue) tryAcquire() (release func(), ok bool) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, false
	}
	if !q.sem.TryAcquire(1) {
		return nil, false
	}

	q.mu.Lock()
	q.active++
	q.mu.Unlock()
	q.broadcast()

	var once sync.Once
	release = func() {
		once.Do(func() {
			q.sem.Release(1)
			q.mu.Lock()
			q.active--
			q.mu.Unlock()
			q.broadcast()
		})
	}
	return release, true
}

func (q *queue) removeWaiterLocked(target *queueWaiter) {
	for i, w := range q.waiters {
		if w == target {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}

// Close permanently stops admission: every waiter currently blocked in
// acquire is evicted with KindQueueClosed, and every future acquire call
// fails the same way without ever touching the semaphore. Slots already
// held by in-flight requests are unaffected; they release normally.
func (q *queue) Close(reason string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.closeReason = reason
	waiters := q.snapshotWaitersLocked(waiterRejectClosed, reason)
	q.mu.Unlock()

	for _, w := range waiters {
		w.cancel()
	}
	q.broadcast()
}

// Clear evicts every waiter currently blocked in acquire with
// KindAbortedWhileWaiting, without closing the queue: new acquire calls
// after Clear returns are admitted normally. Useful for draining a
// backlog (e.g. a downstream outage) without refusing new traffic once
// it recovers.
func (q *queue) Clear(reason string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	waiters := q.snapshotWaitersLocked(waiterRejectCleared, reason)
	q.mu.Unlock()

	for _, w := range waiters {
		w.cancel()
	}
	q.broadcast()
}

func (q *queue) snapshotWaitersLocked(reject waiterRejectKind, reason string) []*queueWaiter {
	waiters := make([]*queueWaiter, len(q.waiters))
	copy(waiters, q.waiters)
	for _, w := range waiters {
		w.reject = reject
		w.reason = reason
	}
	return waiters
}

// Stats subscribes to queue occupancy snapshots: the current snapshot
// is delivered immediately, and another is sent on every subsequent
// admission/release/close/clear. The returned channel is buffered to
// depth 1 and always holds the latest snapshot rather than blocking a
// slow subscriber; call unsubscribe to stop receiving and release the
// channel.
func (q *queue) Stats() (stats <-chan QueueStats, unsubscribe func()) {
	ch := make(chan QueueStats, 1)

	q.subMu.Lock()
	q.nextSubID++
	id := q.nextSubID
	q.subs[id] = ch
	q.subMu.Unlock()

	ch <- q.snapshot()

	return ch, func() {
		q.subMu.Lock()
		delete(q.subs, id)
		q.subMu.Unlock()
	}
}

func (q *queue) snapshot() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{Active: q.active, Pending: len(q.waiters), Capacity: int(q.capacity), Closed: q.closed}
}

func (q *queue) broadcast() {
	snap := q.snapshot()
	q.subMu.Lock()
	defer q.subMu.Unlock()
	for _, ch := range q.subs {
		select {
		case ch <- snap:
		default:
			// A slow subscriber's channel is full; drop the stale
			// snapshot in favor of the current one rather than block
			// the queue on an unread reader.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
