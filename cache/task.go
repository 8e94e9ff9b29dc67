package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IvanBrykalov/memoflight/internal/promise"
	"github.com/IvanBrykalov/memoflight/score"
)

// taskStatus is derived from a task's timestamps, captured error, and the
// cache policies; it is never stored.
type taskStatus int

const (
	// statusQueued: created, not yet admitted by the scheduler.
	statusQueued taskStatus = iota
	// statusRunning: admitted, fetch in flight.
	statusRunning
	// statusActive: resolved successfully and not yet expired.
	statusActive
	// statusFailed: fetch rejected. Under ErrorsIgnore a failed fetch is
	// dropped on completion and a SetErr entry by the next read or sweep.
	statusFailed
	// statusExpired: resolved but past the TTL or idle window.
	statusExpired
)

func (s taskStatus) String() string {
	switch s {
	case statusQueued:
		return "queued"
	case statusRunning:
		return "running"
	case statusActive:
		return "active"
	case statusFailed:
		return "failed"
	case statusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// task is the per-fingerprint computation record: a one-shot slot plus the
// metadata driving scheduling, expiration, and eviction scoring.
//
// All fields are guarded by the owning cache's mutex. The slot is the only
// part shared with readers outside the lock.
type task[K any, V any] struct {
	owner *cache[K, V]
	key   string
	input K
	fetch FetchFunc[K, V]
	slot  *promise.Slot[V]

	createdAt  time.Time
	lastAccess time.Time
	fetchStart time.Time // set once the scheduler admits the task
	resolvedAt time.Time // set once the fetch returns or times out

	bytes    int64 // resident estimate, set after successful resolution
	uses     int64 // reader accesses
	fetchErr error // captured failure, if any
	started  bool
}

// statusAt derives the task's status at the given instant.
func (t *task[K, V]) statusAt(now time.Time) taskStatus {
	if !t.started {
		return statusQueued
	}
	if t.resolvedAt.IsZero() {
		return statusRunning
	}
	if t.expiredAt(now) {
		return statusExpired
	}
	if t.fetchErr != nil {
		return statusFailed
	}
	return statusActive
}

// expiredAt reports whether the resolved task is past its lifetime under
// the configured strategy. Unresolved tasks never expire.
func (t *task[K, V]) expiredAt(now time.Time) bool {
	if t.resolvedAt.IsZero() {
		return false
	}
	ttl := t.owner.opt.Policy.TTL
	switch t.owner.opt.Policy.Strategy {
	case StrategyIdle:
		return now.Sub(t.lastAccess) > ttl
	default:
		return now.Sub(t.resolvedAt) > ttl
	}
}

// touch records a reader access.
func (t *task[K, V]) touch(now time.Time) {
	t.uses++
	t.lastAccess = now
}

// startLocked admits the task: records the fetch start and launches the
// fetch goroutine. Idempotent; a second call is a no-op.
func (t *task[K, V]) startLocked(now time.Time) {
	if t.started {
		return
	}
	t.started = true
	t.fetchStart = now
	t.owner.stats.fetches++
	go t.execute(t.owner.opt.Fetching.Timeout)
}

// execute races the fetch against the per-task timeout and feeds the
// outcome back into the cache. Runs outside the lock. If the timer fires
// first, the fetch keeps running in the background and its eventual result
// is discarded.
func (t *task[K, V]) execute(timeout time.Duration) {
	type outcome struct {
		val V
		err error
	}
	ch := make(chan outcome, 1)

	ctx := context.Background()
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero V
				ch <- outcome{zero, fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()
		v, err := t.fetch(ctx, t.input)
		ch <- outcome{v, err}
	}()

	var out outcome
	timedOut := false
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		select {
		case out = <-ch:
			timer.Stop()
		case <-timer.C:
			timedOut = true
			out.err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
	} else {
		out = <-ch
	}
	if timeout > 0 && !timedOut && out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
		// The fetch noticed the deadline on its own; same contract.
		timedOut = true
		out.err = fmt.Errorf("%w after %s: %v", ErrTimeout, timeout, out.err)
	}

	t.owner.completeTask(t, out.val, out.err, timedOut)
}

// scoreInfo snapshots the fields a score function may inspect.
func (t *task[K, V]) scoreInfo() score.Info {
	return score.Info{
		Uses:           t.uses,
		Bytes:          t.bytes,
		CreatedAt:      t.createdAt,
		LastAccessedAt: t.lastAccess,
		ResolvedAt:     t.resolvedAt,
		TTL:            t.owner.opt.Policy.TTL,
		Failed:         t.fetchErr != nil,
	}
}
