package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IvanBrykalov/memoflight/internal/deepcopy"
	"github.com/IvanBrykalov/memoflight/internal/fingerprint"
	"github.com/IvanBrykalov/memoflight/internal/promise"
	"github.com/IvanBrykalov/memoflight/internal/sizeof"
)

// cache is the engine behind the public Cache interface: a fingerprint
// keyed store of single-flight tasks, a FIFO admission scheduler, and a
// periodic sweeper, all guarded by one mutex.
//
// The lock is never held across a fetch or a reader wait: fetches run in
// their own goroutines and readers wait on a task's slot outside the lock,
// so the store, scheduler, and counters are consistent at every point a
// caller can observe.
type cache[K any, V any] struct {
	mu    sync.Mutex
	store *store[K, V]
	sched *scheduler[K, V]
	stats *tally
	opt   Options[K, V]

	sweeping  bool
	sweepStop chan struct{}
	closed    bool
}

// New constructs a cache with the provided Options. See Options for the
// defaults applied to zero fields.
func New[K any, V any](opt Options[K, V]) Cache[K, V] {
	opt.normalize()
	return &cache[K, V]{
		store: newStore[K, V](),
		sched: newScheduler[K, V](opt.Fetching.Concurrency),
		stats: newTally(opt.now()),
		opt:   opt,
	}
}

// keyOf derives the fingerprint for an input.
func (c *cache[K, V]) keyOf(in K) (string, error) {
	if c.opt.Policy.KeyFunc != nil {
		return c.opt.Policy.KeyFunc(in)
	}
	return fingerprint.Key(in)
}

// Get returns the value for in, fetching it at most once per fingerprint.
func (c *cache[K, V]) Get(ctx context.Context, in K) (V, error) {
	return c.lookup(ctx, in, false)
}

// Refresh evicts any existing entry for in first, then behaves like a miss.
func (c *cache[K, V]) Refresh(ctx context.Context, in K) (V, error) {
	return c.lookup(ctx, in, true)
}

func (c *cache[K, V]) lookup(ctx context.Context, in K, force bool) (V, error) {
	var zero V
	key, err := c.keyOf(in)
	if err != nil {
		return zero, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, ErrClosed
	}
	now := c.opt.now()
	start := now
	c.stats.reads++

	t, ok := c.store.get(key)
	if ok && force {
		c.removeTaskLocked(t, EvictManual)
		ok = false
	}
	if ok {
		switch t.statusAt(now) {
		case statusExpired:
			c.removeTaskLocked(t, EvictExpired)
			ok = false
		case statusFailed:
			if c.opt.Policy.Errors == ErrorsIgnore {
				c.removeTaskLocked(t, EvictError)
				ok = false
			}
		}
	}

	cached := ok
	if !ok {
		if c.opt.Fetcher == nil {
			c.mu.Unlock()
			return zero, ErrNoFetcher
		}
		t = c.newTaskLocked(in, key, c.opt.Fetcher, now)
		c.installLocked(t)
		c.sched.enqueue(t)
		c.sched.consumeLocked(now)
	}
	if cached {
		c.stats.hits++
		c.opt.Metrics.Hit()
	} else {
		c.stats.misses++
		c.opt.Metrics.Miss()
	}
	t.touch(now)
	slot := t.slot
	c.mu.Unlock()

	v, err := slot.Await(ctx)
	if err != nil && !slot.Completed() {
		// The caller abandoned the wait. The fetch keeps running and its
		// result stays cached for the next reader.
		return zero, err
	}

	elapsed := c.opt.now().Sub(start)
	c.mu.Lock()
	if !c.closed {
		c.stats.observe(cached, float64(elapsed.Microseconds())/1000, err != nil)
	}
	c.mu.Unlock()

	if err != nil {
		return zero, err
	}
	if c.opt.Fetching.UseClones {
		return c.cloneValue(v)
	}
	return v, nil
}

// Set installs an already-resolved entry for in, replacing any prior entry.
func (c *cache[K, V]) Set(in K, v V) error {
	key, err := c.keyOf(in)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	now := c.opt.now()
	t := c.newTaskLocked(in, key, nil, now)
	t.started = true
	t.fetchStart = now
	t.resolvedAt = now
	t.bytes = c.sizeOf(v)
	t.slot.Resolve(v)
	c.installLocked(t)
	c.store.bytes += t.bytes
	c.opt.Metrics.Size(c.store.len(), c.store.bytes)
	return nil
}

// SetErr installs an already-failed entry for in. Under the Cache error
// policy readers receive setErr until expiration or removal; under Ignore
// the entry is dropped by the next read or sweep, and that read fetches
// afresh instead of returning setErr.
func (c *cache[K, V]) SetErr(in K, setErr error) error {
	key, err := c.keyOf(in)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	now := c.opt.now()
	t := c.newTaskLocked(in, key, nil, now)
	t.started = true
	t.fetchStart = now
	t.resolvedAt = now
	t.fetchErr = setErr
	t.slot.Reject(setErr)
	c.installLocked(t)
	return nil
}

// SetFunc installs an entry whose value is being computed by fn right now.
// The task enters the running state immediately, bypassing the admission
// queue, and fn is raced against the configured timeout like any fetch.
func (c *cache[K, V]) SetFunc(in K, fn FetchFunc[K, V]) error {
	key, err := c.keyOf(in)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	now := c.opt.now()
	t := c.newTaskLocked(in, key, fn, now)
	c.installLocked(t)
	c.sched.adopt()
	t.startLocked(now)
	return nil
}

// Preload installs a queued entry for in, to be fetched via the configured
// Fetcher once the scheduler admits it. Nobody waits on the result; a later
// Get for the same input joins the same task.
func (c *cache[K, V]) Preload(in K) error {
	key, err := c.keyOf(in)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.opt.Fetcher == nil {
		return ErrNoFetcher
	}
	now := c.opt.now()
	t := c.newTaskLocked(in, key, c.opt.Fetcher, now)
	c.installLocked(t)
	c.sched.enqueue(t)
	c.sched.consumeLocked(now)
	return nil
}

// Has reports whether an entry exists for in, in any status.
func (c *cache[K, V]) Has(in K) (bool, error) {
	key, err := c.keyOf(in)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}
	return c.store.has(key), nil
}

// Delete removes the entry for in, if present. The second delete of the
// same input is a no-op reporting false.
func (c *cache[K, V]) Delete(in K) (bool, error) {
	key, err := c.keyOf(in)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}
	t, ok := c.store.get(key)
	if !ok {
		return false, nil
	}
	c.removeTaskLocked(t, EvictManual)
	c.opt.Metrics.Size(c.store.len(), c.store.bytes)
	return true, nil
}

// Clear removes every entry, resets all counters and the uptime base, and
// stops the sweeper. The next insertion re-arms it. Fetches already in
// flight complete in the background; their results are discarded.
func (c *cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.clearLocked()
}

func (c *cache[K, V]) clearLocked() {
	c.store.each(func(t *task[K, V]) bool {
		if !t.started && !t.slot.Completed() {
			t.slot.Reject(fmt.Errorf("%w: %s", ErrEvicted, t.key))
		}
		return true
	})
	c.store.reset()
	c.sched.reset()
	c.stats = newTally(c.opt.now())
	c.disarmSweeperLocked()
	c.opt.Metrics.Size(0, 0)
}

// Keys returns a snapshot of the inputs behind the current entries.
// Order is unspecified.
func (c *cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]K, 0, c.store.len())
	c.store.each(func(t *task[K, V]) bool {
		out = append(out, t.input)
		return true
	})
	return out
}

// Len returns the number of resident entries, in any status.
func (c *cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.len()
}

// Stats returns a consistent snapshot of the statistics view.
func (c *cache[K, V]) Stats() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Close clears the cache and rejects further use. In-flight fetches finish
// in the background and are discarded.
func (c *cache[K, V]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.clearLocked()
	c.closed = true
	return nil
}

// ---- internals (mu held) ----

func (c *cache[K, V]) newTaskLocked(in K, key string, fetch FetchFunc[K, V], now time.Time) *task[K, V] {
	return &task[K, V]{
		owner:      c,
		key:        key,
		input:      in,
		fetch:      fetch,
		slot:       promise.New[V](),
		createdAt:  now,
		lastAccess: now,
	}
}

// installLocked places a task in the store, displacing and accounting for
// any prior entry under the same fingerprint, and arms the sweeper.
func (c *cache[K, V]) installLocked(t *task[K, V]) {
	if prev, ok := c.store.get(t.key); ok {
		c.removeTaskLocked(prev, EvictReplaced)
	}
	c.store.put(t)
	c.armSweeperLocked()
}

// removeTaskLocked detaches a task from the store, scheduler queue, and
// byte accounting. A task that was never admitted has its slot rejected so
// waiting readers are not stranded. Removal of a task that is no longer
// resident is a no-op.
func (c *cache[K, V]) removeTaskLocked(t *task[K, V], reason EvictReason) {
	cur, ok := c.store.get(t.key)
	if !ok || cur != t {
		return
	}
	c.store.remove(t.key)
	c.sched.forget(t)
	if t.fetchErr == nil && !t.resolvedAt.IsZero() && t.bytes > 0 {
		c.store.bytes -= t.bytes
		c.stats.released += t.bytes
	}
	if !t.started && !t.slot.Completed() {
		t.slot.Reject(fmt.Errorf("%w: %s", ErrEvicted, t.key))
	}
	c.opt.Metrics.Evict(reason)
	if cb := c.opt.OnEvict; cb != nil {
		cb(t.key, reason)
	}
}

// completeTask records a fetch outcome. Called from the task goroutine.
func (c *cache[K, V]) completeTask(t *task[K, V], v V, err error, timedOut bool) {
	c.mu.Lock()
	now := c.opt.now()
	t.resolvedAt = now
	t.fetchErr = err
	dur := now.Sub(t.fetchStart)

	resident := false
	if cur, ok := c.store.get(t.key); ok && cur == t {
		resident = true
	}
	if err == nil {
		t.bytes = c.sizeOf(v)
		if resident {
			c.store.bytes += t.bytes
		}
	} else {
		c.stats.errors++
		if timedOut {
			c.stats.timeouts++
			c.opt.Metrics.Timeout()
		}
		if resident && c.opt.Policy.Errors == ErrorsIgnore {
			c.removeTaskLocked(t, EvictError)
		}
	}
	c.sched.release()
	c.sched.consumeLocked(now)
	c.opt.Metrics.Fetch(dur, err)
	c.opt.Metrics.Size(c.store.len(), c.store.bytes)
	c.mu.Unlock()

	// Publish outside the lock; readers woken here take the lock
	// themselves to record their response times.
	if err != nil {
		t.slot.Reject(err)
	} else {
		t.slot.Resolve(v)
	}
}

// sizeOf estimates resident bytes for a value, never negative.
func (c *cache[K, V]) sizeOf(v V) int64 {
	var n int64
	if c.opt.SizeOf != nil {
		n = c.opt.SizeOf(v)
	} else {
		n = sizeof.Estimate(v)
	}
	if n < 0 {
		n = 0
	}
	return n
}

// cloneValue deep-copies a value for a reader. Values the default copier
// cannot encode fall back to the shared reference.
func (c *cache[K, V]) cloneValue(v V) (V, error) {
	if c.opt.Clone != nil {
		return c.opt.Clone(v)
	}
	out, err := deepcopy.Clone(v)
	if err != nil {
		return v, nil
	}
	return out, nil
}
