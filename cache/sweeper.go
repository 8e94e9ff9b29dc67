package cache

import (
	"sort"
	"time"
)

// The sweeper is a single ticker goroutine owned by the facade. It is armed
// lazily on the first insertion and stopped by Clear/Close; the next
// insertion re-arms it. Each tick takes the cache lock for the whole pass,
// so a pass observes a consistent snapshot.

// armSweeperLocked starts the ticker goroutine if it is not running.
func (c *cache[K, V]) armSweeperLocked() {
	if c.sweeping || c.closed {
		return
	}
	c.sweeping = true
	c.sweepStop = make(chan struct{})
	go c.runSweeper(c.sweepStop)
}

// disarmSweeperLocked stops the ticker goroutine if it is running.
func (c *cache[K, V]) disarmSweeperLocked() {
	if !c.sweeping {
		return
	}
	c.sweeping = false
	close(c.sweepStop)
}

func (c *cache[K, V]) runSweeper(stop chan struct{}) {
	ticker := time.NewTicker(c.opt.Policy.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.sweepOnce()
		}
	}
}

// sweepOnce runs the expiration pass and, if the footprint is over the
// high-water mark, the memory pass. In-flight and queued tasks are never
// touched; fetches are not preempted.
func (c *cache[K, V]) sweepOnce() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	now := c.opt.now()
	c.expirationPassLocked(now)
	c.memoryPassLocked(now)
	c.opt.Metrics.Size(c.store.len(), c.store.bytes)
}

// expirationPassLocked removes every task that is expired, or failed under
// the Ignore policy.
func (c *cache[K, V]) expirationPassLocked(now time.Time) {
	var victims []*task[K, V]
	c.store.each(func(t *task[K, V]) bool {
		switch t.statusAt(now) {
		case statusExpired:
			victims = append(victims, t)
		case statusFailed:
			if c.opt.Policy.Errors == ErrorsIgnore {
				victims = append(victims, t)
			}
		}
		return true
	})
	for _, t := range victims {
		c.removeTaskLocked(t, EvictExpired)
	}
}

// memoryPassLocked drops the lowest-scored resolved entries until the
// footprint falls below the low-water mark. Entered only when usage is over
// the high-water mark (or, with a negative limit, whenever the resident
// byte total is above zero).
func (c *cache[K, V]) memoryPassLocked(now time.Time) {
	max := c.opt.Memory.MaxBytes
	over := (max > 0 && c.store.bytes > max) || (max < 0 && c.store.bytes > 0)
	if !over {
		return
	}

	type scored struct {
		t *task[K, V]
		s float64
	}
	var candidates []scored
	c.store.each(func(t *task[K, V]) bool {
		switch t.statusAt(now) {
		case statusActive:
			candidates = append(candidates, scored{t, c.opt.Memory.Score(now, t.scoreInfo())})
		case statusFailed:
			if c.opt.Policy.Errors == ErrorsCache {
				candidates = append(candidates, scored{t, c.opt.Memory.Score(now, t.scoreInfo())})
			}
		}
		return true
	})
	if len(candidates) == 0 {
		return
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].s < candidates[j].s })

	c.stats.cleanups++
	low := c.opt.Memory.MinBytes
	for _, cand := range candidates {
		if low > 0 && c.store.bytes < low {
			break
		}
		c.removeTaskLocked(cand.t, EvictMemory)
	}
}
