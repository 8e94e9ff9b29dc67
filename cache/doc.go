// Package cache provides an in-process asynchronous memoization cache:
// single-flight fetches keyed by input fingerprint, bounded concurrency
// with FIFO admission, TTL or idle expiration, byte-accounted footprint
// with score-based eviction, and a rich statistics view.
//
// Design
//
//   - Keys: inputs of any shape are reduced to a deterministic fingerprint
//     (canonical rendering, order-independent for mappings, hashed to a
//     128-bit hex string). A custom KeyFunc may replace the pipeline.
//
//   - Single flight: per fingerprint there is at most one task, holding a
//     one-shot completion slot. Every concurrent reader awaits the same
//     slot and observes the same value or error.
//
//   - Scheduling: tasks are admitted up to Fetching.Concurrency at a time,
//     oldest first. With no limit, every task starts immediately. Nothing
//     is rejected; excess tasks wait in the queue.
//
//   - Lifetime: entries expire TTL after resolution (StrategyExpire) or
//     TTL after the last access (StrategyIdle). A periodic sweeper removes
//     expired and dropped-error entries.
//
//   - Memory: each resolved value gets a resident-byte estimate. When the
//     total passes Memory.MaxBytes the sweeper evicts the lowest-scored
//     entries until usage falls under Memory.MinBytes. The score function
//     is pluggable; see the score package.
//
//   - Timeouts: Fetching.Timeout (clamped to the TTL) bounds each fetch.
//     A fetch that overruns is reported as a timeout error to every
//     reader; its eventual result is discarded.
//
//   - Errors: failed fetches either surface once and drop the entry
//     (ErrorsIgnore) or stay cached and keep returning the same error
//     until expiration or removal (ErrorsCache).
//
//   - Metrics: Options.Metrics receives hit/miss/fetch/timeout/evict/size
//     signals. By default NoopMetrics is used; plug the Prometheus adapter
//     from metrics/prom to export them. Options.OnEvict is called for
//     every eviction with its reason.
//
// Basic usage
//
//	c := cache.New[string, string](cache.Options[string, string]{
//	    Fetcher: func(ctx context.Context, key string) (string, error) {
//	        return slowLookup(ctx, key)
//	    },
//	})
//	defer c.Close()
//
//	v, err := c.Get(ctx, "user:42") // fetches once
//	v, err = c.Get(ctx, "user:42")  // served from memory
//
// With a timeout and bounded concurrency
//
//	c := cache.New[Query, Result](cache.Options[Query, Result]{
//	    Fetcher:  runQuery,
//	    Fetching: cache.FetchPolicy{Timeout: 2 * time.Second, Concurrency: 8},
//	})
//
// With idle expiration and cached errors
//
//	c := cache.New[string, Profile](cache.Options[string, Profile]{
//	    Fetcher: loadProfile,
//	    Policy: cache.CachePolicy[string]{
//	        TTL:      time.Minute,
//	        Strategy: cache.StrategyIdle,
//	        Errors:   cache.ErrorsCache,
//	    },
//	})
//
// Statistics
//
//	st := c.Stats()
//	fmt.Printf("hit rate %.0f%%, usage %s of %s, health %s\n",
//	    st.Efficiency.HitRate*100, st.Memory.CurrentUsage,
//	    st.Memory.Limit, st.Health.Status)
//
// Thread-safety
//
// All methods on Cache are safe for concurrent use. Internal bookkeeping
// is guarded by a single mutex that is never held across a fetch or a
// reader wait, so operations stay O(resident entries) at worst (sweeps)
// and O(1) expected for reads.
package cache
