package cache

import (
	"context"
	"time"

	"github.com/IvanBrykalov/memoflight/score"
)

// Defaults applied by New when the corresponding option is zero.
const (
	// DefaultTTL is the entry lifetime when CachePolicy.TTL is unset.
	DefaultTTL = 5 * time.Minute

	// DefaultFlushInterval is the sweeper period when unset.
	DefaultFlushInterval = time.Minute

	// MinFlushInterval is the enforced sweeper period floor. Shorter
	// configured intervals are clamped up to this value.
	MinFlushInterval = time.Second

	// DefaultMaxBytes is the memory high-water mark when unset (10 MiB).
	DefaultMaxBytes = 10 << 20
)

// FetchFunc produces the value for an input. It is the user-supplied,
// fallible, latency-bearing computation the cache memoizes. The context is
// cancelled when the per-task timeout fires; the function may keep running,
// but its result is then discarded.
type FetchFunc[K any, V any] func(ctx context.Context, in K) (V, error)

// KeyFunc replaces the default fingerprint pipeline entirely. If a custom
// function returns colliding keys for distinct inputs, those inputs share
// cache state; that is permitted by contract.
type KeyFunc[K any] func(in K) (string, error)

// ExpirationStrategy selects which timestamp an entry's lifetime counts from.
type ExpirationStrategy int

const (
	// StrategyExpire expires entries TTL after the fetch resolved.
	StrategyExpire ExpirationStrategy = iota
	// StrategyIdle expires entries TTL after the last reader access.
	StrategyIdle
)

// ErrorPolicy controls what happens to an entry whose fetch failed.
type ErrorPolicy int

const (
	// ErrorsIgnore surfaces the error to current readers and drops the
	// entry, so the next Get refetches.
	ErrorsIgnore ErrorPolicy = iota
	// ErrorsCache keeps the failed entry; readers receive the same error
	// until expiration, deletion, or Clear.
	ErrorsCache
)

// Clock overrides the time source; useful for deterministic tests.
type Clock interface{ Now() time.Time }

// CachePolicy governs entry lifetime and key derivation.
type CachePolicy[K any] struct {
	// TTL is the entry lifetime. Zero or negative means DefaultTTL.
	TTL time.Duration

	// Strategy selects TTL-from-resolution or TTL-from-last-access.
	Strategy ExpirationStrategy

	// Errors selects whether failed fetches are cached or dropped.
	Errors ErrorPolicy

	// FlushInterval is the sweeper period, clamped to MinFlushInterval.
	FlushInterval time.Duration

	// KeyFunc, if set, bypasses the default fingerprint pipeline.
	KeyFunc KeyFunc[K]
}

// FetchPolicy governs how fetches are admitted and their results returned.
type FetchPolicy struct {
	// Timeout is the per-fetch wall-clock limit. When positive it is
	// clamped to at most the TTL; zero disables the limit.
	Timeout time.Duration

	// Concurrency caps the number of fetches in flight. Zero or negative
	// means unlimited. Excess tasks queue in FIFO creation order.
	Concurrency int

	// UseClones makes readers receive a deep copy of the cached value
	// instead of a shared reference. Errors are never cloned.
	UseClones bool
}

// MemoryPolicy governs the value-weighted eviction pass.
type MemoryPolicy struct {
	// MaxBytes is the high-water mark. Zero means DefaultMaxBytes.
	// Negative selects the "no resident bytes" mode: the memory pass
	// evicts whenever the resident byte total is above zero.
	MaxBytes int64

	// MinBytes is the low-water mark the memory pass evicts down to.
	// Must satisfy 0 < MinBytes < MaxBytes; invalid values fall back to
	// MaxBytes/2.
	MinBytes int64

	// Score overrides the eviction score. Nil means score.Default.
	Score score.Func
}

// Options configures the cache. Zero values are safe; sane defaults are
// applied in New:
//   - TTL 5m, FlushInterval 1m (floor 1s), MaxBytes 10 MiB, MinBytes max/2
//   - nil Metrics -> NoopMetrics
//   - nil Score   -> score.Default
type Options[K any, V any] struct {
	// Fetcher produces values on cache misses (Get) and preloads.
	// Optional when every entry is installed via Set/SetFunc.
	Fetcher FetchFunc[K, V]

	// Policy governs lifetime, error caching, sweeping, and keying.
	Policy CachePolicy[K]

	// Fetching governs timeout, concurrency admission, and cloning.
	Fetching FetchPolicy

	// Memory governs the byte cap and score-based eviction.
	Memory MemoryPolicy

	// SizeOf overrides the resident-byte estimator for values.
	SizeOf func(v V) int64

	// Clone overrides the deep-copy used when Fetching.UseClones is set.
	Clone func(v V) (V, error)

	// Metrics receives hit/miss/fetch/evict/size signals.
	// By default NoopMetrics is used; plug the Prometheus adapter to export.
	Metrics Metrics

	// OnEvict is called for every eviction while the cache lock is held;
	// keep callbacks lightweight.
	OnEvict func(key string, reason EvictReason)

	// Clock allows overriding the time source (tests). Nil means time.Now.
	Clock Clock
}

// normalize applies defaults and clamps in place.
func (o *Options[K, V]) normalize() {
	if o.Policy.TTL <= 0 {
		o.Policy.TTL = DefaultTTL
	}
	if o.Policy.FlushInterval <= 0 {
		o.Policy.FlushInterval = DefaultFlushInterval
	}
	if o.Policy.FlushInterval < MinFlushInterval {
		o.Policy.FlushInterval = MinFlushInterval
	}
	if o.Fetching.Timeout < 0 {
		o.Fetching.Timeout = 0
	}
	if o.Fetching.Timeout > o.Policy.TTL {
		o.Fetching.Timeout = o.Policy.TTL
	}
	if o.Fetching.Concurrency < 0 {
		o.Fetching.Concurrency = 0
	}
	if o.Memory.MaxBytes == 0 {
		o.Memory.MaxBytes = DefaultMaxBytes
	}
	if o.Memory.MaxBytes < 0 {
		// "No resident bytes" mode: the low-water mark collapses with it.
		o.Memory.MinBytes = 0
	} else if o.Memory.MinBytes <= 0 || o.Memory.MinBytes >= o.Memory.MaxBytes {
		o.Memory.MinBytes = o.Memory.MaxBytes / 2
	}
	if o.Memory.Score == nil {
		o.Memory.Score = score.Default
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
}

// now returns the current time from the configured clock.
func (o *Options[K, V]) now() time.Time {
	if o.Clock != nil {
		return o.Clock.Now()
	}
	return time.Now()
}
