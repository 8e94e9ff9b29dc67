package cache

import "context"

// Cache memoizes a fallible, latency-bearing computation keyed by the
// fingerprint of its input. At most one fetch is in flight per fingerprint;
// concurrent readers of the same fingerprint share one outcome. Entries
// expire by TTL or idle window, the resident footprint is capped, and a
// value-weighted eviction runs when the cap is exceeded.
//
// All methods are safe for concurrent use by multiple goroutines.
type Cache[K any, V any] interface {
	// Get returns the value for in. On a miss (or on an expired or
	// dropped-error entry) it installs a task and fetches via the
	// configured Fetcher; concurrent callers for the same fingerprint
	// join the same task. Cancelling ctx abandons only this caller's
	// wait; the fetch completes and stays cached.
	Get(ctx context.Context, in K) (V, error)

	// Refresh evicts any existing entry for in, then fetches fresh.
	Refresh(ctx context.Context, in K) (V, error)

	// Set installs an already-resolved value, replacing any prior entry.
	Set(in K, v V) error

	// SetErr installs an already-failed entry carrying err.
	SetErr(in K, err error) error

	// SetFunc installs an entry computed by fn, started immediately and
	// not counted against the concurrency limit's queue.
	SetFunc(in K, fn FetchFunc[K, V]) error

	// Preload installs a queued entry fetched via the Fetcher once
	// admitted. A later Get for the same input joins it.
	Preload(in K) error

	// Has reports whether an entry exists for in, in any status.
	Has(in K) (bool, error)

	// Delete removes the entry for in. Returns false if absent.
	Delete(in K) (bool, error)

	// Clear removes all entries, resets every counter and the uptime
	// base, and stops the sweeper until the next insertion.
	Clear()

	// Keys returns a snapshot of the inputs behind current entries.
	Keys() []K

	// Len returns the number of resident entries, in any status.
	Len() int

	// Stats returns a consistent snapshot of the statistics view.
	Stats() Statistics

	// Close clears the cache and rejects further use.
	Close() error
}
