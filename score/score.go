// Package score defines pluggable eviction-score functions.
//
// When the cache is over its memory limit, entries are removed in ascending
// score order: a higher score means the entry is more valuable and should be
// retained longer. The Default function balances use frequency, footprint,
// and recency; alternative functions favor a single dimension. Custom
// strategies implement Func and are wired through the cache options.
package score

import "time"

// Info is the per-entry snapshot handed to a score function.
// All timestamps come from the cache clock, so scores stay deterministic
// under a fake clock in tests.
type Info struct {
	// Uses counts reader accesses since the entry was created.
	Uses int64
	// Bytes is the entry's resident byte estimate.
	Bytes int64
	// CreatedAt is when the entry was installed.
	CreatedAt time.Time
	// LastAccessedAt is the most recent reader access.
	LastAccessedAt time.Time
	// ResolvedAt is when the fetch completed (zero while in flight).
	ResolvedAt time.Time
	// TTL is the configured entry lifetime.
	TTL time.Duration
	// Failed reports whether the entry holds a cached error.
	Failed bool
}

// Func computes an eviction score for one entry. Higher means more valuable.
// Implementations must be pure: no blocking, no mutation, deterministic for
// a given (now, info) pair.
type Func func(now time.Time, info Info) float64

// Default scores frequently used, compact, recently touched entries highest:
//
//	(uses * 1024) / max(bytes, 1) / timeScore
//
// where timeScore is the entry's mean age (average of time since creation
// and time since last access) normalized by the TTL. A zero timeScore is
// treated as 1 so brand-new entries do not divide by zero.
func Default(now time.Time, info Info) float64 {
	bytes := info.Bytes
	if bytes < 1 {
		bytes = 1
	}
	ttlMs := float64(info.TTL.Milliseconds())
	if ttlMs <= 0 {
		ttlMs = 1
	}
	sinceCreated := now.Sub(info.CreatedAt).Milliseconds()
	sinceAccessed := now.Sub(info.LastAccessedAt).Milliseconds()
	timeScore := (float64(sinceCreated) + float64(sinceAccessed)) / 2 / ttlMs
	if timeScore == 0 {
		timeScore = 1
	}
	return float64(info.Uses) * 1024 / float64(bytes) / timeScore
}

// Recency ranks entries purely by last access, newest first. It turns the
// memory pass into an LRU sweep regardless of size or use counts.
func Recency(now time.Time, info Info) float64 {
	ageMs := float64(now.Sub(info.LastAccessedAt).Milliseconds())
	if ageMs < 0 {
		ageMs = 0
	}
	return 1 / (1 + ageMs)
}

// Frequency ranks entries purely by use count. Entries read often survive
// even when large or stale.
func Frequency(_ time.Time, info Info) float64 {
	return float64(info.Uses)
}
