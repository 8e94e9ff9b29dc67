package cache

import (
	"errors"

	"github.com/IvanBrykalov/memoflight/internal/fingerprint"
)

var (
	// ErrNoFetcher is returned when no Fetcher was configured: by Get when
	// the key is not already resident, and by Refresh and Preload always
	// (Refresh removes any resident entry first).
	ErrNoFetcher = errors.New("cache: no Fetcher configured")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("cache: closed")

	// ErrTimeout marks a fetch that exceeded its deadline. All readers of
	// the affected entry receive an error matching this via errors.Is.
	ErrTimeout = errors.New("cache: fetch timed out")

	// ErrPanic marks a fetch that panicked; the panic value is attached.
	ErrPanic = errors.New("cache: panic in fetch")

	// ErrEvicted marks an entry removed before its fetch was ever
	// admitted; readers already waiting on it are unblocked with this.
	ErrEvicted = errors.New("cache: entry evicted before fetch started")

	// ErrKeyTooDeep is returned when an input nests beyond the supported
	// fingerprint depth.
	ErrKeyTooDeep = fingerprint.ErrTooDeep

	// ErrKeyUnsupported is returned for inputs with no canonical form.
	ErrKeyUnsupported = fingerprint.ErrUnsupported
)
