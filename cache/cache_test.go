package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) add(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

// countingFetcher returns "v:"+key and counts invocations.
func countingFetcher(calls *int64, delay time.Duration) FetchFunc[string, string] {
	return func(_ context.Context, k string) (string, error) {
		atomic.AddInt64(calls, 1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return "v:" + k, nil
	}
}

func TestCache_SetGetRoundTrip(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{})
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Set("k", "val"); err != nil {
		t.Fatal(err)
	}
	v, err := c.Get(context.Background(), "k")
	if err != nil || v != "val" {
		t.Fatalf("Get = (%q, %v)", v, err)
	}
	ok, err := c.Has("k")
	if err != nil || !ok {
		t.Fatalf("Has = (%v, %v)", ok, err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
	keys := c.Keys()
	if len(keys) != 1 || keys[0] != "k" {
		t.Fatalf("Keys = %v", keys)
	}
}

func TestCache_GetFetchesOnce(t *testing.T) {
	t.Parallel()

	var calls int64
	c := New[string, string](Options[string, string]{
		Fetcher: countingFetcher(&calls, 0),
	})
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		v, err := c.Get(ctx, "a")
		if err != nil || v != "v:a" {
			t.Fatalf("Get #%d = (%q, %v)", i, v, err)
		}
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("fetcher ran %d times, want 1", got)
	}

	st := c.Stats()
	if st.Efficiency.Misses != 1 || st.Efficiency.Hits != 2 {
		t.Fatalf("hits/misses = %d/%d, want 2/1",
			st.Efficiency.Hits, st.Efficiency.Misses)
	}
}

// Uses a fake clock to avoid timing flakiness.
// Ensures expired entries are refetched on the next read.
func TestCache_TTLExpiry_FakeClock(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	var calls int64
	c := New[string, string](Options[string, string]{
		Fetcher: countingFetcher(&calls, 0),
		Policy:  CachePolicy[string]{TTL: 100 * time.Millisecond},
		Clock:   clk,
	})
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	if _, err := c.Get(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("fresh entry refetched: %d calls", got)
	}

	clk.add(150 * time.Millisecond)
	if _, err := c.Get(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Fatalf("expired entry not refetched: %d calls", got)
	}
}

// Under the idle strategy, steady access keeps an entry alive past the TTL;
// a gap longer than the TTL expires it.
func TestCache_IdleStrategy(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	var calls int64
	c := New[string, string](Options[string, string]{
		Fetcher: countingFetcher(&calls, 0),
		Policy: CachePolicy[string]{
			TTL:      100 * time.Millisecond,
			Strategy: StrategyIdle,
		},
		Clock: clk,
	})
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := c.Get(ctx, "y"); err != nil {
			t.Fatal(err)
		}
		clk.add(50 * time.Millisecond) // total 250ms, well past the TTL
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("steadily accessed entry refetched: %d calls", got)
	}

	clk.add(150 * time.Millisecond)
	if _, err := c.Get(ctx, "y"); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Fatalf("idle entry not refetched: %d calls", got)
	}
}

// Under ErrorsCache, a failed entry keeps serving the same error without
// invoking the fetcher again.
func TestCache_ErrorCached(t *testing.T) {
	t.Parallel()

	var calls int64
	c := New[string, string](Options[string, string]{
		Fetcher: func(_ context.Context, _ string) (string, error) {
			atomic.AddInt64(&calls, 1)
			return "", errors.New("boom")
		},
		Policy: CachePolicy[string]{Errors: ErrorsCache},
	})
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.Get(ctx, "x")
		if err == nil || err.Error() != "boom" {
			t.Fatalf("Get #%d err = %v, want boom", i, err)
		}
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("fetcher ran %d times, want 1", got)
	}
}

// Under the default Ignore policy, each reader of a failed key triggers a
// fresh fetch.
func TestCache_ErrorIgnored(t *testing.T) {
	t.Parallel()

	var calls int64
	c := New[string, string](Options[string, string]{
		Fetcher: func(_ context.Context, _ string) (string, error) {
			atomic.AddInt64(&calls, 1)
			return "", errors.New("boom")
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	if _, err := c.Get(ctx, "x"); err == nil {
		t.Fatal("want error")
	}
	if _, err := c.Get(ctx, "x"); err == nil {
		t.Fatal("want error")
	}
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Fatalf("fetcher ran %d times, want 2", got)
	}
}

func TestCache_DeleteIdempotent(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{})
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Set("k", 1); err != nil {
		t.Fatal(err)
	}
	ok, err := c.Delete("k")
	if err != nil || !ok {
		t.Fatalf("first Delete = (%v, %v)", ok, err)
	}
	ok, err = c.Delete("k")
	if err != nil || ok {
		t.Fatalf("second Delete = (%v, %v), want no-op", ok, err)
	}
}

func TestCache_ClearResets(t *testing.T) {
	t.Parallel()

	var calls int64
	c := New[string, string](Options[string, string]{
		Fetcher: countingFetcher(&calls, 0),
	})
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	_, _ = c.Get(ctx, "a")
	_, _ = c.Get(ctx, "a")
	c.Clear()

	if c.Len() != 0 {
		t.Fatalf("Len after Clear = %d", c.Len())
	}
	st := c.Stats()
	if st.Efficiency.TotalRequests != 0 || st.Efficiency.Hits != 0 ||
		st.Memory.MemoryReclaimedBytes != 0 || st.Health.Timeouts != 0 {
		t.Fatalf("counters survived Clear: %+v", st.Efficiency)
	}
	if st.Temporal.UptimeMs > 1000 {
		t.Fatalf("uptime not reset: %dms", st.Temporal.UptimeMs)
	}

	// The cache stays usable after Clear.
	if _, err := c.Get(ctx, "a"); err != nil {
		t.Fatal(err)
	}
}

func TestCache_NoFetcher(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{})
	t.Cleanup(func() { _ = c.Close() })

	if _, err := c.Get(context.Background(), "absent"); !errors.Is(err, ErrNoFetcher) {
		t.Fatalf("want ErrNoFetcher, got %v", err)
	}
	// Resident entries are still served without a fetcher.
	if err := c.Set("k", "v"); err != nil {
		t.Fatal(err)
	}
	if v, err := c.Get(context.Background(), "k"); err != nil || v != "v" {
		t.Fatalf("Get = (%q, %v)", v, err)
	}
}

func TestCache_UseClones(t *testing.T) {
	t.Parallel()

	c := New[string, map[string]int](Options[string, map[string]int]{
		Fetching: FetchPolicy{UseClones: true},
	})
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Set("m", map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	got, err := c.Get(ctx, "m")
	if err != nil {
		t.Fatal(err)
	}
	got["n"] = 99

	again, err := c.Get(ctx, "m")
	if err != nil {
		t.Fatal(err)
	}
	if again["n"] != 1 {
		t.Fatalf("reader mutation leaked into the cache: %v", again)
	}
}

func TestCache_Refresh(t *testing.T) {
	t.Parallel()

	var calls int64
	c := New[string, string](Options[string, string]{
		Fetcher: countingFetcher(&calls, 0),
	})
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	if _, err := c.Get(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Refresh(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Fatalf("Refresh did not force a refetch: %d calls", got)
	}
}

func TestCache_SetErr(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{
		Policy: CachePolicy[string]{Errors: ErrorsCache},
	})
	t.Cleanup(func() { _ = c.Close() })

	boom := errors.New("preinstalled failure")
	if err := c.SetErr("k", boom); err != nil {
		t.Fatal(err)
	}
	_, err := c.Get(context.Background(), "k")
	if !errors.Is(err, boom) {
		t.Fatalf("Get err = %v, want preinstalled failure", err)
	}
}

func TestCache_SetFunc(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	c := New[string, string](Options[string, string]{})
	t.Cleanup(func() { _ = c.Close() })

	err := c.SetFunc("k", func(_ context.Context, _ string) (string, error) {
		<-release
		return "computed", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	ok, err := c.Has("k")
	if err != nil || !ok {
		t.Fatal("entry must be resident while computing")
	}

	close(release)
	v, err := c.Get(context.Background(), "k")
	if err != nil || v != "computed" {
		t.Fatalf("Get = (%q, %v)", v, err)
	}
}

// Structurally equal inputs share one entry regardless of map ordering.
func TestCache_StructuralKeys(t *testing.T) {
	t.Parallel()

	var calls int64
	c := New[map[string]int, string](Options[map[string]int, string]{
		Fetcher: func(_ context.Context, _ map[string]int) (string, error) {
			atomic.AddInt64(&calls, 1)
			return "shared", nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	if _, err := c.Get(ctx, map[string]int{"a": 1, "b": 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, map[string]int{"b": 2, "a": 1}); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("equal inputs fetched %d times, want 1", got)
	}
}

// A custom key function replaces the pipeline; collisions share state by
// contract.
func TestCache_CustomKeyFunc(t *testing.T) {
	t.Parallel()

	var calls int64
	c := New[string, string](Options[string, string]{
		Fetcher: countingFetcher(&calls, 0),
		Policy: CachePolicy[string]{
			KeyFunc: func(string) (string, error) { return "same", nil },
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	if _, err := c.Get(ctx, "one"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, "two"); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("colliding keys fetched %d times, want 1", got)
	}
}

// Fingerprint errors surface synchronously from every keyed operation and
// leave no state behind.
func TestCache_KeyError(t *testing.T) {
	t.Parallel()

	c := New[any, string](Options[any, string]{
		Fetcher: func(_ context.Context, _ any) (string, error) { return "", nil },
	})
	t.Cleanup(func() { _ = c.Close() })

	deep := any(map[string]any{"leaf": 1})
	for i := 0; i < 11; i++ {
		deep = map[string]any{"n": deep}
	}

	if _, err := c.Get(context.Background(), deep); !errors.Is(err, ErrKeyTooDeep) {
		t.Fatalf("Get err = %v, want ErrKeyTooDeep", err)
	}
	if _, err := c.Has(deep); !errors.Is(err, ErrKeyTooDeep) {
		t.Fatalf("Has err = %v", err)
	}
	if _, err := c.Delete(deep); !errors.Is(err, ErrKeyTooDeep) {
		t.Fatalf("Delete err = %v", err)
	}
	if err := c.Set(deep, "v"); !errors.Is(err, ErrKeyTooDeep) {
		t.Fatalf("Set err = %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("failed operations mutated state: Len = %d", c.Len())
	}
}

func TestCache_ClosedOperations(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{})
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal("Close must be idempotent")
	}
	if _, err := c.Get(context.Background(), "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get after Close = %v", err)
	}
	if err := c.Set("k", "v"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Set after Close = %v", err)
	}
}

// Deleting a queued entry unblocks readers already waiting on it.
func TestCache_DeleteQueuedUnblocksWaiters(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	c := New[string, string](Options[string, string]{
		Fetcher: func(_ context.Context, k string) (string, error) {
			<-release
			return "v:" + k, nil
		},
		Fetching: FetchPolicy{Concurrency: 1},
	})
	t.Cleanup(func() { _ = c.Close() })

	// Occupy the only slot, then queue a second key behind it.
	if err := c.Preload("busy"); err != nil {
		t.Fatal(err)
	}
	got := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), "queued")
		got <- err
	}()

	// Wait for the reader to install the queued task, then delete it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if ok, _ := c.Has("queued"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("queued entry never installed")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := c.Delete("queued"); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-got:
		if !errors.Is(err, ErrEvicted) {
			t.Fatalf("waiter got %v, want ErrEvicted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter still blocked after delete")
	}
}

func TestCache_PanicInFetchSurfacesAsError(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{
		Fetcher: func(_ context.Context, _ string) (string, error) {
			panic("kaboom")
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.Get(context.Background(), "k")
	if !errors.Is(err, ErrPanic) {
		t.Fatalf("want ErrPanic, got %v", err)
	}
	if !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("panic value lost: %v", err)
	}
}

func TestCache_ReplaceAccountsReleasedBytes(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{
		SizeOf: func(string) int64 { return 100 },
	})
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Set("k", "first"); err != nil {
		t.Fatal(err)
	}
	if err := c.Set("k", "second"); err != nil {
		t.Fatal(err)
	}
	st := c.Stats()
	if st.Memory.CurrentUsageBytes != 100 {
		t.Fatalf("usage = %d, want 100", st.Memory.CurrentUsageBytes)
	}
	if st.Memory.MemoryReclaimedBytes != 100 {
		t.Fatalf("reclaimed = %d, want 100", st.Memory.MemoryReclaimedBytes)
	}

	if _, err := c.Delete("k"); err != nil {
		t.Fatal(err)
	}
	st = c.Stats()
	if st.Memory.CurrentUsageBytes != 0 {
		t.Fatalf("usage after delete = %d", st.Memory.CurrentUsageBytes)
	}
	if st.Memory.MemoryReclaimedBytes != 200 {
		t.Fatalf("reclaimed after delete = %d, want 200", st.Memory.MemoryReclaimedBytes)
	}
}

func ExampleCache() {
	c := New[string, string](Options[string, string]{
		Fetcher: func(_ context.Context, key string) (string, error) {
			return "value for " + key, nil
		},
	})
	defer c.Close()

	v, _ := c.Get(context.Background(), "greeting")
	fmt.Println(v)
	// Output: value for greeting
}
