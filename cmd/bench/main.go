// Command bench runs a synthetic workload against the cache, serves Prometheus metrics, and optionally exposes pprof.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IvanBrykalov/memoflight/cache"
	pmet "github.com/IvanBrykalov/memoflight/metrics/prom"
)

func main() {
	// ---- Flags ----
	var (
		ttl         = flag.Duration("ttl", time.Minute, "entry TTL")
		idle        = flag.Bool("idle", false, "expire by idle window instead of TTL")
		concurrency = flag.Int("concurrency", 0, "fetch concurrency limit (0=unlimited)")
		timeout     = flag.Duration("timeout", 0, "per-fetch timeout (0=disabled)")
		maxBytes    = flag.Int64("max_bytes", 64<<20, "memory high-water mark")
		fetchDelay  = flag.Duration("fetch_delay", 2*time.Millisecond, "simulated fetch latency")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")

		keys  = flag.Int("keys", 100_000, "keyspace size")
		zipfS = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "memoflight", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	// ---- Build cache ----
	var fetches uint64
	delay := *fetchDelay
	opt := cache.Options[string, string]{
		Fetcher: func(_ context.Context, k string) (string, error) {
			atomic.AddUint64(&fetches, 1)
			if delay > 0 {
				time.Sleep(delay)
			}
			return "v:" + k, nil
		},
		Policy: cache.CachePolicy[string]{TTL: *ttl},
		Fetching: cache.FetchPolicy{
			Timeout:     *timeout,
			Concurrency: *concurrency,
		},
		Memory:  cache.MemoryPolicy{MaxBytes: *maxBytes},
		Metrics: metrics,
	}
	if *idle {
		opt.Policy.Strategy = cache.StrategyIdle
	}
	c := cache.New[string, string](opt)
	defer func() { _ = c.Close() }()

	// ---- Snapshot flags for goroutines ----
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	// ---- Load generation ----
	var total uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, keysMax)

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				atomic.AddUint64(&total, 1)
				k := "k:" + strconv.FormatUint(localZipf.Uint64(), 10)
				if _, err := c.Get(context.Background(), k); err != nil {
					log.Printf("get %s: %v", k, err)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	ops := atomic.LoadUint64(&total)
	st := c.Stats()

	fmt.Printf("workers=%d keys=%d dur=%v seed=%d concurrency=%d\n",
		workersN, *keys, elapsed, seedBase, *concurrency)
	fmt.Printf("ops=%d (%.0f ops/s)  fetches=%d  hit-rate=%.2f%%\n",
		ops, float64(ops)/elapsed.Seconds(), atomic.LoadUint64(&fetches),
		st.Efficiency.HitRate*100)
	fmt.Printf("avg cached=%.3fms  avg fetch=%.3fms  p95=%.3fms  gain=%.1fx\n",
		st.Performance.AvgCachedResponseMs, st.Performance.AvgFetchResponseMs,
		st.Performance.P95ResponseMs, st.Performance.PerformanceGain)
	fmt.Printf("usage=%s of %s  evicted-runs=%d  reclaimed=%s  peak-concurrency=%d\n",
		st.Memory.CurrentUsage, st.Memory.Limit, st.Memory.CleanupCount,
		st.Memory.MemoryReclaimed, st.Operations.PeakConcurrency)
	fmt.Printf("health=%s (%d)  trend=%s  Len()=%d\n",
		st.Health.Status, st.Health.Score, st.Temporal.Trend, c.Len())
}
