package cache

import (
	"sort"
	"time"

	"github.com/IvanBrykalov/memoflight/internal/format"
)

const (
	// windowSamples bounds the cached-read and fresh-fetch latency windows.
	windowSamples = 1000
	// recentSamples bounds the overall recent window used for the trend.
	recentSamples = 100
	// highValueUses is the use count from which an entry counts as
	// high-value in the inventory view.
	highValueUses = 10
)

// ring is a bounded FIFO sample window.
type ring struct {
	max  int
	vals []float64
}

func newRing(max int) *ring {
	return &ring{max: max}
}

func (r *ring) push(v float64) {
	r.vals = append(r.vals, v)
	if len(r.vals) > r.max {
		r.vals = r.vals[1:]
	}
}

func (r *ring) len() int { return len(r.vals) }

func (r *ring) avg() float64 {
	if len(r.vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.vals {
		sum += v
	}
	return sum / float64(len(r.vals))
}

// tally holds the aggregated counters and response-time windows.
// Guarded by the cache lock; reset wholesale by Clear.
type tally struct {
	startedAt time.Time

	reads    int64
	hits     int64
	misses   int64
	fetches  int64
	rejected int64
	cleanups int64 // memory passes that performed evictions
	released int64 // bytes reclaimed by removals
	errors   int64
	timeouts int64

	cached  *ring // cached-read latencies, milliseconds
	fetched *ring // fresh-fetch latencies, milliseconds
	recent  *ring // overall recent latencies, for the trend

	recentFails []bool // outcome window alongside recent

	fastest float64 // milliseconds; 0 until the first sample
	slowest float64
	sampled bool
}

func newTally(now time.Time) *tally {
	return &tally{
		startedAt: now,
		cached:    newRing(windowSamples),
		fetched:   newRing(windowSamples),
		recent:    newRing(recentSamples),
	}
}

// observe records one completed read: its latency goes into the cached or
// fetch window, the recent window, and the min/max extremes.
func (s *tally) observe(cachedRead bool, ms float64, failed bool) {
	if cachedRead {
		s.cached.push(ms)
	} else {
		s.fetched.push(ms)
	}
	s.recent.push(ms)
	s.recentFails = append(s.recentFails, failed)
	if len(s.recentFails) > recentSamples {
		s.recentFails = s.recentFails[1:]
	}
	if !s.sampled || ms < s.fastest {
		s.fastest = ms
	}
	if !s.sampled || ms > s.slowest {
		s.slowest = ms
	}
	s.sampled = true
}

// HealthStatus is the coarse health label derived from the health score.
type HealthStatus string

const (
	HealthExcellent HealthStatus = "excellent"
	HealthGood      HealthStatus = "good"
	HealthWarning   HealthStatus = "warning"
	HealthCritical  HealthStatus = "critical"
)

// Trend labels the direction of recent response times.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// Statistics is a consistent snapshot of the cache's observable state.
type Statistics struct {
	Efficiency  EfficiencyStats
	Performance PerformanceStats
	Operations  OperationStats
	Memory      MemoryStats
	Inventory   InventoryStats
	Health      HealthStats
	Temporal    TemporalStats
}

// EfficiencyStats describes how well the cache avoids refetching.
type EfficiencyStats struct {
	// HitRate is hits over total requests, in [0,1].
	HitRate       float64
	Hits          int64
	Misses        int64
	TotalRequests int64
	// TimeSavedMs estimates hits times the average latency gap between a
	// fresh fetch and a cached read.
	TimeSavedMs float64
}

// PerformanceStats summarizes the response-time windows, in milliseconds.
type PerformanceStats struct {
	AvgCachedResponseMs float64
	AvgFetchResponseMs  float64
	// PerformanceGain is the fetch-to-cached latency ratio (0 with no data).
	PerformanceGain   float64
	P95ResponseMs     float64
	FastestResponseMs float64
	SlowestResponseMs float64
}

// OperationStats describes scheduler occupancy.
type OperationStats struct {
	ActiveRequests   int
	QueuedRequests   int
	ConcurrencyLimit int
	RejectedRequests int64
	PeakConcurrency  int
}

// MemoryStats describes resident footprint and reclamation.
type MemoryStats struct {
	CurrentUsage         string
	CurrentUsageBytes    int64
	UsagePercent         float64
	Limit                string
	LimitBytes           int64
	CleanupCount         int64
	MemoryReclaimed      string
	MemoryReclaimedBytes int64
}

// InventoryStats describes the resident entry population.
type InventoryStats struct {
	TotalItems     int
	AvgItemUsage   float64
	MaxItemUsage   int64
	MinItemUsage   int64
	SingleUseItems int
	HighValueItems int
}

// HealthStats is a derived operational assessment.
type HealthStats struct {
	Status HealthStatus
	// Score is 0 to 100; deductions are listed in Issues.
	Score        int
	Issues       []string
	ErrorRate    float64
	RecentErrors int
	Timeouts     int64
}

// TemporalStats describes uptime and request velocity.
type TemporalStats struct {
	UptimeMs int64
	// Uptime is formatted as "Nd Nh Nm Ns".
	Uptime            string
	RequestsPerMinute float64
	Trend             Trend
}

// snapshotLocked assembles the full statistics view. Caller holds the lock.
func (c *cache[K, V]) snapshotLocked() Statistics {
	now := c.opt.now()
	s := c.stats

	var view Statistics

	// Efficiency.
	view.Efficiency = EfficiencyStats{
		Hits:          s.hits,
		Misses:        s.misses,
		TotalRequests: s.reads,
	}
	if s.reads > 0 {
		view.Efficiency.HitRate = float64(s.hits) / float64(s.reads)
	}
	avgCached := s.cached.avg()
	avgFetched := s.fetched.avg()
	if gap := avgFetched - avgCached; gap > 0 {
		view.Efficiency.TimeSavedMs = float64(s.hits) * gap
	}

	// Performance.
	view.Performance = PerformanceStats{
		AvgCachedResponseMs: avgCached,
		AvgFetchResponseMs:  avgFetched,
		P95ResponseMs:       percentile95(s.cached.vals, s.fetched.vals),
		FastestResponseMs:   s.fastest,
		SlowestResponseMs:   s.slowest,
	}
	if avgCached > 0 {
		view.Performance.PerformanceGain = avgFetched / avgCached
	}

	// Operations.
	view.Operations = OperationStats{
		ActiveRequests:   c.sched.running,
		QueuedRequests:   len(c.sched.queued),
		ConcurrencyLimit: c.opt.Fetching.Concurrency,
		RejectedRequests: s.rejected,
		PeakConcurrency:  c.sched.peak,
	}

	// Inventory, plus the live byte total. The persistent store counter
	// lags status changes it was never told about (an entry that expired
	// since the last mutation still sits in it until removal), so the
	// reported usage is recomputed over tasks that are active right now.
	inv := InventoryStats{TotalItems: c.store.len()}
	var totalUses, activeBytes int64
	first := true
	c.store.each(func(t *task[K, V]) bool {
		if t.statusAt(now) == statusActive {
			activeBytes += t.bytes
		}
		totalUses += t.uses
		if first || t.uses > inv.MaxItemUsage {
			inv.MaxItemUsage = t.uses
		}
		if first || t.uses < inv.MinItemUsage {
			inv.MinItemUsage = t.uses
		}
		first = false
		if t.uses <= 1 {
			inv.SingleUseItems++
		}
		if t.uses >= highValueUses {
			inv.HighValueItems++
		}
		return true
	})
	if inv.TotalItems > 0 {
		inv.AvgItemUsage = float64(totalUses) / float64(inv.TotalItems)
	}
	view.Inventory = inv

	// Memory.
	limit := c.opt.Memory.MaxBytes
	view.Memory = MemoryStats{
		CurrentUsage:         format.Bytes(activeBytes),
		CurrentUsageBytes:    activeBytes,
		Limit:                format.Bytes(limit),
		LimitBytes:           limit,
		CleanupCount:         s.cleanups,
		MemoryReclaimed:      format.Bytes(s.released),
		MemoryReclaimedBytes: s.released,
	}
	if limit > 0 {
		view.Memory.UsagePercent = float64(activeBytes) / float64(limit) * 100
	}

	// Health.
	view.Health = c.healthLocked(view)

	// Temporal.
	uptime := now.Sub(s.startedAt)
	view.Temporal = TemporalStats{
		UptimeMs: uptime.Milliseconds(),
		Uptime:   format.Uptime(uptime),
		Trend:    trendOf(s.recent.vals),
	}
	if mins := uptime.Minutes(); mins > 0 {
		view.Temporal.RequestsPerMinute = float64(s.reads) / mins
	}

	return view
}

// healthLocked scores the cache from 100 down, attaching one issue per
// deduction. Thresholds are deliberately coarse; the score is a triage
// signal, not an SLO.
func (c *cache[K, V]) healthLocked(view Statistics) HealthStats {
	s := c.stats
	h := HealthStats{Score: 100, Timeouts: s.timeouts}

	if s.reads > 0 {
		h.ErrorRate = float64(s.errors) / float64(s.reads)
	}
	for _, failed := range s.recentFails {
		if failed {
			h.RecentErrors++
		}
	}

	if h.ErrorRate > 0.05 {
		h.Score -= 30
		h.Issues = append(h.Issues, "error rate above 5%")
	}
	if view.Memory.LimitBytes > 0 && view.Memory.UsagePercent > 90 {
		h.Score -= 20
		h.Issues = append(h.Issues, "memory usage above 90% of limit")
	}
	if s.reads >= 20 && view.Efficiency.HitRate < 0.3 {
		h.Score -= 20
		h.Issues = append(h.Issues, "hit rate below 30%")
	}
	if s.fetches > 0 && float64(s.timeouts)/float64(s.fetches) > 0.05 {
		h.Score -= 10
		h.Issues = append(h.Issues, "frequent fetch timeouts")
	}
	if h.Score < 0 {
		h.Score = 0
	}

	switch {
	case h.Score >= 90:
		h.Status = HealthExcellent
	case h.Score >= 70:
		h.Status = HealthGood
	case h.Score >= 40:
		h.Status = HealthWarning
	default:
		h.Status = HealthCritical
	}
	return h
}

// trendOf compares the halves of the recent window. Fewer than ten samples
// read as stable; a shift beyond a 10% band reads as a direction.
func trendOf(recent []float64) Trend {
	if len(recent) < 10 {
		return TrendStable
	}
	half := len(recent) / 2
	var a, b float64
	for _, v := range recent[:half] {
		a += v
	}
	for _, v := range recent[half:] {
		b += v
	}
	a /= float64(half)
	b /= float64(len(recent) - half)
	switch {
	case a > 0 && b < a*0.9:
		return TrendImproving
	case a > 0 && b > a*1.1:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// percentile95 computes the 95th percentile over the merged windows.
func percentile95(windows ...[]float64) float64 {
	var all []float64
	for _, w := range windows {
		all = append(all, w...)
	}
	if len(all) == 0 {
		return 0
	}
	sort.Float64s(all)
	idx := int(float64(len(all))*0.95) - 1
	if idx < 0 {
		idx = 0
	}
	return all[idx]
}
