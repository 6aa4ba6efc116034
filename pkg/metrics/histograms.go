package metrics

import (
	"sync"
	"time"
)

// latencyBounds are the cumulative bucket upper bounds in seconds. The low
// end is dense because most actions are single-row lookups; the tail covers
// dump and restore, which stream whole databases.
var latencyBounds = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}

// HistogramBucket is one cumulative bucket: the count of observations at or
// below Le seconds.
type HistogramBucket struct {
	Le    float64
	Count int64
}

// Histogram records per-action latency as cumulative bucket counts.
type Histogram struct {
	mu     sync.Mutex
	name   string
	counts []int64
	sum    float64
	total  int64
}

// NewHistogram returns an empty histogram with the standard latency bounds.
func NewHistogram(name string) *Histogram {
	return &Histogram{name: name, counts: make([]int64, len(latencyBounds))}
}

// Observe adds one latency sample.
func (h *Histogram) Observe(d time.Duration) {
	sec := d.Seconds()
	h.mu.Lock()
	h.sum += sec
	h.total++
	for i, le := range latencyBounds {
		if sec <= le {
			h.counts[i]++
		}
	}
	h.mu.Unlock()
}

// Percentile estimates the latency at quantile p (0.0-1.0) from the bucket
// bounds. The estimate is the upper bound of the first bucket covering the
// target rank, so it is conservative.
func (h *Histogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return quantile(h.counts, h.total, p)
}

func quantile(counts []int64, total int64, p float64) float64 {
	if total == 0 || len(counts) == 0 {
		return 0
	}
	rank := int64(p * float64(total))
	for i, c := range counts {
		if c >= rank {
			return latencyBounds[i]
		}
	}
	return latencyBounds[len(latencyBounds)-1]
}

// HistogramSnapshot is a point-in-time copy used by the metrics endpoints.
type HistogramSnapshot struct {
	Name    string
	Buckets []HistogramBucket
	Sum     float64
	Count   int64
	P50     float64
	P95     float64
	P99     float64
}

// Snapshot copies the current state and precomputes the summary quantiles.
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	buckets := make([]HistogramBucket, len(latencyBounds))
	for i, le := range latencyBounds {
		buckets[i] = HistogramBucket{Le: le, Count: h.counts[i]}
	}
	return HistogramSnapshot{
		Name:    h.name,
		Buckets: buckets,
		Sum:     h.sum,
		Count:   h.total,
		P50:     quantile(h.counts, h.total, 0.50),
		P95:     quantile(h.counts, h.total, 0.95),
		P99:     quantile(h.counts, h.total, 0.99),
	}
}

// HistogramRegistry holds one histogram per action name.
type HistogramRegistry struct {
	mu         sync.RWMutex
	histograms map[string]*Histogram
}

func NewHistogramRegistry() *HistogramRegistry {
	return &HistogramRegistry{histograms: map[string]*Histogram{}}
}

// Get returns the histogram for name, creating it on first use.
func (r *HistogramRegistry) Get(name string) *Histogram {
	r.mu.RLock()
	h, ok := r.histograms[name]
	r.mu.RUnlock()
	if ok {
		return h
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok = r.histograms[name]; ok {
		return h
	}
	h = NewHistogram(name)
	r.histograms[name] = h
	return h
}

// ObserveDuration records one sample against the named action.
func (r *HistogramRegistry) ObserveDuration(name string, d time.Duration) {
	r.Get(name).Observe(d)
}

// Snapshots returns a snapshot of every registered histogram.
func (r *HistogramRegistry) Snapshots() []HistogramSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HistogramSnapshot, 0, len(r.histograms))
	for _, h := range r.histograms {
		out = append(out, h.Snapshot())
	}
	return out
}
