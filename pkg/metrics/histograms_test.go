package metrics

import (
	"testing"
	"time"
)

func TestHistogramObserve(t *testing.T) {
	h := NewHistogram("_d_get")
	h.Observe(3 * time.Millisecond)
	h.Observe(30 * time.Millisecond)
	h.Observe(300 * time.Millisecond)

	snap := h.Snapshot()
	if snap.Count != 3 {
		t.Fatalf("count = %d, want 3", snap.Count)
	}
	if snap.Sum < 0.3 || snap.Sum > 0.4 {
		t.Fatalf("sum = %v, want about 0.333", snap.Sum)
	}
	// Buckets are cumulative, so the last one holds every sample.
	last := snap.Buckets[len(snap.Buckets)-1]
	if last.Count != 3 {
		t.Fatalf("terminal bucket count = %d, want 3", last.Count)
	}
}

func TestHistogramPercentiles(t *testing.T) {
	h := NewHistogram("_d_list")
	for i := 0; i < 95; i++ {
		h.Observe(8 * time.Millisecond)
	}
	for i := 0; i < 5; i++ {
		h.Observe(2 * time.Second)
	}
	if p50 := h.Percentile(0.50); p50 > 0.01 {
		t.Errorf("p50 = %v, want <= 0.01", p50)
	}
	if p99 := h.Percentile(0.99); p99 < 2.5 {
		t.Errorf("p99 = %v, want the 2.5s bucket", p99)
	}
}

func TestHistogramEmpty(t *testing.T) {
	h := NewHistogram("_alive")
	if p := h.Percentile(0.50); p != 0 {
		t.Errorf("p50 of empty histogram = %v, want 0", p)
	}
	if snap := h.Snapshot(); snap.Count != 0 || snap.P95 != 0 {
		t.Errorf("empty snapshot = %+v", snap)
	}
}

func TestHistogramRegistry(t *testing.T) {
	reg := NewHistogramRegistry()
	reg.ObserveDuration("_d_get", 10*time.Millisecond)
	reg.ObserveDuration("_d_get", 20*time.Millisecond)
	reg.ObserveDuration("_dump", 4*time.Second)

	snaps := reg.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snaps))
	}
	byName := map[string]HistogramSnapshot{}
	for _, s := range snaps {
		byName[s.Name] = s
	}
	if byName["_d_get"].Count != 2 {
		t.Errorf("_d_get count = %d, want 2", byName["_d_get"].Count)
	}
	if byName["_dump"].P95 < 4 {
		t.Errorf("_dump p95 = %v, want >= 4s bucket", byName["_dump"].P95)
	}
	if reg.Get("_d_get") != reg.Get("_d_get") {
		t.Error("Get should return the same histogram for one name")
	}
}
