package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry accumulates per-action counters for the stats endpoints. It is
// process-local; the handlers expose it as JSON and as Prometheus text.
type Registry struct {
	mu           sync.RWMutex
	action       map[string]*ActionStat
	database     map[string]int64
	errKind      map[string]int64
	gauges       map[string]float64
	authFailures int64
	dumpRows     int64
	restoreRows  int64
	Histograms   *HistogramRegistry
}

type ActionStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type Snapshot struct {
	GeneratedAt  string                `json:"generated_at"`
	Actions      map[string]ActionStat `json:"actions"`
	Databases    map[string]int64      `json:"databases"`
	ErrorKinds   map[string]int64      `json:"error_kinds"`
	Gauges       map[string]float64    `json:"gauges"`
	AuthFailures int64                 `json:"auth_failures_total"`
	DumpRows     int64                 `json:"dump_rows_total"`
	RestoreRows  int64                 `json:"restore_rows_total"`
	Histograms   []HistogramSnapshot   `json:"histograms,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		action:     map[string]*ActionStat{},
		database:   map[string]int64{},
		errKind:    map[string]int64{},
		gauges:     map[string]float64{},
		Histograms: NewHistogramRegistry(),
	}
}

func (r *Registry) ObserveLatency(action string, d time.Duration) {
	r.Histograms.ObserveDuration(action, d)
}

// Observe records one dispatched request. action is the canonical name
// after alias rewriting so both spellings land in one bucket.
func (r *Registry) Observe(action string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.action[action]
	if !ok {
		stat = &ActionStat{}
		r.action[action] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

func (r *Registry) IncDatabase(db string) {
	if db == "" {
		return
	}
	r.mu.Lock()
	r.database[strings.ToLower(db)]++
	r.mu.Unlock()
}

func (r *Registry) IncErrorKind(kind string) {
	if kind == "" {
		return
	}
	r.mu.Lock()
	r.errKind[kind]++
	r.mu.Unlock()
}

func (r *Registry) IncAuthFailure() {
	r.mu.Lock()
	r.authFailures++
	r.mu.Unlock()
}

func (r *Registry) AddDumpRows(n int64) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.dumpRows += n
	r.mu.Unlock()
}

func (r *Registry) AddRestoreRows(n int64) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.restoreRows += n
	r.mu.Unlock()
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
		Actions:      make(map[string]ActionStat, len(r.action)),
		Databases:    make(map[string]int64, len(r.database)),
		ErrorKinds:   make(map[string]int64, len(r.errKind)),
		Gauges:       make(map[string]float64, len(r.gauges)),
		AuthFailures: r.authFailures,
		DumpRows:     r.dumpRows,
		RestoreRows:  r.restoreRows,
	}
	for k, v := range r.action {
		out.Actions[k] = *v
	}
	for k, v := range r.database {
		out.Databases[k] = v
	}
	for k, v := range r.errKind {
		out.ErrorKinds[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	out.Histograms = r.Histograms.Snapshots()
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP integram_action_count total requests by action\n")
		b.WriteString("# TYPE integram_action_count counter\n")
		for _, a := range SortedKeys(snap.Actions) {
			fmt.Fprintf(b, "integram_action_count{action=%q} %d\n", a, snap.Actions[a].Count)
		}
		b.WriteString("# HELP integram_action_error_count total action errors\n")
		b.WriteString("# TYPE integram_action_error_count counter\n")
		for _, a := range SortedKeys(snap.Actions) {
			fmt.Fprintf(b, "integram_action_error_count{action=%q} %d\n", a, snap.Actions[a].ErrorCount)
		}
		b.WriteString("# HELP integram_action_avg_millis action average latency in milliseconds\n")
		b.WriteString("# TYPE integram_action_avg_millis gauge\n")
		for _, a := range SortedKeys(snap.Actions) {
			fmt.Fprintf(b, "integram_action_avg_millis{action=%q} %.3f\n", a, snap.Actions[a].AverageMillis)
		}
		b.WriteString("# HELP integram_action_max_millis action max latency in milliseconds\n")
		b.WriteString("# TYPE integram_action_max_millis gauge\n")
		for _, a := range SortedKeys(snap.Actions) {
			fmt.Fprintf(b, "integram_action_max_millis{action=%q} %d\n", a, snap.Actions[a].MaxMillis)
		}
		b.WriteString("# HELP integram_database_requests_total total requests by database\n")
		b.WriteString("# TYPE integram_database_requests_total counter\n")
		for _, db := range SortedKeys(snap.Databases) {
			fmt.Fprintf(b, "integram_database_requests_total{db=%q} %d\n", db, snap.Databases[db])
		}
		b.WriteString("# HELP integram_error_kind_total errors by classification\n")
		b.WriteString("# TYPE integram_error_kind_total counter\n")
		for _, k := range SortedKeys(snap.ErrorKinds) {
			fmt.Fprintf(b, "integram_error_kind_total{kind=%q} %d\n", k, snap.ErrorKinds[k])
		}
		b.WriteString("# HELP integram_auth_failures_total rejected logins and tokens\n")
		b.WriteString("# TYPE integram_auth_failures_total counter\n")
		fmt.Fprintf(b, "integram_auth_failures_total %d\n", snap.AuthFailures)
		b.WriteString("# HELP integram_dump_rows_total rows written to backups\n")
		b.WriteString("# TYPE integram_dump_rows_total counter\n")
		fmt.Fprintf(b, "integram_dump_rows_total %d\n", snap.DumpRows)
		b.WriteString("# HELP integram_restore_rows_total rows loaded from backups\n")
		b.WriteString("# TYPE integram_restore_rows_total counter\n")
		fmt.Fprintf(b, "integram_restore_rows_total %d\n", snap.RestoreRows)
		b.WriteString("# HELP integram_gauge operational gauge metrics\n")
		b.WriteString("# TYPE integram_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "integram_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		for _, h := range snap.Histograms {
			b.WriteString("# HELP integram_latency_seconds latency histogram\n")
			b.WriteString("# TYPE integram_latency_seconds histogram\n")
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "integram_latency_seconds_bucket{action=%q,le=\"%.3f\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "integram_latency_seconds_bucket{action=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "integram_latency_seconds_sum{action=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "integram_latency_seconds_count{action=%q} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "integram_latency_p50_seconds{action=%q} %.6f\n", h.Name, h.P50)
			fmt.Fprintf(b, "integram_latency_p95_seconds{action=%q} %.6f\n", h.Name, h.P95)
			fmt.Fprintf(b, "integram_latency_p99_seconds{action=%q} %.6f\n", h.Name, h.P99)
		}
		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
