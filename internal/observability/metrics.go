package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Metrics is the process-wide metric set for the authoring pipeline. Counters
// are hand-rolled and exposable in Prometheus text format; callers go through
// the package-level Observe* helpers so instrumentation points stay one-liners.
type Metrics struct {
	modelRequests *CounterVec
	modelLatency  *HistogramVec
	stageOutcome  *CounterVec
	sandboxRuns   *CounterVec
	storageOps    *CounterVec
	reconcile     *CounterVec
}

var (
	currentMu sync.RWMutex
	current   *Metrics
)

func Init() *Metrics {
	m := &Metrics{
		modelRequests: NewCounterVec("model_requests_total", "Model provider requests.", []string{"model", "path", "status"}),
		modelLatency:  NewHistogramVec("model_request_seconds", "Model provider request latency.", []string{"model", "path"}, []float64{0.5, 1, 2, 5, 10, 30, 60, 120}),
		stageOutcome:  NewCounterVec("generation_stage_total", "Generation stage outcomes.", []string{"stage", "status"}),
		sandboxRuns:   NewCounterVec("sandbox_runs_total", "Sandbox script executions.", []string{"language", "status"}),
		storageOps:    NewCounterVec("content_store_ops_total", "Content store operations.", []string{"backend", "op", "status"}),
		reconcile:     NewCounterVec("reconcile_entries_total", "Reconciliation entry outcomes.", []string{"outcome"}),
	}
	currentMu.Lock()
	current = m
	currentMu.Unlock()
	return m
}

func Current() *Metrics {
	currentMu.RLock()
	defer currentMu.RUnlock()
	return current
}

func ObserveModelRequest(model, path, status string, d time.Duration) {
	m := Current()
	if m == nil {
		return
	}
	m.modelRequests.Inc(model, path, status)
	m.modelLatency.Observe(d.Seconds(), model, path)
}

func ObserveStage(stage, status string) {
	m := Current()
	if m == nil {
		return
	}
	m.stageOutcome.Inc(stage, status)
}

func ObserveSandboxRun(language, status string) {
	m := Current()
	if m == nil {
		return
	}
	m.sandboxRuns.Inc(language, status)
}

func ObserveStorageOp(backend, op, status string) {
	m := Current()
	if m == nil {
		return
	}
	m.storageOps.Inc(backend, op, status)
}

func ObserveReconcileEntry(outcome string) {
	m := Current()
	if m == nil {
		return
	}
	m.reconcile.Inc(outcome)
}

// WritePrometheus dumps every metric in Prometheus text format.
func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range []interface{ WritePrometheus(io.Writer) error }{
		m.modelRequests, m.modelLatency, m.stageOutcome, m.sandboxRuns, m.storageOps, m.reconcile,
	} {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func labelString(names, values []string) string {
	if len(names) == 0 {
		return ""
	}
	parts := make([]string, 0, len(names))
	for i, n := range names {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		parts = append(parts, fmt.Sprintf("%s=%q", n, v))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

type CounterVec struct {
	name       string
	help       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]float64
}

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{name: name, help: help, labelNames: labels, values: map[string]float64{}}
}

func (c *CounterVec) Inc(values ...string) {
	if c == nil {
		return
	}
	lbl := labelString(c.labelNames, values)
	c.mu.Lock()
	c.values[lbl]++
	c.mu.Unlock()
}

func (c *CounterVec) Value(values ...string) float64 {
	if c == nil {
		return 0
	}
	lbl := labelString(c.labelNames, values)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[lbl]
}

func (c *CounterVec) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n", c.name, c.help, c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s%s %f\n", c.name, k, c.values[k]); err != nil {
			return err
		}
	}
	return nil
}

type HistogramVec struct {
	name       string
	help       string
	labelNames []string
	buckets    []float64
	mu         sync.RWMutex
	counts     map[string][]uint64
	sums       map[string]float64
	totals     map[string]uint64
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) *HistogramVec {
	return &HistogramVec{
		name:       name,
		help:       help,
		labelNames: labels,
		buckets:    buckets,
		counts:     map[string][]uint64{},
		sums:       map[string]float64{},
		totals:     map[string]uint64{},
	}
}

func (h *HistogramVec) Observe(v float64, values ...string) {
	if h == nil {
		return
	}
	lbl := labelString(h.labelNames, values)
	h.mu.Lock()
	defer h.mu.Unlock()
	counts := h.counts[lbl]
	if counts == nil {
		counts = make([]uint64, len(h.buckets))
		h.counts[lbl] = counts
	}
	for i, b := range h.buckets {
		if v <= b {
			counts[i]++
		}
	}
	h.sums[lbl] += v
	h.totals[lbl]++
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	if h == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	keys := make([]string, 0, len(h.totals))
	for k := range h.totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for i, b := range h.buckets {
			if _, err := fmt.Fprintf(w, "%s_bucket%s{le=%q} %d\n", h.name, k, fmt.Sprint(b), h.counts[k][i]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s_sum%s %f\n%s_count%s %d\n", h.name, k, h.sums[k], h.name, k, h.totals[k]); err != nil {
			return err
		}
	}
	return nil
}
