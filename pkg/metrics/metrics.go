// Package metrics is a small Prometheus-compatible registry with counters,
// gauges and histograms. Labelled series are registered under their full
// name, e.g. `search_requests_total{outcome="ok"}`, and grouped by base name
// when rendered in the text exposition format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LatencyBuckets suit in-memory search latencies, in seconds.
var LatencyBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Counter is a monotonically increasing counter.
type Counter struct{ val atomic.Int64 }

func (c *Counter) Inc() { c.val.Add(1) }
func (c *Counter) Add(n int64) { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

func (c *Counter) write(w io.Writer, name, _ string) {
	fmt.Fprintf(w, "%s %d\n", name, c.Value())
}

// Gauge holds a value that can go up and down.
type Gauge struct{ bits atomic.Uint64 }

func (g *Gauge) Set(v float64) { g.bits.Store(math.Float64bits(v)) }
func (g *Gauge) Value() float64 { return math.Float64frombits(g.bits.Load()) }

func (g *Gauge) Add(d float64) {
	for {
		old := g.bits.Load()
		if g.bits.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+d)) {
			return
		}
	}
}

func (g *Gauge) write(w io.Writer, name, _ string) {
	fmt.Fprintf(w, "%s %g\n", name, g.Value())
}

// Histogram tracks a distribution over fixed upper bounds.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []uint64 // per bucket, not cumulative
	sum    float64
	count  uint64
}

func newHistogram(bounds []float64) *Histogram {
	b := slices.Clone(bounds)
	slices.Sort(b)
	return &Histogram{bounds: b, counts: make([]uint64, len(b))}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	if i, _ := slices.BinarySearch(h.bounds, v); i < len(h.bounds) {
		h.counts[i]++
	}
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) { h.Observe(time.Since(t).Seconds()) }

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) write(w io.Writer, name, base string) {
	h.mu.Lock()
	counts := slices.Clone(h.counts)
	sum, count := h.sum, h.count
	h.mu.Unlock()

	labels := labelsOf(name)
	sep := ""
	if labels != "" {
		sep = ","
	}
	var cum uint64
	for i, le := range h.bounds {
		cum += counts[i]
		fmt.Fprintf(w, "%s_bucket{%s%sle=\"%g\"} %d\n", base, labels, sep, le, cum)
	}
	fmt.Fprintf(w, "%s_bucket{%s%sle=\"+Inf\"} %d\n", base, labels, sep, count)
	fmt.Fprintf(w, "%s_sum%s %g\n", base, braced(labels), sum)
	fmt.Fprintf(w, "%s_count%s %d\n", base, braced(labels), count)
}

type series interface {
	write(w io.Writer, name, base string)
}

type family struct {
	typ    string
	help   string
	series map[string]series
}

// Registry holds named metrics. The zero value is not usable; call New.
type Registry struct {
	mu       sync.RWMutex
	families map[string]*family
	order    []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

func getOrCreate[T series](r *Registry, name, typ, help string, mk func() T) T {
	base := baseName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[base]
	if !ok {
		f = &family{typ: typ, series: make(map[string]series)}
		r.families[base] = f
		r.order = append(r.order, base)
	}
	if f.typ != typ {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", base, f.typ, typ))
	}
	if help != "" {
		f.help = help
	}
	if s, ok := f.series[name]; ok {
		return s.(T)
	}
	s := mk()
	f.series[name] = s
	return s
}

// Counter returns the counter registered under name, creating it if needed.
func (r *Registry) Counter(name, help string) *Counter {
	return getOrCreate(r, name, "counter", help, func() *Counter { return &Counter{} })
}

// Gauge returns the gauge registered under name, creating it if needed.
func (r *Registry) Gauge(name, help string) *Gauge {
	return getOrCreate(r, name, "gauge", help, func() *Gauge { return &Gauge{} })
}

// Histogram returns the histogram registered under name, creating it with
// bounds (LatencyBuckets when nil) if needed.
func (r *Registry) Histogram(name, help string, bounds []float64) *Histogram {
	if bounds == nil {
		bounds = LatencyBuckets
	}
	return getOrCreate(r, name, "histogram", help, func() *Histogram { return newHistogram(bounds) })
}

// WithLabels appends label pairs to name: WithLabels("x", "k", "v") is
// `x{k="v"}`. An odd number of pairs returns name unchanged.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	pairs := make([]string, 0, len(kvs)/2)
	for i := 0; i < len(kvs); i += 2 {
		pairs = append(pairs, fmt.Sprintf("%s=%q", kvs[i], kvs[i+1]))
	}
	return name + "{" + strings.Join(pairs, ",") + "}"
}

func baseName(name string) string {
	if i := strings.IndexByte(name, '{'); i >= 0 {
		return name[:i]
	}
	return name
}

// labelsOf returns the inside of the braces in name, or "".
func labelsOf(name string) string {
	i := strings.IndexByte(name, '{')
	if i < 0 || !strings.HasSuffix(name, "}") {
		return ""
	}
	return name[i+1 : len(name)-1]
}

func braced(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

// WriteTo renders every family in registration order, series sorted by
// name, in the Prometheus text format.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	r.mu.RLock()
	for _, base := range r.order {
		f := r.families[base]
		if f.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", base, f.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", base, f.typ)
		names := make([]string, 0, len(f.series))
		for n := range f.series {
			names = append(names, n)
		}
		slices.Sort(names)
		for _, n := range names {
			f.series[n].write(&b, n, base)
		}
	}
	r.mu.RUnlock()
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// Render returns the text exposition as a string.
func (r *Registry) Render() string {
	var b strings.Builder
	_, _ = r.WriteTo(&b)
	return b.String()
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = r.WriteTo(w)
	})
}
