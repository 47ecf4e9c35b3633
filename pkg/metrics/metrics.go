// Metric primitives
//
// Counters, gauges and histograms keyed by label set, rendered in the
// Prometheus text exposition format. Series are written in label order so
// scrapes are stable.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// Labels represents metric labels as key-value pairs
type Labels map[string]string

func (l Labels) sortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Key returns a canonical identifier for the label set.
func (l Labels) Key() string {
	var sb strings.Builder
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(l[k])
	}
	return sb.String()
}

// String renders the labels as {k="v",...}.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, `%s="%s"`, k, r.Replace(l[k]))
	}
	sb.WriteByte('}')
	return sb.String()
}

func (l Labels) with(key, value string) Labels {
	out := make(Labels, len(l)+1)
	for k, v := range l {
		out[k] = v
	}
	out[key] = value
	return out
}

// Metric is implemented by every metric type.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

// family is the name, help and per-label-set series shared by all types.
type family[V any] struct {
	name   string
	help   string
	mu     sync.Mutex
	series map[string]*series[V]
}

type series[V any] struct {
	labels Labels
	value  V
}

func (f *family[V]) setup(name, help string) {
	f.name = name
	f.help = help
	f.series = make(map[string]*series[V])
}

func (f *family[V]) Name() string { return f.name }
func (f *family[V]) Help() string { return f.help }

// update runs fn on the series for labels, creating it with fresh.
func (f *family[V]) update(labels Labels, fresh func() V, fn func(*V)) {
	key := labels.Key()
	f.mu.Lock()
	s, ok := f.series[key]
	if !ok {
		s = &series[V]{labels: labels, value: fresh()}
		f.series[key] = s
	}
	fn(&s.value)
	f.mu.Unlock()
}

func (f *family[V]) load(labels Labels) (V, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[labels.Key()]
	if !ok {
		var zero V
		return zero, false
	}
	return s.value, true
}

// each visits series in key order under the lock.
func (f *family[V]) each(fn func(Labels, V)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := f.series[k]
		fn(s.labels, s.value)
	}
}

func (f *family[V]) header(sb *strings.Builder, t MetricType) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, t)
}

func zeroUint() uint64   { return 0 }
func zeroFloat() float64 { return 0 }

// Counter is a monotonically increasing metric
type Counter struct {
	family[uint64]
}

// NewCounter creates a new counter metric
func NewCounter(name, help string) *Counter {
	c := &Counter{}
	c.setup(name, help)
	return c
}

func (c *Counter) Type() MetricType { return TypeCounter }

// Inc increments the counter by 1
func (c *Counter) Inc(labels Labels) {
	c.Add(labels, 1)
}

// Add increments the counter by delta
func (c *Counter) Add(labels Labels, delta uint64) {
	c.update(labels, zeroUint, func(v *uint64) { *v += delta })
}

// Get returns the current counter value for labels
func (c *Counter) Get(labels Labels) uint64 {
	v, _ := c.load(labels)
	return v
}

func (c *Counter) Write(sb *strings.Builder) {
	c.header(sb, TypeCounter)
	c.each(func(l Labels, v uint64) {
		fmt.Fprintf(sb, "%s%s %d\n", c.name, l, v)
	})
}

// Gauge is a metric that can go up and down
type Gauge struct {
	family[float64]
}

// NewGauge creates a new gauge metric
func NewGauge(name, help string) *Gauge {
	g := &Gauge{}
	g.setup(name, help)
	return g
}

func (g *Gauge) Type() MetricType { return TypeGauge }

// Set sets the gauge to value
func (g *Gauge) Set(labels Labels, value float64) {
	g.update(labels, zeroFloat, func(v *float64) { *v = value })
}

// SetBool sets the gauge to 1 or 0
func (g *Gauge) SetBool(labels Labels, b bool) {
	if b {
		g.Set(labels, 1)
	} else {
		g.Set(labels, 0)
	}
}

// Add adds delta to the gauge
func (g *Gauge) Add(labels Labels, delta float64) {
	g.update(labels, zeroFloat, func(v *float64) { *v += delta })
}

// Get returns the current gauge value for labels
func (g *Gauge) Get(labels Labels) float64 {
	v, _ := g.load(labels)
	return v
}

func (g *Gauge) Write(sb *strings.Builder) {
	g.header(sb, TypeGauge)
	g.each(func(l Labels, v float64) {
		fmt.Fprintf(sb, "%s%s %s\n", g.name, l, formatFloat(v))
	})
}

// Histogram tracks the distribution of observations
type Histogram struct {
	family[*histogramValue]
	bounds []float64
}

type histogramValue struct {
	count  uint64
	sum    float64
	counts []uint64 // per bound, not cumulative
}

// NewHistogram creates a histogram with the given upper bounds
func NewHistogram(name, help string, bounds []float64) *Histogram {
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	h := &Histogram{bounds: sorted}
	h.setup(name, help)
	return h
}

func (h *Histogram) Type() MetricType { return TypeHistogram }

// Observe records a value
func (h *Histogram) Observe(labels Labels, value float64) {
	fresh := func() *histogramValue {
		return &histogramValue{counts: make([]uint64, len(h.bounds))}
	}
	h.update(labels, fresh, func(hv **histogramValue) {
		v := *hv
		v.count++
		v.sum += value
		if i := sort.SearchFloat64s(h.bounds, value); i < len(h.bounds) {
			v.counts[i]++
		}
	})
}

// ObserveDuration records d in seconds
func (h *Histogram) ObserveDuration(labels Labels, d time.Duration) {
	h.Observe(labels, d.Seconds())
}

// HistogramSnapshot is a point-in-time copy of one histogram series.
// Buckets are cumulative, keyed by upper bound.
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64
}

// Snapshot returns the series for labels
func (h *Histogram) Snapshot(labels Labels) HistogramSnapshot {
	snap := HistogramSnapshot{Buckets: make(map[float64]uint64, len(h.bounds))}
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.series[labels.Key()]
	if !ok {
		return snap
	}
	snap.Count, snap.Sum = s.value.count, s.value.sum
	var cum uint64
	for i, b := range h.bounds {
		cum += s.value.counts[i]
		snap.Buckets[b] = cum
	}
	return snap
}

func (h *Histogram) Write(sb *strings.Builder) {
	h.header(sb, TypeHistogram)
	h.each(func(l Labels, v *histogramValue) {
		var cum uint64
		for i, b := range h.bounds {
			cum += v.counts[i]
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, l.with("le", formatFloat(b)), cum)
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, l.with("le", "+Inf"), v.count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, l, formatFloat(v.sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, l, v.count)
	})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Registry holds metrics in registration order.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	order   []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Register adds a metric; names must be unique.
func (r *Registry) Register(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.metrics[m.Name()]; exists {
		return fmt.Errorf("metric %q already registered", m.Name())
	}
	r.metrics[m.Name()] = m
	r.order = append(r.order, m.Name())
	return nil
}

// MustRegister adds metrics and panics on a duplicate name
func (r *Registry) MustRegister(ms ...Metric) {
	for _, m := range ms {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
}

// Get returns a metric by name
func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// Gather renders all metrics in Prometheus text format
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, name := range r.order {
		r.metrics[name].Write(&sb)
	}
	return sb.String()
}
