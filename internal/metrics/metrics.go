// Package metrics is a small named-metric registry in the shape of
// go-ethereum's metrics package (core/rawdb/freezer_table.go's readMeter/
// writeMeter fields are the clearest example retained in this tree): named
// Counter, Gauge, and Meter instruments registered once and updated from
// anywhere, plus an optional reporter that ships snapshots to InfluxDB.
// Like rlog, the upstream metrics package itself wasn't part of the
// retained source tree, so this is an adaptation of its observed shape --
// see DESIGN.md.
package metrics

import (
	"sync"
	"time"
)

// Counter is a monotonically-adjustable integer metric.
type Counter struct {
	mu  sync.Mutex
	val int64
}

func (c *Counter) Inc(delta int64) {
	c.mu.Lock()
	c.val += delta
	c.mu.Unlock()
}

func (c *Counter) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val
}

// Gauge holds the most recently reported value of a metric.
type Gauge struct {
	mu  sync.Mutex
	val float64
}

func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.val = v
	g.mu.Unlock()
}

func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.val
}

// Meter tracks an event rate via a simple exponentially-weighted moving
// average over 1-second ticks, the same role go-ethereum's metrics.Meter
// plays for freezerTable's readMeter/writeMeter.
type Meter struct {
	mu      sync.Mutex
	total   int64
	rate1   float64
	last    time.Time
}

const meterAlpha = 1 - 0.3678794411714423 // 1 - e^-1, standard EWMA decay for a 1s tick

func (m *Meter) Mark(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if m.last.IsZero() {
		m.last = now
	}
	elapsed := now.Sub(m.last).Seconds()
	if elapsed >= 1 {
		instant := float64(n) / elapsed
		m.rate1 += meterAlpha * (instant - m.rate1)
		m.last = now
	}
	m.total += n
}

func (m *Meter) Count() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

func (m *Meter) Rate1() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate1
}

// Registry is a named collection of instruments, one per
// DynamicExtension instance, so multiple instances in the same process
// don't share counters.
type Registry struct {
	mu       sync.Mutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	meters   map[string]*Meter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		meters:   make(map[string]*Meter),
	}
}

func (r *Registry) Counter(name string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{}
	r.counters[name] = c
	return c
}

func (r *Registry) Gauge(name string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{}
	r.gauges[name] = g
	return g
}

func (r *Registry) Meter(name string) *Meter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.meters[name]; ok {
		return m
	}
	m := &Meter{}
	r.meters[name] = m
	return m
}

// Snapshot is a point-in-time copy of every instrument's value, the unit
// the InfluxDB reporter ships upstream.
type Snapshot struct {
	Counters map[string]int64
	Gauges   map[string]float64
	Meters   map[string]float64 // Rate1 per meter
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{
		Counters: make(map[string]int64, len(r.counters)),
		Gauges:   make(map[string]float64, len(r.gauges)),
		Meters:   make(map[string]float64, len(r.meters)),
	}
	for name, c := range r.counters {
		snap.Counters[name] = c.Count()
	}
	for name, g := range r.gauges {
		snap.Gauges[name] = g.Value()
	}
	for name, m := range r.meters {
		snap.Meters[name] = m.Rate1()
	}
	return snap
}
