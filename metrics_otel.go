package mqttclient

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// OTelMetrics exports client metrics through an OpenTelemetry meter.
// Counters map to Float64Counter, gauges to Float64UpDownCounter and
// histograms to Float64Histogram. The last value of each series is also kept
// locally so Value, Count and Sum keep working.
type OTelMetrics struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	gauges     map[string]metric.Float64UpDownCounter
	histograms map[string]metric.Float64Histogram
	series     map[string]*otelSeries
}

// NewOTelMetrics returns a Metrics backed by meter.
func NewOTelMetrics(meter metric.Meter) *OTelMetrics {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("mqttclient")
	}
	return &OTelMetrics{
		meter:      meter,
		counters:   make(map[string]metric.Float64Counter),
		gauges:     make(map[string]metric.Float64UpDownCounter),
		histograms: make(map[string]metric.Float64Histogram),
		series:     make(map[string]*otelSeries),
	}
}

func attributesOf(labels MetricLabels) metric.MeasurementOption {
	kvs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		kvs = append(kvs, attribute.String(k, v))
	}
	return metric.WithAttributeSet(attribute.NewSet(kvs...))
}

func (m *OTelMetrics) seriesFor(name string, labels MetricLabels) *otelSeries {
	key := seriesKey(name, labels)
	s, ok := m.series[key]
	if !ok {
		s = &otelSeries{attrs: attributesOf(labels)}
		m.series[key] = s
	}
	return s
}

// Counter returns the counter series for name and labels.
func (m *OTelMetrics) Counter(name string, labels MetricLabels) Counter {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.counters[name]
	if !ok {
		var err error
		if inst, err = m.meter.Float64Counter(name); err != nil {
			inst = noop.Float64Counter{}
		}
		m.counters[name] = inst
	}

	s := m.seriesFor(name, labels)
	return &otelCounter{inst: inst, s: s}
}

// Gauge returns the gauge series for name and labels.
func (m *OTelMetrics) Gauge(name string, labels MetricLabels) Gauge {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.gauges[name]
	if !ok {
		var err error
		if inst, err = m.meter.Float64UpDownCounter(name); err != nil {
			inst = noop.Float64UpDownCounter{}
		}
		m.gauges[name] = inst
	}

	s := m.seriesFor(name, labels)
	return &otelGauge{inst: inst, s: s}
}

// Histogram returns the histogram series for name and labels.
func (m *OTelMetrics) Histogram(name string, labels MetricLabels) Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.histograms[name]
	if !ok {
		var err error
		if inst, err = m.meter.Float64Histogram(name, metric.WithUnit("s")); err != nil {
			inst = noop.Float64Histogram{}
		}
		m.histograms[name] = inst
	}

	s := m.seriesFor(name, labels)
	return &otelHistogram{inst: inst, s: s}
}

type otelSeries struct {
	attrs metric.MeasurementOption

	mu    sync.Mutex
	value float64
	count uint64
	sum   float64
}

func (s *otelSeries) add(delta float64) {
	s.mu.Lock()
	s.value += delta
	s.mu.Unlock()
}

// set stores v and returns the difference from the previous value.
func (s *otelSeries) set(v float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	delta := v - s.value
	s.value = v
	return delta
}

func (s *otelSeries) get() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

type otelCounter struct {
	inst metric.Float64Counter
	s    *otelSeries
}

func (c *otelCounter) Inc() { c.Add(1) }

func (c *otelCounter) Add(delta float64) {
	if delta < 0 {
		return
	}
	c.s.add(delta)
	c.inst.Add(context.Background(), delta, c.s.attrs)
}

func (c *otelCounter) Value() float64 { return c.s.get() }

type otelGauge struct {
	inst metric.Float64UpDownCounter
	s    *otelSeries
}

func (g *otelGauge) Set(v float64) {
	if delta := g.s.set(v); delta != 0 {
		g.inst.Add(context.Background(), delta, g.s.attrs)
	}
}

func (g *otelGauge) Add(delta float64) {
	g.s.add(delta)
	g.inst.Add(context.Background(), delta, g.s.attrs)
}

func (g *otelGauge) Inc()              { g.Add(1) }
func (g *otelGauge) Dec()              { g.Add(-1) }
func (g *otelGauge) Sub(delta float64) { g.Add(-delta) }
func (g *otelGauge) Value() float64    { return g.s.get() }

type otelHistogram struct {
	inst metric.Float64Histogram
	s    *otelSeries
}

func (h *otelHistogram) Observe(v float64) {
	h.s.mu.Lock()
	h.s.count++
	h.s.sum += v
	h.s.mu.Unlock()
	h.inst.Record(context.Background(), v, h.s.attrs)
}

func (h *otelHistogram) ObserveDuration(d time.Duration) { h.Observe(d.Seconds()) }

func (h *otelHistogram) Count() uint64 {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.count
}

func (h *otelHistogram) Sum() float64 {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.sum
}
