package mqttclient

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryMetrics keeps every series in memory. Useful in tests and for
// exposing a snapshot from a debug endpoint.
type MemoryMetrics struct {
	mu     sync.Mutex
	series map[string]*memorySeries
}

// NewMemoryMetrics returns an empty MemoryMetrics.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{series: make(map[string]*memorySeries)}
}

// seriesKey renders name{k=v,...} with sorted label keys.
func seriesKey(name string, labels MetricLabels) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func (m *MemoryMetrics) get(name string, labels MetricLabels, create bool) *memorySeries {
	key := seriesKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.series[key]
	if !ok && create {
		s = &memorySeries{}
		m.series[key] = s
	}
	return s
}

func (m *MemoryMetrics) Counter(name string, labels MetricLabels) Counter {
	return m.get(name, labels, true)
}

func (m *MemoryMetrics) Gauge(name string, labels MetricLabels) Gauge {
	return m.get(name, labels, true)
}

func (m *MemoryMetrics) Histogram(name string, labels MetricLabels) Histogram {
	return m.get(name, labels, true)
}

// Value returns the current value of a counter or gauge series, 0 if unknown.
func (m *MemoryMetrics) Value(name string, labels MetricLabels) float64 {
	if s := m.get(name, labels, false); s != nil {
		return s.Value()
	}
	return 0
}

// Observations returns the count and sum of a histogram series.
func (m *MemoryMetrics) Observations(name string, labels MetricLabels) (uint64, float64) {
	if s := m.get(name, labels, false); s != nil {
		return s.Count(), s.Sum()
	}
	return 0, 0
}

// Snapshot returns the value of every counter and gauge series by key.
func (m *MemoryMetrics) Snapshot() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]float64, len(m.series))
	for k, s := range m.series {
		out[k] = s.Value()
	}
	return out
}

// memorySeries serves as counter, gauge and histogram alike.
type memorySeries struct {
	mu    sync.Mutex
	value float64
	count uint64
	sum   float64
}

func (s *memorySeries) Set(v float64) {
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
}

func (s *memorySeries) Add(delta float64) {
	s.mu.Lock()
	s.value += delta
	s.mu.Unlock()
}

func (s *memorySeries) Inc()             { s.Add(1) }
func (s *memorySeries) Dec()             { s.Add(-1) }
func (s *memorySeries) Sub(delta float64) { s.Add(-delta) }

func (s *memorySeries) Value() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (s *memorySeries) Observe(v float64) {
	s.mu.Lock()
	s.count++
	s.sum += v
	s.mu.Unlock()
}

func (s *memorySeries) ObserveDuration(d time.Duration) {
	s.Observe(d.Seconds())
}

func (s *memorySeries) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *memorySeries) Sum() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum
}
