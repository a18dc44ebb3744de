package anyppo

import "gonum.org/v1/gonum/stat"

// A MetricSink receives scalar training metrics once per
// iteration.
//
// The Runner calls Add from its own goroutine, so sinks
// that share state must synchronize themselves.
type MetricSink interface {
	Add(iteration int, metrics map[string]float64)
}

type nopSink struct{}

func (nopSink) Add(int, map[string]float64) {}

// metricWindow keeps the most recent values of a metric
// for windowed averages.
type metricWindow struct {
	cap  int
	vals []float64
}

func newMetricWindow(cap int) *metricWindow {
	return &metricWindow{cap: cap}
}

func (m *metricWindow) Push(v float64) {
	m.vals = append(m.vals, v)
	if len(m.vals) > m.cap {
		m.vals = m.vals[1:]
	}
}

func (m *metricWindow) Len() int {
	return len(m.vals)
}

func (m *metricWindow) Mean() float64 {
	if len(m.vals) == 0 {
		return 0
	}
	return stat.Mean(m.vals, nil)
}
