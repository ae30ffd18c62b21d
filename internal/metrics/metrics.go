// Package metrics exposes Prometheus counters for CSI capture and decoding
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons recorded by RecordDropped
const (
	ReasonSigMode = "sig_mode"
	ReasonParse   = "parse"
)

// Capture line results recorded by CaptureLine
const (
	LineFrame   = "frame"
	LineIgnored = "ignored"
	LineInvalid = "invalid"
)

// Metrics holds the counters of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	recordsDecoded  prometheus.Counter
	recordsDropped  *prometheus.CounterVec
	groupsProcessed *prometheus.CounterVec
	groupsDegraded  *prometheus.CounterVec
	captureLines    *prometheus.CounterVec
	rowsWritten     prometheus.Counter
}

// New creates the counters on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		recordsDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "csi",
			Name:      "records_decoded_total",
			Help:      "CSI records decoded successfully",
		}),
		recordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csi",
			Name:      "records_dropped_total",
			Help:      "CSI records excluded before processing, by reason",
		}, []string{"reason"}),
		groupsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csi",
			Name:      "width_groups_processed_total",
			Help:      "Width groups converted to amplitude/phase, by raw width",
		}, []string{"width"}),
		groupsDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csi",
			Name:      "width_groups_degraded_total",
			Help:      "Width groups processed without null subcarrier removal, by raw width",
		}, []string{"width"}),
		captureLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csi",
			Name:      "capture_lines_total",
			Help:      "Serial lines read from the ESP32, by result",
		}, []string{"result"}),
		rowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "csi",
			Name:      "capture_rows_written_total",
			Help:      "Capture rows written to the dataset",
		}),
	}

	m.registry.MustRegister(
		m.recordsDecoded,
		m.recordsDropped,
		m.groupsProcessed,
		m.groupsDegraded,
		m.captureLines,
		m.rowsWritten,
		collectors.NewGoCollector(),
	)
	return m
}

// RecordDecoded counts successfully decoded records
func (m *Metrics) RecordDecoded(n int) {
	if m == nil {
		return
	}
	m.recordsDecoded.Add(float64(n))
}

// RecordDropped counts records excluded for the given reason
func (m *Metrics) RecordDropped(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.recordsDropped.WithLabelValues(reason).Add(float64(n))
}

// GroupProcessed counts one processed width group
func (m *Metrics) GroupProcessed(width int, degraded bool) {
	if m == nil {
		return
	}
	w := strconv.Itoa(width)
	m.groupsProcessed.WithLabelValues(w).Inc()
	if degraded {
		m.groupsDegraded.WithLabelValues(w).Inc()
	}
}

// CaptureLine counts one serial line by result
func (m *Metrics) CaptureLine(result string) {
	if m == nil {
		return
	}
	m.captureLines.WithLabelValues(result).Inc()
}

// RowWritten counts one dataset row written by the capture loop
func (m *Metrics) RowWritten() {
	if m == nil {
		return
	}
	m.rowsWritten.Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
