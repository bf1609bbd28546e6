// Package operational holds the service's own telemetry: prometheus metrics
// and the liveness/readiness health server.
package operational

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metricDefinition struct {
	Name string
	Help string
	Type string
}

var metricsOpts []metricDefinition

func define(name, help, kind string) {
	metricsOpts = append(metricsOpts, metricDefinition{Name: name, Help: help, Type: kind})
}

func newCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	define(opts.Name, opts.Help, "counter")
	return promauto.NewCounterVec(opts, labelNames)
}

func newCounter(opts prometheus.CounterOpts) prometheus.Counter {
	define(opts.Name, opts.Help, "counter")
	return promauto.NewCounter(opts)
}

func newGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	define(opts.Name, opts.Help, "gauge")
	return promauto.NewGauge(opts)
}

func newHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	define(opts.Name, opts.Help, "histogram")
	return promauto.NewHistogramVec(opts, labelNames)
}

func newHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	define(opts.Name, opts.Help, "histogram")
	return promauto.NewHistogram(opts)
}

const namespace = "lakeguard"

var (
	HTTPRequests = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = newHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	ReadingsAnalyzed = newCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "readings_analyzed_total",
		Help:      "Readings scored against the baseline",
	})

	AnomaliesDetected = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_detected_total",
			Help:      "Anomalous verdicts by metric and severity",
		},
		[]string{"metric", "severity"},
	)

	EventsTriggered = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_triggered_total",
			Help:      "Triggered event flags by name",
		},
		[]string{"flag"},
	)

	BaselineFitDuration = newHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "baseline_fit_duration_seconds",
		Help:      "Time spent fitting a baseline",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	BaselineFitFailures = newCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "baseline_fit_failures_total",
		Help:      "Baseline refits that failed and kept the previous model",
	})

	BaselineSize = newGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "baseline_reference_readings",
		Help:      "Reference readings in the active baseline",
	})

	BaselineFittedAt = newGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "baseline_fitted_timestamp_seconds",
		Help:      "Unix time the active baseline was fitted",
	})
)

// GetDocumentation renders every registered metric as markdown.
func GetDocumentation() string {
	defs := make([]metricDefinition, len(metricsOpts))
	copy(defs, metricsOpts)
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	var doc strings.Builder
	for _, opts := range defs {
		fmt.Fprintf(&doc, `
### %s_%s
| **Name** | %s_%s |
|:---|:---|
| **Description** | %s |
| **Type** | %s |

`, namespace, opts.Name, namespace, opts.Name, opts.Help, opts.Type)
	}
	return doc.String()
}
