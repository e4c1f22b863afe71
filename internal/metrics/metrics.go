// Package metrics provides Prometheus metrics for the analyzer
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the analyzer
// A nil *Metrics is valid and records nothing
type Metrics struct {
	// Scheduler metrics
	TicksTotal    *prometheus.CounterVec
	TickDuration  *prometheus.HistogramVec
	TicksSkipped  *prometheus.CounterVec
	ChatTasks     *prometheus.CounterVec
	TasksInFlight prometheus.Gauge

	// Analysis metrics
	AnalysesTotal    *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	TokensTotal      *prometheus.CounterVec

	// Delivery metrics
	DeliveriesTotal *prometheus.CounterVec
}

// New creates all metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.TicksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_ticks_total",
			Help: "Total number of scheduler ticks that ran",
		},
		[]string{"job"},
	)

	m.TickDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyzer_tick_duration_seconds",
			Help:    "Duration of scheduler ticks in seconds",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"job"},
	)

	m.TicksSkipped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_ticks_skipped_total",
			Help: "Total number of ticks skipped because the hour slot was already claimed",
		},
		[]string{"job"},
	)

	m.ChatTasks = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_chat_tasks_total",
			Help: "Total number of per-chat tasks by job and status",
		},
		[]string{"job", "status"},
	)

	m.TasksInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "analyzer_chat_tasks_in_flight",
			Help: "Number of per-chat tasks currently running",
		},
	)

	m.AnalysesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_analyses_total",
			Help: "Total number of analysis invocations by outcome",
		},
		[]string{"outcome"},
	)

	m.AnalysisDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analyzer_analysis_duration_seconds",
			Help:    "Duration of analysis invocations in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	m.TokensTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_tokens_total",
			Help: "Total number of completion tokens reported by the provider",
		},
		[]string{"direction"},
	)

	m.DeliveriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_deliveries_total",
			Help: "Total number of delivery attempts by status",
		},
		[]string{"status"},
	)

	return m
}

// RecordTick records a completed scheduler tick
func (m *Metrics) RecordTick(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(job).Inc()
	m.TickDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordSkippedTick records a tick whose hour slot was already claimed
func (m *Metrics) RecordSkippedTick(job string) {
	if m == nil {
		return
	}
	m.TicksSkipped.WithLabelValues(job).Inc()
}

// RecordChatTask records the status of one per-chat task
func (m *Metrics) RecordChatTask(job, status string) {
	if m == nil {
		return
	}
	m.ChatTasks.WithLabelValues(job, status).Inc()
}

// TaskStarted increments the in-flight gauge and returns the matching decrement
func (m *Metrics) TaskStarted() func() {
	if m == nil {
		return func() {}
	}
	m.TasksInFlight.Inc()
	return m.TasksInFlight.Dec
}

// RecordAnalysis records an analysis outcome and the tokens it consumed
func (m *Metrics) RecordAnalysis(outcome string, duration time.Duration, tokensIn, tokensOut *int) {
	if m == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues(outcome).Inc()
	m.AnalysisDuration.Observe(duration.Seconds())
	if tokensIn != nil {
		m.TokensTotal.WithLabelValues("input").Add(float64(*tokensIn))
	}
	if tokensOut != nil {
		m.TokensTotal.WithLabelValues("output").Add(float64(*tokensOut))
	}
}

// RecordDelivery records a delivery attempt
func (m *Metrics) RecordDelivery(status string) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(status).Inc()
}
