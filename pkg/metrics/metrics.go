// Package metrics holds the Prometheus collectors of the ingestion pipeline.
// All methods are safe on a nil *Metrics so components can run without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event outcomes used as the "outcome" label
const (
	OutcomeHandled      = "handled"
	OutcomeUnrecognized = "unrecognized"
	OutcomeSkipped      = "skipped"
	OutcomeFailed       = "failed"
)

// Metrics holds all Prometheus metrics for the producer and the index builder
type Metrics struct {
	// Producer
	ChainHead        prometheus.Gauge
	BlocksEmitted    prometheus.Counter
	FetchRetries     prometheus.Counter
	FetchDuration    prometheus.Histogram
	Resubscriptions  prometheus.Counter
	GapBlocksFetched prometheus.Counter

	// Index builder
	Cursor          prometheus.Gauge
	BlocksCommitted prometheus.Counter
	EventsTotal     *prometheus.CounterVec
	BlockDuration   prometheus.Histogram
	HandlerDuration *prometheus.HistogramVec
	NotifyFailures  prometheus.Counter
	State           *prometheus.GaugeVec
}

// New creates and registers all pipeline metrics on reg.
// A nil reg registers on the default registry.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "indexer"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ChainHead: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "chain_head",
			Help:      "Latest finalized head number observed",
		}),
		BlocksEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "blocks_emitted_total",
			Help:      "Total number of event blocks handed to the index builder",
		}),
		FetchRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "fetch_retries_total",
			Help:      "Total number of block fetch retries",
		}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "fetch_duration_seconds",
			Help:      "Time to fetch the events of one block, retries included",
			Buckets:   prometheus.DefBuckets,
		}),
		Resubscriptions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "resubscriptions_total",
			Help:      "Total number of head subscription recoveries",
		}),
		GapBlocksFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "gap_blocks_total",
			Help:      "Total number of intermediate blocks fetched to fill head gaps",
		}),

		Cursor: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "cursor",
			Help:      "Last fully processed block",
		}),
		BlocksCommitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "blocks_committed_total",
			Help:      "Total number of blocks committed together with the cursor",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "events_total",
			Help:      "Total number of dispatched events by outcome",
		}, []string{"outcome"}),
		BlockDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "block_duration_seconds",
			Help:      "Time to dispatch and commit one block",
			Buckets:   prometheus.DefBuckets,
		}),
		HandlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "handler_duration_seconds",
			Help:      "Handler execution time by method",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"method"}),
		NotifyFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "notify_failures_total",
			Help:      "Total number of failed commit notifications",
		}),
		State: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "state",
			Help:      "Current lifecycle state (1 for the active state)",
		}, []string{"state"}),
	}
}

// SetChainHead records the latest observed finalized head
func (m *Metrics) SetChainHead(n uint64) {
	if m == nil {
		return
	}
	m.ChainHead.Set(float64(n))
}

// RecordBlockEmitted records a block handed to the builder
func (m *Metrics) RecordBlockEmitted(gapFill bool) {
	if m == nil {
		return
	}
	m.BlocksEmitted.Inc()
	if gapFill {
		m.GapBlocksFetched.Inc()
	}
}

// RecordFetchRetry records a block fetch retry
func (m *Metrics) RecordFetchRetry() {
	if m == nil {
		return
	}
	m.FetchRetries.Inc()
}

// ObserveFetch records the duration of a block fetch
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// RecordResubscribe records a subscription recovery
func (m *Metrics) RecordResubscribe() {
	if m == nil {
		return
	}
	m.Resubscriptions.Inc()
}

// RecordEvent records the outcome of one event dispatch
func (m *Metrics) RecordEvent(outcome string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHandler records a handler execution
func (m *Metrics) ObserveHandler(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.HandlerDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordCommit records a committed block and the new cursor
func (m *Metrics) RecordCommit(block uint64, d time.Duration) {
	if m == nil {
		return
	}
	m.BlocksCommitted.Inc()
	m.Cursor.Set(float64(block))
	m.BlockDuration.Observe(d.Seconds())
}

// RecordNotifyFailure records a failed commit notification
func (m *Metrics) RecordNotifyFailure() {
	if m == nil {
		return
	}
	m.NotifyFailures.Inc()
}

// SetState marks state as the active lifecycle state among all
func (m *Metrics) SetState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.State.WithLabelValues(s).Set(v)
	}
}
