package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/modqueue-notifier/internal/domain"
	"github.com/notifyhub/modqueue-notifier/internal/service"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	ItemsEnqueued  *prometheus.CounterVec
	ItemsSkipped   *prometheus.CounterVec
	Deliveries     *prometheus.CounterVec
	OverflowAlerts *prometheus.CounterVec
	FlushBatchSize prometheus.Histogram
	FlushDuration  prometheus.Histogram
	BufferDepth    prometheus.Gauge
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ItemsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modqueue_items_enqueued_total",
			Help: "Queue items buffered for the next flush.",
		}, []string{"kind"}),

		ItemsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modqueue_items_skipped_total",
			Help: "Queue items not buffered, by intake outcome.",
		}, []string{"outcome"}),

		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modqueue_webhook_deliveries_total",
			Help: "Webhook requests after retries, by platform and result.",
		}, []string{"platform", "success"}),

		OverflowAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modqueue_overflow_alerts_total",
			Help: "Overflow alerts attempted, by whether any platform accepted them.",
		}, []string{"sent"}),

		FlushBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "modqueue_flush_batch_items",
			Help:    "Items delivered per non-empty flush.",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}),

		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "modqueue_flush_seconds",
			Help:    "Wall time of a non-empty flush including retries.",
			Buckets: prometheus.DefBuckets,
		}),

		BufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modqueue_buffer_depth",
			Help: "Entries waiting in the notification buffer.",
		}),
	}

	reg.MustRegister(
		m.ItemsEnqueued,
		m.ItemsSkipped,
		m.Deliveries,
		m.OverflowAlerts,
		m.FlushBatchSize,
		m.FlushDuration,
		m.BufferDepth,
	)

	return m
}

// PipelineHooks returns the callbacks expected by service.Hooks.
// Centralises the prometheus observation calls so the pipeline stays import-free.
func (m *Metrics) PipelineHooks() service.Hooks {
	return service.Hooks{
		OnEnqueued: func(k domain.Kind) {
			m.ItemsEnqueued.WithLabelValues(string(k)).Inc()
		},
		OnSkipped: func(o service.Outcome) {
			m.ItemsSkipped.WithLabelValues(string(o)).Inc()
		},
		OnDelivered: func(p domain.Platform, ok bool) {
			m.Deliveries.WithLabelValues(string(p), strconv.FormatBool(ok)).Inc()
		},
		OnFlushed: func(items int, elapsed time.Duration) {
			m.FlushBatchSize.Observe(float64(items))
			m.FlushDuration.Observe(elapsed.Seconds())
		},
		OnDepth: func(depth int) {
			m.BufferDepth.Set(float64(depth))
		},
		OnOverflow: func(sent bool) {
			m.OverflowAlerts.WithLabelValues(strconv.FormatBool(sent)).Inc()
		},
	}
}
