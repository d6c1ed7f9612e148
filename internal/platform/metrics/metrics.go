// Package metrics registers the Prometheus collectors shared by the toll
// processor and the billing worker, each against its own registry so the
// two services never contend over global collector state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TollProcessorMetrics covers the GPS Ingest Loop and Zone Tracker.
type TollProcessorMetrics struct {
	Registry *prometheus.Registry

	MessagesReceived  prometheus.Counter
	MessagesProcessed *prometheus.CounterVec
	TollEventsEmitted prometheus.Counter
	OffsetCommits     prometheus.Counter
	GeofenceErrors    prometheus.Counter
	StateStoreErrors  prometheus.Counter
	ServiceUp         prometheus.Gauge
}

// NewTollProcessorMetrics constructs and registers all toll-processor
// collectors against a fresh registry.
func NewTollProcessorMetrics() *TollProcessorMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &TollProcessorMetrics{
		Registry: reg,
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toll_processor_messages_received_total",
			Help: "GPS fix messages received from the broker.",
		}),
		MessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toll_processor_messages_processed_total",
			Help: "GPS fix messages processed, labeled by outcome.",
		}, []string{"outcome"}),
		TollEventsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toll_processor_toll_events_emitted_total",
			Help: "TollEvents published to the toll-event topic.",
		}),
		OffsetCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toll_processor_offset_commits_total",
			Help: "Successful offset commits.",
		}),
		GeofenceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toll_processor_geofence_errors_total",
			Help: "Geofence lookup failures treated as absent.",
		}),
		StateStoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toll_processor_state_store_errors_total",
			Help: "Keyed state store failures surfaced to the Tracker.",
		}),
		ServiceUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toll_processor_service_up",
			Help: "1 while the service's consumer loop is running.",
		}),
	}

	reg.MustRegister(m.MessagesReceived, m.MessagesProcessed, m.TollEventsEmitted,
		m.OffsetCommits, m.GeofenceErrors, m.StateStoreErrors, m.ServiceUp)
	return m
}

// BillingWorkerMetrics covers the Billing Consumer and Payment Caller.
type BillingWorkerMetrics struct {
	Registry *prometheus.Registry

	MessagesReceived     prometheus.Counter
	MessagesProcessed    *prometheus.CounterVec
	PaymentResultsEmitted *prometheus.CounterVec
	PaymentDuration       prometheus.Histogram
	PaymentFailuresByCode *prometheus.CounterVec
	DBErrors              prometheus.Counter
	ServiceUp             prometheus.Gauge
}

// NewBillingWorkerMetrics constructs and registers all billing-worker
// collectors against a fresh registry.
func NewBillingWorkerMetrics() *BillingWorkerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &BillingWorkerMetrics{
		Registry: reg,
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_worker_messages_received_total",
			Help: "TollEvent messages received from the broker.",
		}),
		MessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_worker_messages_processed_total",
			Help: "TollEvent messages processed, labeled by outcome.",
		}, []string{"outcome"}),
		PaymentResultsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_worker_payment_results_emitted_total",
			Help: "PaymentResults published, labeled by status.",
		}, []string{"status"}),
		PaymentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "billing_worker_payment_duration_seconds",
			Help:    "Payment gateway call latency.",
			Buckets: prometheus.DefBuckets,
		}),
		PaymentFailuresByCode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_worker_payment_failures_total",
			Help: "Payment gateway failures, labeled by error code.",
		}, []string{"error_code"}),
		DBErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_worker_db_errors_total",
			Help: "Transaction store errors.",
		}),
		ServiceUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "billing_worker_service_up",
			Help: "1 while the service's consumer loop is running.",
		}),
	}

	reg.MustRegister(m.MessagesReceived, m.MessagesProcessed, m.PaymentResultsEmitted,
		m.PaymentDuration, m.PaymentFailuresByCode, m.DBErrors, m.ServiceUp)
	return m
}
