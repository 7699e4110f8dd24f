package scoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "fraud_scorer"

// Metrics are the scorer's prometheus collectors.
type Metrics struct {
	Iterations   *prometheus.CounterVec
	Fetched      prometheus.Counter
	Duplicates   prometheus.Counter
	Scored       prometheus.Counter
	Frauds       prometheus.Counter
	Duration     prometheus.Histogram
	LastSuccess  prometheus.Gauge
	ModelVersion *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "iterations_total",
			Help:      "Scoring iterations by outcome.",
		}, []string{"status"}),
		Fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transactions_fetched_total",
			Help:      "Transactions received from the feed.",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transactions_duplicate_total",
			Help:      "Transactions skipped because they were already scored.",
		}),
		Scored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transactions_scored_total",
			Help:      "Transactions scored and stored.",
		}),
		Frauds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frauds_detected_total",
			Help:      "Transactions flagged as fraud.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "iteration_duration_seconds",
			Help:      "Time spent in one scoring iteration.",
			Buckets:   prometheus.DefBuckets,
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last iteration that completed.",
		}),
		ModelVersion: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "model_info",
			Help:      "Registered model version in use, as a label.",
		}, []string{"model", "version"}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.Iterations, m.Fetched, m.Duplicates, m.Scored, m.Frauds, m.Duration, m.LastSuccess, m.ModelVersion,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
