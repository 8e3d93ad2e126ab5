package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	materializationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "virtualds",
		Name:      "materializations_total",
		Help:      "Total count of materializations by terminal state.",
	}, []string{"status"})

	materializationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "virtualds",
		Name:      "materialization_duration_seconds",
		Help:      "Time spent materializing a virtual array, bind to commit.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	bufferReuseTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "virtualds",
		Name:      "output_buffer_reuse_total",
		Help:      "Materializations that reused a pooled output buffer.",
	})

	registrationsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "virtualds",
		Name:      "registrations_active",
		Help:      "Virtual arrays currently registered.",
	})
)

func init() {
	prometheus.MustRegister(materializationsTotal)
	prometheus.MustRegister(materializationDuration)
	prometheus.MustRegister(bufferReuseTotal)
	prometheus.MustRegister(registrationsActive)
}
