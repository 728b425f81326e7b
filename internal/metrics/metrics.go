package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileforge_tasks_submitted_total",
			Help: "Conversion tasks admitted to the queue",
		},
		[]string{"category"},
	)

	tasksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileforge_tasks_completed_total",
			Help: "Queued conversions finished, by terminal status",
		},
		[]string{"category", "status"},
	)

	conversionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fileforge_conversion_duration_seconds",
			Help:    "Wall time of a single conversion",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 120},
		},
		[]string{"category"},
	)

	tasksPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fileforge_tasks_pending",
			Help: "Records currently pending in the task store",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksSubmitted)
	prometheus.MustRegister(tasksCompleted)
	prometheus.MustRegister(conversionDuration)
	prometheus.MustRegister(tasksPending)
}

func TaskSubmitted(category string) {
	tasksSubmitted.WithLabelValues(category).Inc()
	tasksPending.Inc()
}

func TaskCompleted(category, status string, elapsed time.Duration) {
	tasksCompleted.WithLabelValues(category, status).Inc()
	conversionDuration.WithLabelValues(category).Observe(elapsed.Seconds())
	tasksPending.Dec()
}

func ObserveInline(category string, elapsed time.Duration) {
	conversionDuration.WithLabelValues(category).Observe(elapsed.Seconds())
}

// Handler exposes the default registry for mounting under /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
