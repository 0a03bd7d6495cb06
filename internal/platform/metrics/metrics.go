package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors groups the workflow engine's prometheus collectors.
type Collectors struct {
	Transitions   *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	Submissions   *prometheus.CounterVec
	StepLatency   *prometheus.HistogramVec
}

var defaultCollectors = sync.OnceValue(func() *Collectors {
	return NewCollectors(prometheus.DefaultRegisterer)
})

// Default returns collectors registered on the default registry.
func Default() *Collectors {
	return defaultCollectors()
}

// NewCollectors registers the collectors on reg. Tests pass a fresh registry.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carf",
			Name:      "transitions_total",
			Help:      "Workflow actions by action and result.",
		}, []string{"action", "result"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carf",
			Name:      "notifications_total",
			Help:      "Notification deliveries by event and result.",
		}, []string{"event", "result"}),
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carf",
			Name:      "downstream_submissions_total",
			Help:      "Downstream master-data submissions by result.",
		}, []string{"result"}),
		StepLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "carf",
			Name:      "pipeline_step_seconds",
			Help:      "Latency of approval pipeline steps.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"step"}),
	}
}
