package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "firefighter",
		Name:      "events_published_total",
		Help:      "Number of events published on the incident event bus.",
	}, []string{"event"})

	HandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "firefighter",
		Name:      "event_handler_failures_total",
		Help:      "Number of event handler invocations that returned an error or panicked.",
	}, []string{"event", "handler"})

	TaskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "firefighter",
		Name:      "task_runs_total",
		Help:      "Number of task executions by result.",
	}, []string{"task", "result"})

	ReconcileStaleRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "firefighter",
		Name:      "reconcile_stale_rows_total",
		Help:      "Number of local rows missing from the remote source, by action taken.",
	}, []string{"source", "action"})

	TransitionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "firefighter",
		Name:      "transition_duration_seconds",
		Help:      "Time spent applying an incident mutation including event fan-out.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
