// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livesub"

var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	QueueOps = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fileq",
		Name:      "operations_total",
		Help:      "File operations executed by the async file queue.",
	}, []string{"op", "result"})

	QueueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "fileq",
		Name:      "pending",
		Help:      "Requests waiting across all async file queues of the process.",
	})

	Sessions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "ended_total",
		Help:      "Recording sessions by outcome (finalized, discarded, empty, recovered).",
	}, []string{"outcome"})

	SubtitlesAppended = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "subtitles_appended_total",
		Help:      "Subtitle items appended to session logs.",
	})

	Restarts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recognizer",
		Name:      "restarts_total",
		Help:      "Recognizer resubscriptions by reason and result.",
	}, []string{"reason", "result"})

	ConsumerErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "consumer_errors_total",
		Help:      "Errors returned or panics raised by pipeline consumers.",
	}, []string{"kind"})
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
