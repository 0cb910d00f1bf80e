package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storyboard_engine_requests_started_total",
		Help: "Total requests accepted by the engine.",
	})
	requestsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storyboard_engine_requests_finished_total",
		Help: "Total requests finished, by outcome.",
	}, []string{"outcome"})
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storyboard_engine_request_duration_seconds",
		Help:    "Histogram of end-to-end request durations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
)

func recordRequestStarted() {
	requestsStarted.Inc()
}

func recordRequestFinished(outcome string, duration time.Duration) {
	requestsFinished.With(prometheus.Labels{"outcome": outcome}).Inc()
	requestDuration.With(prometheus.Labels{"outcome": outcome}).Observe(duration.Seconds())
}
