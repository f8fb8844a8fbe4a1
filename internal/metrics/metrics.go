// Package metrics registers the prometheus collectors of a thread session.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zapthreads_events_ingested_total",
		Help: "The total number of events accepted into a session",
	}, []string{"kind"})

	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zapthreads_events_rejected_total",
		Help: "The total number of events dropped at the ingestion boundary",
	}, []string{"reason"})

	Recomputations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zapthreads_recomputations_total",
		Help: "The total number of times a comment forest was rebuilt",
	})

	ForestNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zapthreads_forest_nodes",
		Help: "Number of comments in the last materialized forest",
	})

	RepliesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zapthreads_replies_published_total",
		Help: "The total number of reply submissions by outcome",
	}, []string{"outcome"})
)

// Rejection reasons
const (
	ReasonEmpty     = "empty"
	ReasonSignature = "signature"
	ReasonAnchor    = "anchor"
	ReasonKind      = "kind"
	ReasonDuplicate = "duplicate"
)

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
