// Package metrics holds the Prometheus collectors of the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dispatch"

var (
	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "dispatch_outcomes_total", Help: "Dispatch attempts by outcome and priority"},
		[]string{"outcome", "priority"},
	)
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Latency of a single dispatch attempt",
		Buckets:   prometheus.DefBuckets,
	})
	CandidatesFound = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_candidates",
		Help:      "Eligible candidates returned by a location query",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	})
	LocationQueryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "location_query_failures_total", Help: "Location index queries that failed closed",
	})
	Offers = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "offers_total", Help: "Offer submissions and resolutions by result"},
		[]string{"result"},
	)
	ArrivalConfirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "arrival_confirmations_total", Help: "Arrival confirmations by result"},
		[]string{"result"},
	)
	EscrowReleases = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "escrow_releases_total", Help: "Escrow release calls by result"},
		[]string{"result"},
	)
	ExpirySweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "expiry_sweeps_total", Help: "Records expired by the sweeper"},
		[]string{"kind"},
	)
	SideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "side_effect_failures_total", Help: "Best-effort side effects that failed"},
		[]string{"effect"},
	)
)
