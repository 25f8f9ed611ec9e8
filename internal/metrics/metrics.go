// Package metrics holds the Prometheus collectors for fixture generation,
// outcome publication and settlement. Collectors are package globals; call
// Register once from main before serving /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	WagersSettled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scoracle_wagers_settled_total",
		Help: "Wagers moved out of pending, by terminal status.",
	}, []string{"status"})

	SettlementRaceLost = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scoracle_settlement_race_lost_total",
		Help: "Settlements skipped because another worker settled the wager first.",
	})

	SettlementFallback = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scoracle_settlement_fallback_total",
		Help: "Settlements attempted on the non-transactional fallback path.",
	})

	SettlementStuck = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scoracle_settlement_stuck_total",
		Help: "Pending wagers found behind a settlement event older than the stuck threshold.",
	})

	SettlementPassSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scoracle_settlement_pass_seconds",
		Help:    "Duration of one reconciler pass.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	FixtureCollisions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scoracle_fixture_collisions_total",
		Help: "Generated fixture cycles discarded because a week repeated a prior cycle.",
	})

	OutcomesPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scoracle_outcomes_published_total",
		Help: "Final outcomes written by the publisher.",
	})
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			WagersSettled,
			SettlementRaceLost,
			SettlementFallback,
			SettlementStuck,
			SettlementPassSeconds,
			FixtureCollisions,
			OutcomesPublished,
		)
	})
}
