package aggregator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmt_fetch_total",
		Help: "Number of per-chain fetches attempted.",
	}, []string{"chain"})

	refreshFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmt_fetch_failures_total",
		Help: "Number of per-chain fetches that failed.",
	}, []string{"chain"})

	transfersSeen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gmt_snapshot_transfers_total",
		Help: "Transfers carried by produced snapshots, accumulated.",
	})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gmt_cache_hits_total",
		Help: "Snapshot reads served from the fresh cache.",
	})

	cacheRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gmt_cache_refreshes_total",
		Help: "Pipeline runs triggered by cache reads or the refresher.",
	})
)
