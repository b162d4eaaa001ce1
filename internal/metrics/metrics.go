package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sniper_fetches_total",
		Help: "Auction fetches per source kind and result",
	}, []string{"kind", "result"})

	MatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sniper_matches_total",
		Help: "Listings that satisfied a snipe rule",
	}, []string{"kind"})

	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sniper_alerts_total",
		Help: "Alert batches sent to the webhook",
	}, []string{"result"})

	DuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sniper_alert_duplicates_total",
		Help: "Matches suppressed by the alert ledger",
	})

	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sniper_scan_duration_seconds",
		Help:    "Wall time of one scan over the eligible sources",
		Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
	})

	TrackedSources = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sniper_tracked_sources",
		Help: "Sources with a known upload timer",
	})
)
