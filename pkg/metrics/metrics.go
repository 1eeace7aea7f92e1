package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mangafeed_cache_operations_total",
			Help: "Cache store operations",
		},
		[]string{"op"}, // hit|miss|clear
	)
	FetchOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mangafeed_fetch_total",
			Help: "Remote fetch outcomes by kind",
		},
		[]string{"kind", "outcome"}, // kind: sources|popular|category; outcome: ok|error|cancelled
	)
	SectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mangafeed_section_items",
			Help: "Number of items currently published per feed section",
		},
		[]string{"section"},
	)
)

func MustRegister() {
	prometheus.MustRegister(CacheOps, FetchOps, SectionState)
}
