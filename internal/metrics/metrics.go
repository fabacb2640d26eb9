package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mvolagw_upstream_requests_total",
			Help: "Calls made to the MVola API by operation and outcome",
		},
		[]string{"operation", "outcome"}, // authenticate|initiate|status|details , success|failure
	)

	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mvolagw_upstream_request_duration_seconds",
			Help:    "Latency of calls made to the MVola API",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	TokenCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mvolagw_token_cache_total",
			Help: "Token cache lookups by result",
		},
		[]string{"result"}, // hit|miss|error
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		UpstreamRequestsTotal,
		UpstreamRequestDuration,
		TokenCacheTotal,
	)
}
