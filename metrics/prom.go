package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ContentCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitbin_content_created_total",
			Help: "no. of content items created",
		},
		[]string{"backend", "encoding"},
	)
	ContentRetrieved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitbin_content_retrieved_total",
			Help: "no. of content items served",
		},
		[]string{"encoding"},
	)
	ContentTranscoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bitbin_content_transcoded_total",
		Help: "no. of reads served as identity from gzip storage",
	})
	ContentNotAcceptable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bitbin_content_not_acceptable_total",
		Help: "no. of reads refused for an unacceptable encoding",
	})
	StoredBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bitbin_stored_bytes_total",
		Help: "payload bytes written to storage",
	})
	KeyRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bitbin_key_retries_total",
		Help: "no. of creates retried after a key conflict",
	})
	ListSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitbin_list_skipped_total",
			Help: "no. of unreadable entries skipped while listing",
		},
		[]string{"backend"},
	)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitbin_cache_hits_total",
			Help: "no. of metadata cache hits",
		},
		[]string{"tier"},
	)
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bitbin_cache_misses_total",
		Help: "no. of metadata lookups that reached the index",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bitbin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitbin_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	WALCheckpoints = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bitbin_wal_checkpoints_total",
		Help: "no. of WAL maintenance cycles",
	})
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bitbin_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)
