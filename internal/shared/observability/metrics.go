package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	ParsingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hxindex_parsing_seconds",
		Help:    "Time spent parsing a single source or template file.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	ParseFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hxindex_parse_failures_total",
		Help: "Files that degraded to an empty parse result.",
	}, []string{"kind"})

	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hxindex_build_seconds",
		Help:    "Time spent on a full index build.",
		Buckets: prometheus.DefBuckets,
	})

	IndexedDefinitions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hxindex_definitions",
		Help: "Number of handler definitions currently indexed.",
	})

	IndexedUsages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hxindex_usages",
		Help: "Number of template usages currently indexed.",
	})

	IndexUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hxindex_index_updates_total",
		Help: "Incremental index operations by kind.",
	}, []string{"op"})

	BaseClassResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hxindex_base_class_resolutions_total",
		Help: "Base-class lookups by the tier that answered them.",
	}, []string{"tier"})

	ResolverCacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hxindex_resolver_cache_requests_total",
		Help: "Resolver cache lookups by cache and outcome.",
	}, []string{"cache", "result"})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hxindex_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})

	SnapshotRowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hxindex_snapshot_rows_written_total",
		Help: "Rows written to snapshot databases, by table.",
	}, []string{"table"})
)
