package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pagedb"

// Metrics holds all Prometheus metrics for the storage core
type Metrics struct {
	// Page allocator metrics
	PagesAllocatedTotal prometheus.Counter
	PagesCommittedTotal prometheus.Counter
	PageReadsTotal      prometheus.Counter
	PageCommitDuration  prometheus.Histogram
	AllocationFailures  prometheus.Counter

	// Page cache metrics
	PageCacheHits      prometheus.Counter
	PageCacheMisses    prometheus.Counter
	PageCacheEvictions prometheus.Counter

	// Indexed table metrics
	TableWritesTotal *prometheus.CounterVec
	TableReadsTotal  *prometheus.CounterVec
	TableRowsTotal   *prometheus.GaugeVec
	TableSearchRows  prometheus.Histogram

	// Rotating buffer store metrics
	BufferAppendsTotal   prometheus.Counter
	BufferSealsTotal     prometheus.Counter
	BufferCASRetries     prometheus.Counter
	BufferActiveEntries  prometheus.Gauge
	BufferSealedSegments prometheus.Gauge

	// Event store metrics
	EventsInsertedTotal *prometheus.CounterVec
	EventsRejectedTotal prometheus.Counter

	// Archive metrics
	ArchiveJobsTotal    *prometheus.CounterVec
	ArchiveJobDuration  prometheus.Histogram
	ArchivePagesWritten prometheus.Counter

	// System metrics
	DiskAvailableBytes prometheus.Gauge
	DiskUsagePercent   prometheus.Gauge
	GoroutinesTotal    prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg. A nil reg uses
// the default Prometheus registerer.
func NewMetrics(nodeID string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		PagesAllocatedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "allocator",
			Name:        "pages_allocated_total",
			Help:        "Total number of pages allocated",
			ConstLabels: labels,
		}),
		PagesCommittedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "allocator",
			Name:        "pages_committed_total",
			Help:        "Total number of pages committed",
			ConstLabels: labels,
		}),
		PageReadsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "allocator",
			Name:        "page_reads_total",
			Help:        "Total number of page reads",
			ConstLabels: labels,
		}),
		PageCommitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "allocator",
			Name:        "page_commit_duration_seconds",
			Help:        "Histogram of page commit durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		AllocationFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "allocator",
			Name:        "allocation_failures_total",
			Help:        "Total number of refused page allocations",
			ConstLabels: labels,
		}),

		TableWritesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "table",
			Name:        "writes_total",
			Help:        "Total number of row inserts and updates",
			ConstLabels: labels,
		}, []string{"table"}),
		TableReadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "table",
			Name:        "reads_total",
			Help:        "Total number of table reads by operation",
			ConstLabels: labels,
		}, []string{"table", "op"}),
		TableRowsTotal: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "table",
			Name:        "rows",
			Help:        "Current number of rows per table",
			ConstLabels: labels,
		}, []string{"table"}),
		TableSearchRows: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "table",
			Name:        "search_rows",
			Help:        "Histogram of rows returned by index searches",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
		}),

		BufferAppendsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "buffer",
			Name:        "appends_total",
			Help:        "Total number of appends to the rotating buffer",
			ConstLabels: labels,
		}),
		BufferSealsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "buffer",
			Name:        "seals_total",
			Help:        "Total number of sealed buffer generations",
			ConstLabels: labels,
		}),
		BufferCASRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "buffer",
			Name:        "cas_retries_total",
			Help:        "Total number of appends that retried after losing the rotation race",
			ConstLabels: labels,
		}),
		BufferActiveEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "buffer",
			Name:        "active_entries",
			Help:        "Entries in the active buffer at the last seal",
			ConstLabels: labels,
		}),
		BufferSealedSegments: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "buffer",
			Name:        "sealed_segments",
			Help:        "Current number of sealed segments",
			ConstLabels: labels,
		}),

		EventsInsertedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "events",
			Name:        "inserted_total",
			Help:        "Total number of events inserted by type",
			ConstLabels: labels,
		}, []string{"type"}),
		EventsRejectedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "events",
			Name:        "rejected_total",
			Help:        "Total number of inserts rejected for unregistered types or converter errors",
			ConstLabels: labels,
		}),

		ArchiveJobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "archive",
			Name:        "jobs_total",
			Help:        "Total number of segment archive jobs by status",
			ConstLabels: labels,
		}, []string{"status"}),
		ArchiveJobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "archive",
			Name:        "job_duration_seconds",
			Help:        "Histogram of segment archive durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		ArchivePagesWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "archive",
			Name:        "pages_written_total",
			Help:        "Total number of pages written by archive jobs",
			ConstLabels: labels,
		}),

		PageCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "page_cache",
			Name:        "hits_total",
			Help:        "Page reads served from cache",
			ConstLabels: labels,
		}),
		PageCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "page_cache",
			Name:        "misses_total",
			Help:        "Page reads that missed the cache",
			ConstLabels: labels,
		}),
		PageCacheEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "page_cache",
			Name:        "evictions_total",
			Help:        "Pages evicted from the cache",
			ConstLabels: labels,
		}),

		DiskAvailableBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "disk_available_bytes",
			Help:        "Available disk space in bytes",
			ConstLabels: labels,
		}),
		DiskUsagePercent: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "disk_usage_percent",
			Help:        "Disk usage percentage",
			ConstLabels: labels,
		}),
		GoroutinesTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "goroutines_total",
			Help:        "Current number of goroutines",
			ConstLabels: labels,
		}),
	}
}

// NewNopMetrics returns metrics registered on a private registry, for
// callers that do not export them.
func NewNopMetrics() *Metrics {
	return NewMetrics("", prometheus.NewRegistry())
}

// UpdateSystemStats updates system-level gauges
func (m *Metrics) UpdateSystemStats(availableBytes uint64, usagePercent float64, goroutines int) {
	m.DiskAvailableBytes.Set(float64(availableBytes))
	m.DiskUsagePercent.Set(usagePercent)
	m.GoroutinesTotal.Set(float64(goroutines))
}
