// Package metrics holds the backbone's Prometheus collectors: one registry,
// constructed once at process start and threaded through every component
// that needs to record a counter, gauge, or histogram.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the backbone's collectors behind one struct so
// components take a single dependency instead of importing prometheus
// directly.
type Registry struct {
	FilesReceived      *prometheus.CounterVec
	FilesRejected      *prometheus.CounterVec
	UploadBytesTotal   prometheus.Counter
	SessionsExpired    prometheus.Counter

	TasksSubmitted   *prometheus.CounterVec
	TasksCompleted   *prometheus.CounterVec
	TaskDuration     *prometheus.HistogramVec
	QueueDepth       *prometheus.GaugeVec
	ActiveWorkers    *prometheus.GaugeVec

	RunsStarted   prometheus.Counter
	RunsCompleted *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	StageRetries  *prometheus.CounterVec

	ProgressEmitted prometheus.Counter

	RelationshipsDetected *prometheus.CounterVec

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
	CacheBuildDuration prometheus.Histogram

	ResourceCPUPercent prometheus.Gauge
	ResourceMemPercent prometheus.Gauge

	EventsPublished *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	EventHandlerDuration *prometheus.HistogramVec
}

// New constructs and registers every collector against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across parallel test packages.
func New(reg *prometheus.Registry) *Registry {
	m := &Registry{
		FilesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbackbone_files_received_total",
			Help: "Files accepted by the upload manager, by declared MIME type.",
		}, []string{"mime"}),

		FilesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbackbone_files_rejected_total",
			Help: "Files rejected by validation, by reason.",
		}, []string{"reason"}),

		UploadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docbackbone_upload_bytes_total",
			Help: "Total bytes accepted across all uploads.",
		}),

		SessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docbackbone_upload_sessions_expired_total",
			Help: "Upload sessions swept for TTL expiry.",
		}),

		TasksSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbackbone_tasks_submitted_total",
			Help: "Tasks submitted to the worker pool, by concurrency class.",
		}, []string{"class"}),

		TasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbackbone_tasks_completed_total",
			Help: "Tasks completed by the worker pool, by concurrency class and outcome.",
		}, []string{"class", "outcome"}),

		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docbackbone_task_duration_seconds",
			Help:    "Task execution duration, by concurrency class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"class"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docbackbone_queue_depth",
			Help: "Pending tasks per worker pool queue.",
		}, []string{"class"}),

		ActiveWorkers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docbackbone_active_workers",
			Help: "Workers currently executing a task, by class.",
		}, []string{"class"}),

		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docbackbone_pipeline_runs_started_total",
			Help: "Pipeline runs created.",
		}),

		RunsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbackbone_pipeline_runs_completed_total",
			Help: "Pipeline runs reaching a terminal state, by state.",
		}, []string{"state"}),

		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docbackbone_stage_duration_seconds",
			Help:    "Stage execution duration, by stage id.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),

		StageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbackbone_stage_retries_total",
			Help: "Stage retry attempts, by stage id.",
		}, []string{"stage"}),

		ProgressEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docbackbone_progress_events_emitted_total",
			Help: "Progress events emitted to the event bus after throttling.",
		}),

		RelationshipsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbackbone_relationships_detected_total",
			Help: "Relationships detected by the metadata engine, by kind.",
		}, []string{"kind"}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbackbone_cache_hits_total",
			Help: "Cache hits, by tier.",
		}, []string{"tier"}),

		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbackbone_cache_misses_total",
			Help: "Cache misses that fell through to the next tier or builder.",
		}, []string{"tier"}),

		CacheBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docbackbone_cache_build_duration_seconds",
			Help:    "Time spent in the cache builder on a full miss.",
			Buckets: prometheus.DefBuckets,
		}),

		ResourceCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docbackbone_resource_cpu_percent",
			Help: "Host CPU utilization sampled by the resource governor.",
		}),

		ResourceMemPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docbackbone_resource_memory_percent",
			Help: "Host memory utilization sampled by the resource governor.",
		}),

		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbackbone_events_published_total",
			Help: "Events published to the event bus, by type.",
		}, []string{"type"}),

		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbackbone_events_dropped_total",
			Help: "Events dropped because a subscriber queue was full, by type.",
		}, []string{"type"}),

		EventHandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docbackbone_event_handler_duration_seconds",
			Help:    "Event handler execution duration, by type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.FilesReceived, m.FilesRejected, m.UploadBytesTotal, m.SessionsExpired,
		m.TasksSubmitted, m.TasksCompleted, m.TaskDuration, m.QueueDepth, m.ActiveWorkers,
		m.RunsStarted, m.RunsCompleted, m.StageDuration, m.StageRetries,
		m.ProgressEmitted, m.RelationshipsDetected,
		m.CacheHits, m.CacheMisses, m.CacheBuildDuration,
		m.ResourceCPUPercent, m.ResourceMemPercent,
		m.EventsPublished, m.EventsDropped, m.EventHandlerDuration,
	)
	return m
}

// Handler returns an http.Handler serving reg's collectors in the
// Prometheus text exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
