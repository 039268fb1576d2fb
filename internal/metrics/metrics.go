// Package metrics instruments convoy's queue state machine with
// Prometheus counters, gauges and histograms: depth and cardinality per
// key, dispatch/handler latency, and jam-guard releases.
package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics.
const namespace = "convoy"

// Collector provides a central place for all application metrics.
type Collector struct {
	// Admission / queue-depth metrics, labeled by queue name.
	JobsAdded      *prometheus.CounterVec
	JobsDuplicate  *prometheus.CounterVec
	QueueDepth     *prometheus.GaugeVec
	CommittedCard  *prometheus.GaugeVec
	ProcessingCard *prometheus.GaugeVec
	FailedCard     *prometheus.GaugeVec

	// Dispatch / worker metrics.
	WorkersRunning  *prometheus.GaugeVec
	JobsCompleted   *prometheus.CounterVec
	JobsFailed      *prometheus.CounterVec
	JobsTimedOut    *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	DispatchLatency *prometheus.HistogramVec

	// Jam guard metrics.
	JamGuardScans    *prometheus.CounterVec
	JamGuardReleased *prometheus.CounterVec

	// KV backend metrics.
	KVErrors *prometheus.CounterVec

	// Circuit breaker metrics (reliability package wraps the Redis
	// backend's calls with one breaker per operation).
	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerConsecutive *prometheus.GaugeVec

	// Health metrics.
	HealthStatus *prometheus.GaugeVec

	// System metrics.
	SystemGoroutines *prometheus.Gauge
	SystemMemAlloc   *prometheus.Gauge
	SystemMemSys     *prometheus.Gauge
	SystemGCPauses   *prometheus.Histogram

	registry *prometheus.Registry
	mu       sync.RWMutex
	started  bool
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{registry: registry}

	c.initQueueMetrics()
	c.initDispatchMetrics()
	c.initJamGuardMetrics()
	c.initKVMetrics()
	c.initCircuitBreakerMetrics()
	c.initHealthMetrics()
	c.initSystemMetrics()

	return c
}

func (c *Collector) initQueueMetrics() {
	c.JobsAdded = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_added_total",
			Help:      "Total number of jobs newly admitted via AddJob",
		},
		[]string{"queue"},
	)

	c.JobsDuplicate = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_duplicate_total",
			Help:      "Total number of AddJob calls for an id already committed or processing",
		},
		[]string{"queue", "status"},
	)

	c.QueueDepth = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "queued_length",
			Help:      "Current length of the queued list",
		},
		[]string{"queue"},
	)

	c.CommittedCard = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "committed_cardinality",
			Help:      "Current cardinality of the committed set",
		},
		[]string{"queue"},
	)

	c.ProcessingCard = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "processing_cardinality",
			Help:      "Current cardinality of the processing sorted set",
		},
		[]string{"queue"},
	)

	c.FailedCard = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "failed_cardinality",
			Help:      "Current cardinality of the failed sorted set",
		},
		[]string{"queue"},
	)
}

func (c *Collector) initDispatchMetrics() {
	c.WorkersRunning = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "workers_running",
			Help:      "Current number of in-flight jobs on this convoy for a queue",
		},
		[]string{"queue"},
	)

	c.JobsCompleted = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "jobs_completed_total",
			Help:      "Total number of jobs that completed successfully",
		},
		[]string{"queue"},
	)

	c.JobsFailed = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "jobs_failed_total",
			Help:      "Total number of jobs that terminated with a handler error",
		},
		[]string{"queue"},
	)

	c.JobsTimedOut = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "jobs_timed_out_total",
			Help:      "Total number of jobs that failed due to the per-job timeout",
		},
		[]string{"queue"},
	)

	c.JobDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "job_duration_seconds",
			Help:      "Time from dispatch to terminal event for a job",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~65s
		},
		[]string{"queue"},
	)

	c.DispatchLatency = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "pop_and_reserve_seconds",
			Help:      "Time spent in PopAndReserve per dispatch loop iteration that yields a job",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
		[]string{"queue"},
	)
}

func (c *Collector) initJamGuardMetrics() {
	c.JamGuardScans = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jam_guard",
			Name:      "scans_total",
			Help:      "Total number of jam-guard scan passes",
		},
		[]string{"queue"},
	)

	c.JamGuardReleased = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jam_guard",
			Name:      "jobs_released_total",
			Help:      "Total number of jammed job ids released back to absent",
		},
		[]string{"queue"},
	)
}

func (c *Collector) initKVMetrics() {
	c.KVErrors = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kv",
			Name:      "errors_total",
			Help:      "Total number of KV backend errors, by operation",
		},
		[]string{"op"},
	)
}

func (c *Collector) initCircuitBreakerMetrics() {
	c.CircuitBreakerState = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	c.CircuitBreakerConsecutive = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "consecutive_failures",
			Help:      "Current number of consecutive failures",
		},
		[]string{"name"},
	)
}

func (c *Collector) initHealthMetrics() {
	c.HealthStatus = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health status of components (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)
}

func (c *Collector) initSystemMetrics() {
	c.SystemGoroutines = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "goroutines_total",
			Help:      "Current number of goroutines",
		},
	)

	c.SystemMemAlloc = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_allocated_bytes",
			Help:      "Bytes of allocated heap objects",
		},
	)

	c.SystemMemSys = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_system_bytes",
			Help:      "Total bytes of memory obtained from the OS",
		},
	)

	c.SystemGCPauses = promauto.With(c.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "gc_pause_seconds",
			Help:      "GC pause duration",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15),
		},
	)
}

// Start begins collecting system metrics periodically.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return
	}
	c.started = true

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			c.mu.RLock()
			running := c.started
			c.mu.RUnlock()
			if !running {
				return
			}
			c.collectSystemMetrics()
		}
	}()
}

// Stop stops the metrics collector.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
}

func (c *Collector) collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	c.SystemMemAlloc.Set(float64(m.Alloc))
	c.SystemMemSys.Set(float64(m.Sys))

	if len(m.PauseNs) > 0 {
		lastPause := m.PauseNs[(m.NumGC+255)%256]
		c.SystemGCPauses.Observe(float64(lastPause) / 1e9)
	}
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Global metrics collector.
var (
	globalCollector *Collector
	once            sync.Once
)

// GetGlobalCollector returns the global metrics collector.
func GetGlobalCollector() *Collector {
	once.Do(func() {
		globalCollector = NewCollector()
		globalCollector.Start()
	})
	return globalCollector
}
