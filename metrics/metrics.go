// Package metrics exposes process and object-layer counters through
// prometheus, in the same registration style the teacher's metrics package
// uses for its HTTP/db gauges.
package metrics

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
)

const (
	NAMESPACE = "tol_"
	SUBSYSTEM = "backend_"
)

var (
	State               prometheus.Gauge
	Uptime              prometheus.Gauge
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CommitOutcomesTotal *prometheus.CounterVec
	CommitDuration      prometheus.Histogram
	LockRetriesTotal    prometheus.Counter
	GenerationRetries   prometheus.Counter
	LinkDeliveriesTotal *prometheus.CounterVec
	QueryCacheHit       prometheus.Counter
	QueryCacheMiss      prometheus.Counter
	DispatcherQueueSize prometheus.Gauge
)

func Init() error {
	State = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: NAMESPACE, Subsystem: SUBSYSTEM, Name: "state", Help: "The state of the backend",
	})
	Uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: NAMESPACE, Subsystem: SUBSYSTEM, Name: "uptime", Help: "The uptime of the backend",
	})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: NAMESPACE, Subsystem: SUBSYSTEM, Name: "http_requests_total", Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: NAMESPACE, Subsystem: SUBSYSTEM, Name: "http_request_duration_seconds",
		Help: "HTTP request latencies in seconds", Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	CommitOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: NAMESPACE, Subsystem: SUBSYSTEM, Name: "commit_outcomes_total",
		Help: "Total number of commit attempts by outcome",
	}, []string{"outcome"})
	CommitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: NAMESPACE, Subsystem: SUBSYSTEM, Name: "commit_duration_seconds",
		Help: "Commit attempt latencies in seconds", Buckets: prometheus.DefBuckets,
	})
	LockRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: NAMESPACE, Subsystem: SUBSYSTEM, Name: "commit_lock_retries_total",
		Help: "Total number of lock-retry attempts across all commits",
	})
	GenerationRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: NAMESPACE, Subsystem: SUBSYSTEM, Name: "commit_generation_retries_total",
		Help: "Total number of conflict-driven generation retries",
	})
	LinkDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: NAMESPACE, Subsystem: SUBSYSTEM, Name: "link_deliveries_total",
		Help: "Total number of link update deliveries by kind",
	}, []string{"kind"})
	QueryCacheHit = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: NAMESPACE, Subsystem: SUBSYSTEM, Name: "query_cache_hits_total", Help: "Total query cache hits",
	})
	QueryCacheMiss = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: NAMESPACE, Subsystem: SUBSYSTEM, Name: "query_cache_misses_total", Help: "Total query cache misses",
	})
	DispatcherQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: NAMESPACE, Subsystem: SUBSYSTEM, Name: "dispatcher_queue_size",
		Help: "Current number of pending commit records",
	})

	errs := make([]error, 0, 16)
	errs = append(errs, prometheus.Register(State))
	errs = append(errs, prometheus.Register(Uptime))
	errs = append(errs, prometheus.Register(HTTPRequestsTotal))
	errs = append(errs, prometheus.Register(HTTPRequestDuration))
	errs = append(errs, prometheus.Register(CommitOutcomesTotal))
	errs = append(errs, prometheus.Register(CommitDuration))
	errs = append(errs, prometheus.Register(LockRetriesTotal))
	errs = append(errs, prometheus.Register(GenerationRetries))
	errs = append(errs, prometheus.Register(LinkDeliveriesTotal))
	errs = append(errs, prometheus.Register(QueryCacheHit))
	errs = append(errs, prometheus.Register(QueryCacheMiss))
	errs = append(errs, prometheus.Register(DispatcherQueueSize))

	errs = append(errs, prometheus.Register(collectors.NewBuildInfoCollector()))
	errs = append(errs, prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: NAMESPACE})))
	return errors.WithStack(multierr.Combine(errs...))
}
