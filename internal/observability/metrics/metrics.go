package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "a2a_agent"

var (
	registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status code.",
	}, []string{"handler", "method", "code"})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"handler", "method"})

	rpcCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_calls_total",
		Help:      "JSON-RPC calls by method and result code (ok or error code).",
	}, []string{"method", "code"})

	taskTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_transitions_total",
		Help:      "Task state transitions.",
	}, []string{"from", "to", "skill"})

	capabilityLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "capability_duration_seconds",
		Help:      "Capability handler latency by skill and outcome.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"skill", "outcome"})

	syncTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_timeouts_total",
		Help:      "Synchronous executions that returned before the task finished.",
	})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		httpLatency,
		rpcCalls,
		taskTransitions,
		capabilityLatency,
		syncTimeouts,
	)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveRPC counts a dispatched RPC call. code is "ok" on success.
func ObserveRPC(method, code string) {
	rpcCalls.WithLabelValues(method, code).Inc()
}

// ObserveTaskTransition matches task.TransitionHook.
func ObserveTaskTransition(from, to, skill string) {
	taskTransitions.WithLabelValues(from, to, skill).Inc()
}

// ObserveCapability records one capability invocation.
func ObserveCapability(skill, outcome string, duration time.Duration) {
	capabilityLatency.WithLabelValues(skill, outcome).Observe(duration.Seconds())
}

// ObserveSyncTimeout counts a sync wait that expired.
func ObserveSyncTimeout() {
	syncTimeouts.Inc()
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
