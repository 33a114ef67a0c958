package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolrun",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "toolrun",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	remoteCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolrun",
			Subsystem: "remote",
			Name:      "calls_total",
			Help:      "Control calls issued to the remote execution server.",
		},
		[]string{"action", "code"},
	)
	remoteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "toolrun",
			Subsystem: "remote",
			Name:      "call_duration_seconds",
			Help:      "Remote control call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"action"},
	)
	runtimeStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolrun",
			Subsystem: "runtime",
			Name:      "starts_total",
			Help:      "Tool start dispatches by outcome.",
		},
		[]string{"environment", "tool", "outcome"},
	)
	runtimeActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "toolrun",
			Subsystem: "runtime",
			Name:      "running",
			Help:      "Client runtimes currently marked running.",
		},
	)
	processExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolrun",
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Tool processes finished on the execution server.",
		},
		[]string{"environment", "tool", "reason"},
	)
	processActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "toolrun",
			Subsystem: "process",
			Name:      "running",
			Help:      "Tool processes currently running on the execution server.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			remoteCalls,
			remoteDuration,
			runtimeStarts,
			runtimeActive,
			processExits,
			processActive,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordRemoteCall counts one control call; code is empty on success.
func RecordRemoteCall(action, code string, duration time.Duration) {
	RegisterMetrics()
	if code == "" {
		code = "ok"
	}
	remoteCalls.WithLabelValues(action, code).Inc()
	remoteDuration.WithLabelValues(action).Observe(duration.Seconds())
}

func RecordRuntimeStart(environment, tool, outcome string) {
	RegisterMetrics()
	runtimeStarts.WithLabelValues(environment, tool, outcome).Inc()
}

// RuntimeRunning adjusts the running runtime gauge by delta.
func RuntimeRunning(delta float64) {
	RegisterMetrics()
	runtimeActive.Add(delta)
}

func RecordProcessExit(environment, tool, reason string) {
	RegisterMetrics()
	processExits.WithLabelValues(environment, tool, reason).Inc()
}

func ProcessRunning(delta float64) {
	RegisterMetrics()
	processActive.Add(delta)
}
