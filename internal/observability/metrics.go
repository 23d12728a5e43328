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
			Namespace: "trictl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trictl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trictl",
			Subsystem: "transfer",
			Name:      "operations_total",
			Help:      "Region transfer operations by role and outcome.",
		},
		[]string{"node", "role", "outcome"},
	)
	transferElements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trictl",
			Subsystem: "transfer",
			Name:      "elements_total",
			Help:      "Matrix elements moved across the group link.",
		},
		[]string{"node", "role"},
	)
	transferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trictl",
			Subsystem: "transfer",
			Name:      "duration_seconds",
			Help:      "Region transfer duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "role", "outcome"},
	)
	barriers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trictl",
			Subsystem: "group",
			Name:      "barriers_total",
			Help:      "Completed group barrier operations.",
		},
		[]string{"node"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, transfers, transferElements, transferDuration, barriers)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordTransfer(node, role string, elements int, duration time.Duration, success bool) {
	RegisterMetrics()
	outcome := "error"
	if success {
		outcome = "ok"
	}
	transfers.WithLabelValues(node, role, outcome).Inc()
	transferDuration.WithLabelValues(node, role, outcome).Observe(duration.Seconds())
	if success {
		transferElements.WithLabelValues(node, role).Add(float64(elements))
	}
}

func RecordBarrier(node string) {
	RegisterMetrics()
	barriers.WithLabelValues(node).Inc()
}
