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
			Namespace: "swiftwire",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "swiftwire",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	sessionsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "swiftwire",
			Subsystem: "session",
			Name:      "accepted_total",
			Help:      "Connections accepted by the listener.",
		},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "swiftwire",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently open.",
		},
	)
	sessionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swiftwire",
			Subsystem: "session",
			Name:      "closed_total",
			Help:      "Sessions closed, by reason.",
		},
		[]string{"reason"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swiftwire",
			Subsystem: "session",
			Name:      "frames_received_total",
			Help:      "Frames read by sessions, by message type.",
		},
		[]string{"type"},
	)
	acksSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swiftwire",
			Subsystem: "session",
			Name:      "acks_sent_total",
			Help:      "HELLO_ACK frames written, by status.",
		},
		[]string{"status"},
	)
	queuedBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "swiftwire",
			Subsystem: "session",
			Name:      "write_queue_bytes",
			Help:      "Queued-but-unsent bytes observed on enqueue.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
		},
	)
	acceptErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "swiftwire",
			Subsystem: "listener",
			Name:      "accept_errors_total",
			Help:      "Failed accepts that were retried.",
		},
	)
	handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swiftwire",
			Subsystem: "client",
			Name:      "handshakes_total",
			Help:      "Client handshakes, by result.",
		},
		[]string{"result"},
	)
	handshakeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "swiftwire",
			Subsystem: "client",
			Name:      "handshake_duration_seconds",
			Help:      "Client handshake duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			sessionsAccepted,
			sessionsActive,
			sessionsClosed,
			framesReceived,
			acksSent,
			queuedBytes,
			acceptErrors,
			handshakes,
			handshakeDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSessionOpened() {
	RegisterMetrics()
	sessionsAccepted.Inc()
	sessionsActive.Inc()
}

func RecordSessionClosed(reason string) {
	RegisterMetrics()
	sessionsActive.Dec()
	sessionsClosed.WithLabelValues(reason).Inc()
}

func RecordFrame(msgType string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(msgType).Inc()
}

func RecordAck(status uint8) {
	RegisterMetrics()
	acksSent.WithLabelValues(strconv.Itoa(int(status))).Inc()
}

func RecordQueuedBytes(n int) {
	RegisterMetrics()
	queuedBytes.Observe(float64(n))
}

func RecordAcceptError() {
	RegisterMetrics()
	acceptErrors.Inc()
}

func RecordHandshake(result string, duration time.Duration) {
	RegisterMetrics()
	handshakes.WithLabelValues(result).Inc()
	handshakeDuration.WithLabelValues(result).Observe(duration.Seconds())
}
