package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Send outcomes recorded against messages_sent_total.
const (
	SendDelivered   = "delivered"
	SendCanceled    = "canceled"
	SendFailed      = "failed"
	SendInterrupted = "interrupted"
	SendRejected    = "rejected"
)

var (
	registerOnce sync.Once

	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wsframe",
			Subsystem: "endpoint",
			Name:      "messages_sent_total",
			Help:      "Outbound messages by final outcome.",
		},
		[]string{"result"},
	)
	messagesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wsframe",
			Subsystem: "endpoint",
			Name:      "messages_received_total",
			Help:      "Inbound messages decoded successfully.",
		},
	)
	decodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wsframe",
			Subsystem: "endpoint",
			Name:      "decode_errors_total",
			Help:      "Inbound frames that failed to decode.",
		},
	)
	queuedBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wsframe",
			Subsystem: "endpoint",
			Name:      "queued_bytes",
			Help:      "Encoded bytes waiting in send queues across all endpoints.",
		},
	)
	sendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wsframe",
			Subsystem: "endpoint",
			Name:      "send_duration_seconds",
			Help:      "Time from send to transport completion.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wsframe",
			Subsystem: "registry",
			Name:      "connections_active",
			Help:      "Endpoints currently held by the registry.",
		},
	)
	connectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wsframe",
			Subsystem: "registry",
			Name:      "connections_total",
			Help:      "Endpoints accepted by the registry.",
		},
	)
	admissionRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wsframe",
			Subsystem: "registry",
			Name:      "admission_rejected_total",
			Help:      "Handshakes refused by the admission hook.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wsframe",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wsframe",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			messagesSent,
			messagesReceived,
			decodeErrors,
			queuedBytes,
			sendDuration,
			connectionsActive,
			connectionsTotal,
			admissionRejected,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordSend(result string, duration time.Duration) {
	RegisterMetrics()
	messagesSent.WithLabelValues(result).Inc()
	if result == SendDelivered {
		sendDuration.Observe(duration.Seconds())
	}
}

func RecordReceive() {
	RegisterMetrics()
	messagesReceived.Inc()
}

func RecordDecodeError() {
	RegisterMetrics()
	decodeErrors.Inc()
}

// AddQueuedBytes moves the aggregate queue gauge by delta (may be negative).
func AddQueuedBytes(delta int64) {
	RegisterMetrics()
	queuedBytes.Add(float64(delta))
}

func RecordConnectionOpened() {
	RegisterMetrics()
	connectionsActive.Inc()
	connectionsTotal.Inc()
}

func RecordConnectionClosed() {
	RegisterMetrics()
	connectionsActive.Dec()
}

func RecordAdmissionRejected() {
	RegisterMetrics()
	admissionRejected.Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
