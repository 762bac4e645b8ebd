package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of live websocket connections on this process",
	})
	WsInboundTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_inbound_total",
		Help: "Inbound client commands by type and result",
	}, []string{"type", "result"})
	FanoutPublishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_fanout_publish_total",
		Help: "Envelopes published on the fanout bridge by type and result",
	}, []string{"type", "result"})
	FanoutRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_fanout_publish_retries_total",
		Help: "Publish attempts retried after a transient broker error",
	})
	FanoutDuplicatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_fanout_duplicates_total",
		Help: "Envelopes dropped because their id was already delivered",
	})
	DroppedDeliveriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_dropped_deliveries_total",
		Help: "Envelopes not handed to a connection because its buffer was full",
	})
	PresenceTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_presence_transitions_total",
		Help: "Aggregated presence transitions emitted",
	}, []string{"status"})
	ReceiptTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_receipt_transitions_total",
		Help: "Delivery status transitions applied",
	}, []string{"status"})
	CallTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_call_transitions_total",
		Help: "Call status transitions committed, and races lost",
	}, []string{"to", "result"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, WsInboundTotal,
		FanoutPublishTotal, FanoutRetriesTotal, FanoutDuplicatesTotal, DroppedDeliveriesTotal,
		PresenceTransitionsTotal, ReceiptTransitionsTotal, CallTransitionsTotal,
		HttpRequestsTotal, HttpRequestDuration,
	)
}

// GinMiddleware records request counts and latency for the command boundary.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
