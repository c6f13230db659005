package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat_console"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Console API requests by route and status.",
		},
		[]string{"method", "route", "status"},
	)

	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Calls to upstream APIs by outcome.",
		},
		[]string{"upstream", "method", "status"},
	)

	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_seconds",
			Help:      "Latency of upstream API calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"upstream", "method"},
	)

	RealtimeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_frames_total",
			Help:      "Frames received from the realtime transport by type.",
		},
		[]string{"type"},
	)

	RealtimeReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_reconnects_total",
			Help:      "Realtime transport reconnect attempts.",
		},
	)

	StoreDiscards = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_discarded_total",
			Help:      "Results and events the chat store did not apply.",
		},
		[]string{"reason"}, // stale, duplicate, closed
	)

	ConsoleClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "console_clients",
			Help:      "Browsers connected to the console relay.",
		},
	)

	ActivityEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_events_total",
			Help:      "Chat activity fan-out events.",
		},
		[]string{"outcome"}, // published, applied, dropped, failed
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequests,
		UpstreamRequests,
		UpstreamLatency,
		RealtimeEvents,
		RealtimeReconnects,
		StoreDiscards,
		ConsoleClients,
		ActivityEvents,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware counts requests by matched route so ids stay out of labels.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// Transport records count and latency of outgoing calls to one upstream.
type Transport struct {
	Base http.RoundTripper
	Name string
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, name string) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Name: name}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.Base.RoundTrip(req)
	UpstreamLatency.WithLabelValues(t.Name, req.Method).Observe(time.Since(start).Seconds())

	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	UpstreamRequests.WithLabelValues(t.Name, req.Method, status).Inc()
	return resp, err
}
