package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_sessions",
			Help: "Number of authenticated websocket sessions.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"event"},
	)
	wsActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_actions_total",
			Help: "Total number of inbound websocket actions by outcome.",
		},
		[]string{"action", "result"},
	)
	wsActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_ws_action_duration_seconds",
			Help:    "Websocket action handling latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)
	fanoutDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_fanout_deliveries_total",
			Help: "Total number of frames handed to group members.",
		},
		[]string{"result"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	amqpRegistryUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_amqp_registry_up",
			Help: "1 while the AMQP group registry is consuming deliveries.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveSessions,
		wsEventsTotal,
		wsActionsTotal,
		wsActionDuration,
		fanoutDeliveriesTotal,
		amqpPublishErrorsTotal,
		amqpRegistryUp,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() {
	wsActiveSessions.Inc()
}

func DecWSActive() {
	wsActiveSessions.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

// ObserveAction records one dispatched action.
func ObserveAction(action, result string, started time.Time) {
	wsActionsTotal.WithLabelValues(action, result).Inc()
	wsActionDuration.WithLabelValues(action).Observe(time.Since(started).Seconds())
}

func IncFanout(result string) {
	fanoutDeliveriesTotal.WithLabelValues(result).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func SetAMQPRegistryUp(up bool) {
	if up {
		amqpRegistryUp.Set(1)
		return
	}
	amqpRegistryUp.Set(0)
}
