package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration tracks control surface latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ratiobot_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "path", "status"},
	)

	OperationsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratiobot_operations_started_total",
			Help: "Ratio operations accepted by the engine",
		},
	)

	OperationsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratiobot_operations_finished_total",
			Help: "Ratio operations by terminal status",
		},
		[]string{"status"},
	)

	OperationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratiobot_operations_active",
			Help: "Ratio operations currently running",
		},
	)

	LotsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratiobot_lots_executed_total",
			Help: "Executed sell/buy lots by instrument sold",
		},
		[]string{"sell", "buy"},
	)

	OrdersSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratiobot_orders_submitted_total",
			Help: "Orders sent to the gateway by side and acknowledgement result",
		},
		[]string{"side", "result"},
	)

	FillsAssumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratiobot_fills_assumed_total",
			Help: "Fills inferred after the confirmation timeout instead of reported",
		},
		[]string{"side"},
	)

	WeightedAverageRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ratiobot_weighted_average_ratio",
			Help: "Running weighted average ratio per operation",
		},
		[]string{"operation_id"},
	)
)

// PrometheusMiddleware records request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()

		HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(c.Writer.Status()),
		).Observe(duration)
	}
}
