package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// GraphRuns counts pipeline runs by flow and outcome (ok, error, canceled).
	GraphRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podflix_graph_runs_total",
		Help: "Pipeline runs by flow and outcome",
	}, []string{"flow", "status"})

	GraphRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "podflix_graph_run_duration_seconds",
		Help:    "Pipeline run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"flow"})

	// RelayedTokens counts tokens forwarded to the UI per node.
	RelayedTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podflix_relayed_tokens_total",
		Help: "Token events forwarded to the UI",
	}, []string{"node"})

	Transcriptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podflix_transcriptions_total",
		Help: "Transcripts produced by source and outcome",
	}, []string{"source", "status"})

	StorageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podflix_storage_failures_total",
		Help: "Object storage operations that failed",
	}, []string{"op"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podflix_transcription_jobs_total",
		Help: "Transcription jobs handled by the worker",
	}, []string{"status"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podflix_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "podflix_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Middleware records request counts and latency keyed by the matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
