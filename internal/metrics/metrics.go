// Package metrics holds the prometheus collectors of the engine and of the
// reference authority.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
	ResultStale  = "stale"
)

// Engine counts outcomes of the taker-side engine. A nil *Engine is valid
// and records nothing.
type Engine struct {
	Submissions   *prometheus.CounterVec
	Finishes      *prometheus.CounterVec
	SnapshotSaves *prometheus.CounterVec
}

// NewEngine registers the engine collectors on reg. A nil reg creates
// unregistered collectors, which is what tests want.
func NewEngine(reg prometheus.Registerer) *Engine {
	f := promauto.With(reg)
	return &Engine{
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_answer_submissions_total",
			Help: "Answer submissions by outcome",
		}, []string{"result"}),
		Finishes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_finish_attempts_total",
			Help: "Finish attempts by outcome",
		}, []string{"result"}),
		SnapshotSaves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "exam_snapshot_saves_total",
			Help: "Snapshot writes by outcome",
		}, []string{"result"}),
	}
}

func (m *Engine) Submission(result string) {
	if m != nil {
		m.Submissions.WithLabelValues(result).Inc()
	}
}

func (m *Engine) Finish(result string) {
	if m != nil {
		m.Finishes.WithLabelValues(result).Inc()
	}
}

func (m *Engine) SnapshotSave(result string) {
	if m != nil {
		m.SnapshotSaves.WithLabelValues(result).Inc()
	}
}

// HTTP collects request metrics of the authority's gin router.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	f := promauto.With(reg)
	return &HTTP{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "examd_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "examd_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Middleware records every request under its route template.
func (m *HTTP) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
