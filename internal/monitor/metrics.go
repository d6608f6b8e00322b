package monitor

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aquant/internal/backtest"
)

// Metrics holds the platform's Prometheus collectors.
type Metrics struct {
	// 回测指标
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	rejectionsTotal  *prometheus.CounterVec
	tradesTotal      *prometheus.CounterVec

	// 参数扫描指标
	sweepJobsTotal  *prometheus.CounterVec
	sweepQueueDepth prometheus.Gauge
	sweepRunning    prometheus.Gauge

	// 数据导入指标
	ingestedBars  prometheus.Counter
	ingestErrors  prometheus.Counter

	// API指标
	apiRequestsTotal *prometheus.CounterVec
	apiResponseTime  *prometheus.HistogramVec

	// 数据库连接池指标
	dbOpenConnections prometheus.Gauge
	dbInUse           prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// NewMetrics registers every collector on the default registry. The default
// registry rejects duplicate registration, so the collectors are created once
// per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics()
	})
	return metrics
}

func newMetrics() *Metrics {
	return &Metrics{
		runsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aquant_backtest_runs_total",
			Help: "Total backtest runs by strategy and final status",
		}, []string{"strategy", "status"}),

		runDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aquant_backtest_run_duration_seconds",
			Help:    "Wall-clock duration of backtest runs",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"strategy"}),

		rejectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aquant_trade_rejections_total",
			Help: "Trade candidates rejected by the rule engine, by reason",
		}, []string{"reason"}),

		tradesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aquant_trades_total",
			Help: "Executed trades by side",
		}, []string{"side"}),

		sweepJobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aquant_sweep_jobs_total",
			Help: "Parameter sweep jobs by terminal status",
		}, []string{"status"}),

		sweepQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aquant_sweep_queue_depth",
			Help: "Sweep combinations waiting for a worker",
		}),

		sweepRunning: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aquant_sweep_running_jobs",
			Help: "Sweep jobs currently running",
		}),

		ingestedBars: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aquant_ingested_bars_total",
			Help: "Daily bars written by the EOD importer",
		}),

		ingestErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aquant_ingest_errors_total",
			Help: "EOD import failures",
		}),

		apiRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aquant_api_requests_total",
			Help: "API requests by method, path and status code",
		}, []string{"method", "path", "status"}),

		apiResponseTime: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aquant_api_response_time_seconds",
			Help:    "API response latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		dbOpenConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aquant_db_open_connections",
			Help: "Open database connections",
		}),

		dbInUse: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aquant_db_in_use_connections",
			Help: "Database connections currently in use",
		}),
	}
}

// ObserveRun records a completed or failed backtest run and, for completed
// runs, its trade and rejection counts.
func (m *Metrics) ObserveRun(strategy string, result *backtest.Result, duration time.Duration, err error) {
	status := "completed"
	if err != nil {
		status = "failed"
	}
	m.runsTotal.WithLabelValues(strategy, status).Inc()
	m.runDuration.WithLabelValues(strategy).Observe(duration.Seconds())

	if result == nil || result.Trades == nil {
		return
	}
	for _, t := range result.Trades.Trades {
		if t.Shares > 0 {
			m.tradesTotal.WithLabelValues(string(t.Side)).Inc()
		}
		if t.Reason != "" {
			m.rejectionsTotal.WithLabelValues(string(t.Reason)).Inc()
		}
	}
}

// ObserveSweepFinished records a sweep job reaching a terminal status.
func (m *Metrics) ObserveSweepFinished(status string) {
	m.sweepJobsTotal.WithLabelValues(status).Inc()
}

// SetSweepQueue updates queue depth and running-job gauges.
func (m *Metrics) SetSweepQueue(queued, running int) {
	m.sweepQueueDepth.Set(float64(queued))
	m.sweepRunning.Set(float64(running))
}

// ObserveIngest records the outcome of one import pass.
func (m *Metrics) ObserveIngest(bars int, err error) {
	if err != nil {
		m.ingestErrors.Inc()
		return
	}
	m.ingestedBars.Add(float64(bars))
}

// SetDBPool updates the connection pool gauges.
func (m *Metrics) SetDBPool(open, inUse int) {
	m.dbOpenConnections.Set(float64(open))
	m.dbInUse.Set(float64(inUse))
}

// MetricsMiddleware records request counts and latencies per route.
func (m *Metrics) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.apiRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.apiResponseTime.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}

// PrometheusHandler returns the scrape endpoint handler.
func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
