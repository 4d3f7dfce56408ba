// Package metrics provides Prometheus metrics for the dfsselect server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CageChen/dfsselect/internal/selector"
)

// Metrics holds the collectors of one server. They are registered on the
// registry passed to New, so tests can use a private registry.
type Metrics struct {
	registry prometheus.Gatherer

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	selectionsTotal    *prometheus.CounterVec
	selectionDuration  prometheus.Histogram
	filesSelected      prometheus.Counter
	bytesSelected      prometheus.Counter
	eligibleFiles      prometheus.Gauge
	skippedSymlinkDirs prometheus.Counter
	missingDirs        prometheus.Counter

	checkpointCommits *prometheus.CounterVec
	configReloads     *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		// HTTP request metrics
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dfsselect_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dfsselect_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Selection metrics
		selectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dfsselect_selections_total",
				Help: "Total batch selections by outcome",
			},
			[]string{"status"},
		),
		selectionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dfsselect_selection_duration_seconds",
				Help:    "Time to walk the tree and select a batch",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
			},
		),
		filesSelected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dfsselect_files_selected_total",
				Help: "Total files handed out in batches",
			},
		),
		bytesSelected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dfsselect_bytes_selected_total",
				Help: "Total bytes handed out in batches",
			},
		),
		eligibleFiles: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dfsselect_eligible_files",
				Help: "Eligible files found by the most recent selection",
			},
		),
		skippedSymlinkDirs: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dfsselect_skipped_symlink_dirs_total",
				Help: "Symlinked directories that were not followed",
			},
		),
		missingDirs: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dfsselect_missing_dirs_total",
				Help: "Directories that vanished during a walk",
			},
		),

		// Checkpoint and config metrics
		checkpointCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dfsselect_checkpoint_commits_total",
				Help: "Checkpoint commits by result",
			},
			[]string{"result"},
		),
		configReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dfsselect_config_reloads_total",
				Help: "Configuration reloads by result",
			},
			[]string{"result"},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records every request handled by gin.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSelection records a successful selection.
func (m *Metrics) RecordSelection(stats selector.Stats) {
	status := "batch"
	if stats.Selected == 0 {
		status = "empty"
	}
	m.selectionsTotal.WithLabelValues(status).Inc()
	m.selectionDuration.Observe(stats.Duration.Seconds())
	m.filesSelected.Add(float64(stats.Selected))
	m.bytesSelected.Add(float64(stats.SelectedBytes))
	m.eligibleFiles.Set(float64(stats.Eligible))
	m.skippedSymlinkDirs.Add(float64(stats.SkippedSymlinkDirs))
	m.missingDirs.Add(float64(stats.MissingDirs))
}

// RecordSelectionError records a failed selection. invalid distinguishes a
// bad checkpoint from a source failure.
func (m *Metrics) RecordSelectionError(invalid bool) {
	if invalid {
		m.selectionsTotal.WithLabelValues("invalid_checkpoint").Inc()
		return
	}
	m.selectionsTotal.WithLabelValues("error").Inc()
}

// RecordCommit records a checkpoint commit attempt.
func (m *Metrics) RecordCommit(result string) {
	m.checkpointCommits.WithLabelValues(result).Inc()
}

// RecordReload records a configuration reload attempt.
func (m *Metrics) RecordReload(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.configReloads.WithLabelValues(result).Inc()
}
