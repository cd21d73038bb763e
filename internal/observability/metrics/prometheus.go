package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// PrometheusMetrics collects pipeline metrics. A nil *PrometheusMetrics is
// valid and records nothing, so components can take it as an optional dependency.
type PrometheusMetrics struct {
	logger   *logrus.Logger
	registry *prometheus.Registry
	server   *http.Server
	config   *PrometheusConfig

	// Aggregation metrics
	aggregationsTotal      prometheus.Counter
	aggregationDuration    prometheus.Histogram
	aggregatedRecordsTotal prometheus.Counter
	combinationsCounted    prometheus.Gauge

	// Synthesis metrics
	synthesisTotal        *prometheus.CounterVec
	synthesisDuration     *prometheus.HistogramVec
	synthesizedRowsTotal  *prometheus.CounterVec
	cacheEventsTotal      *prometheus.CounterVec
	suppressedValuesTotal *prometheus.CounterVec

	// Evaluation metrics
	leakageCombinations    *prometheus.GaugeVec
	fabricatedCombinations *prometheus.GaugeVec
	recordExpansion        prometheus.Gauge
}

// PrometheusConfig configures Prometheus metrics
type PrometheusConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Address   string `json:"address" mapstructure:"address"`
	Path      string `json:"path" mapstructure:"path"`
	Namespace string `json:"namespace" mapstructure:"namespace"`
	Subsystem string `json:"subsystem" mapstructure:"subsystem"`
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with its own registry
func NewPrometheusMetrics(config *PrometheusConfig, logger *logrus.Logger) (*PrometheusMetrics, error) {
	if config == nil {
		config = getDefaultPrometheusConfig()
	}

	if logger == nil {
		logger = logrus.New()
	}

	pm := &PrometheusMetrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		config:   config,
	}

	pm.initializeMetrics()

	if err := pm.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return pm, nil
}

// Registry exposes the underlying registry
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// Start serves the metrics endpoint until Stop is called
func (pm *PrometheusMetrics) Start(ctx context.Context) error {
	if pm == nil || !pm.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(pm.config.Path, promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	pm.server = &http.Server{
		Addr:              pm.config.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	pm.logger.WithFields(logrus.Fields{
		"address": pm.config.Address,
		"path":    pm.config.Path,
	}).Info("Starting Prometheus metrics server")

	go func() {
		if err := pm.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			pm.logger.WithError(err).Error("Prometheus metrics server error")
		}
	}()

	return nil
}

// Stop stops the Prometheus metrics server
func (pm *PrometheusMetrics) Stop(ctx context.Context) error {
	if pm == nil || pm.server == nil {
		return nil
	}

	pm.logger.Info("Stopping Prometheus metrics server")
	return pm.server.Shutdown(ctx)
}

// Aggregation Metrics
func (pm *PrometheusMetrics) RecordAggregation(records, combinations int, duration time.Duration) {
	if pm == nil {
		return
	}
	pm.aggregationsTotal.Inc()
	pm.aggregationDuration.Observe(duration.Seconds())
	pm.aggregatedRecordsTotal.Add(float64(records))
	pm.combinationsCounted.Set(float64(combinations))
}

// Synthesis Metrics
func (pm *PrometheusMetrics) RecordSynthesis(mode string, rows int, duration time.Duration) {
	if pm == nil {
		return
	}
	pm.synthesisTotal.WithLabelValues(mode).Inc()
	pm.synthesisDuration.WithLabelValues(mode).Observe(duration.Seconds())
	pm.synthesizedRowsTotal.WithLabelValues(mode).Add(float64(rows))
}

// RecordCacheEvent counts a synthesis cache "hit", "miss" or "eviction"
func (pm *PrometheusMetrics) RecordCacheEvent(event string) {
	if pm == nil {
		return
	}
	pm.cacheEventsTotal.WithLabelValues(event).Inc()
}

// RecordSuppressedValues counts attribute values removed by the suppression pass
func (pm *PrometheusMetrics) RecordSuppressedValues(mode string, count int) {
	if pm == nil {
		return
	}
	pm.suppressedValuesTotal.WithLabelValues(mode).Add(float64(count))
}

// Evaluation Metrics
func (pm *PrometheusMetrics) RecordEvaluation(leakageByLen, fabricatedByLen map[int]int, expansion float64) {
	if pm == nil {
		return
	}
	for length, count := range leakageByLen {
		pm.leakageCombinations.WithLabelValues(strconv.Itoa(length)).Set(float64(count))
	}
	for length, count := range fabricatedByLen {
		pm.fabricatedCombinations.WithLabelValues(strconv.Itoa(length)).Set(float64(count))
	}
	pm.recordExpansion.Set(expansion)
}

// initializeMetrics initializes all Prometheus metrics
func (pm *PrometheusMetrics) initializeMetrics() {
	namespace := pm.config.Namespace
	subsystem := pm.config.Subsystem

	// Aggregation metrics
	pm.aggregationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "aggregations_total",
			Help:      "Total number of aggregation runs",
		},
	)

	pm.aggregationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "aggregation_duration_seconds",
			Help:      "Aggregation duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	pm.aggregatedRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "aggregated_records_total",
			Help:      "Total number of records processed by aggregation",
		},
	)

	pm.combinationsCounted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "aggregation_combinations",
			Help:      "Distinct combinations found by the last aggregation",
		},
	)

	// Synthesis metrics
	pm.synthesisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "synthesis_total",
			Help:      "Total number of synthesis runs",
		},
		[]string{"mode"},
	)

	pm.synthesisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "synthesis_duration_seconds",
			Help:      "Synthesis duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"mode"},
	)

	pm.synthesizedRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "synthesized_rows_total",
			Help:      "Total number of synthetic rows emitted",
		},
		[]string{"mode"},
	)

	pm.cacheEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "synthesis_cache_events_total",
			Help:      "Synthesis cache hits, misses and evictions",
		},
		[]string{"event"},
	)

	pm.suppressedValuesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "suppressed_values_total",
			Help:      "Attribute values removed from synthetic rows by suppression",
		},
		[]string{"mode"},
	)

	// Evaluation metrics
	pm.leakageCombinations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "evaluation_leakage_combinations",
			Help:      "Leaked combinations by length in the last evaluation",
		},
		[]string{"length"},
	)

	pm.fabricatedCombinations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "evaluation_fabricated_combinations",
			Help:      "Fabricated combinations by length in the last evaluation",
		},
		[]string{"length"},
	)

	pm.recordExpansion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "evaluation_record_expansion",
			Help:      "Synthetic to sensitive record count ratio in the last evaluation",
		},
	)
}

// registerMetrics registers all metrics with the registry
func (pm *PrometheusMetrics) registerMetrics() error {
	collectors := []prometheus.Collector{
		pm.aggregationsTotal,
		pm.aggregationDuration,
		pm.aggregatedRecordsTotal,
		pm.combinationsCounted,
		pm.synthesisTotal,
		pm.synthesisDuration,
		pm.synthesizedRowsTotal,
		pm.cacheEventsTotal,
		pm.suppressedValuesTotal,
		pm.leakageCombinations,
		pm.fabricatedCombinations,
		pm.recordExpansion,
	}

	for _, collector := range collectors {
		if err := pm.registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

func getDefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Enabled:   false,
		Address:   ":9090",
		Path:      "/metrics",
		Namespace: "sds",
	}
}
