package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrometheusMetrics(t *testing.T) {
	pm, err := NewPrometheusMetrics(nil, logrus.New())
	require.NoError(t, err)
	require.NotNil(t, pm.Registry())

	pm.RecordAggregation(10, 42, time.Second)
	pm.RecordSynthesis("seeded", 8, time.Second)
	pm.RecordCacheEvent("hit")
	pm.RecordCacheEvent("hit")
	pm.RecordSuppressedValues("seeded", 3)
	pm.RecordEvaluation(map[int]int{1: 0, 2: 4}, map[int]int{2: 1}, 0.8)

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.aggregationsTotal))
	assert.Equal(t, 10.0, testutil.ToFloat64(pm.aggregatedRecordsTotal))
	assert.Equal(t, 42.0, testutil.ToFloat64(pm.combinationsCounted))
	assert.Equal(t, 8.0, testutil.ToFloat64(pm.synthesizedRowsTotal.WithLabelValues("seeded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.cacheEventsTotal.WithLabelValues("hit")))
	assert.Equal(t, 4.0, testutil.ToFloat64(pm.leakageCombinations.WithLabelValues("2")))
	assert.Equal(t, 0.8, testutil.ToFloat64(pm.recordExpansion))
}

func TestNilPrometheusMetricsIsNoop(t *testing.T) {
	var pm *PrometheusMetrics

	assert.NotPanics(t, func() {
		pm.RecordAggregation(1, 1, time.Millisecond)
		pm.RecordSynthesis("unseeded", 1, time.Millisecond)
		pm.RecordCacheEvent("miss")
		pm.RecordSuppressedValues("unseeded", 1)
		pm.RecordEvaluation(nil, nil, 1)
		require.NoError(t, pm.Start(context.Background()))
		require.NoError(t, pm.Stop(context.Background()))
	})
}
