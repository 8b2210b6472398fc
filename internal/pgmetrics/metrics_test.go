package pgmetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNew_RegistersAllMetricsWithoutPanicking(t *testing.T) {
	r := New()
	assert.NotNil(t, r.Gatherer())
}

func TestOnElected_SetsLeaderGaugeAndIncrementsCounter(t *testing.T) {
	r := New()
	r.OnElected()
	assert.Equal(t, float64(1), testutil.ToFloat64(r.ElectionIsLeader))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.ElectionsTotal))
}

func TestOnLost_ClearsLeaderGaugeAndTagsReason(t *testing.T) {
	r := New()
	r.OnElected()
	r.OnLost("voluntary yield")
	assert.Equal(t, float64(0), testutil.ToFloat64(r.ElectionIsLeader))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.ElectionLostTotal.WithLabelValues("voluntary yield")))
}

func TestObserveOperation_CountsByOperationAndOutcome(t *testing.T) {
	r := New()
	r.ObserveOperation("get", "ok", 5*time.Millisecond)
	r.ObserveOperation("get", "miss", time.Millisecond)
	r.IncMiss()

	assert.Equal(t, float64(1), testutil.ToFloat64(r.CacheOperationsTotal.WithLabelValues("get", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.CacheOperationsTotal.WithLabelValues("get", "miss")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.CacheMissesTotal))
}

func TestRecordCleanupRun_AccumulatesDeletedRows(t *testing.T) {
	r := New()
	r.RecordCleanupRun(7)
	r.RecordCleanupRun(3)
	r.RecordCleanupError()

	assert.Equal(t, float64(2), testutil.ToFloat64(r.CleanupRunsTotal))
	assert.Equal(t, float64(10), testutil.ToFloat64(r.CleanupDeletedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.CleanupErrorsTotal))
}
