package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vitaliisemenov/glacialcache/internal/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Cache.SchemaName = "public"
	cfg.Cache.TableName = "glacial_cache"
	cfg.Cache.MinInterval = time.Millisecond
	cfg.Cache.MaxInterval = 24 * time.Hour
	cfg.Cache.DefaultSliding = time.Hour
	cfg.Cache.MaxBatchSize = 250
	cfg.Resilience.Enable = true
	cfg.Resilience.Retry.MaxAttempts = 5
	cfg.Resilience.Retry.BaseDelay = 10 * time.Millisecond
	cfg.Resilience.CircuitBreaker.Enable = true
	cfg.Resilience.CircuitBreaker.FailureThreshold = 3
	cfg.Resilience.CircuitBreaker.DurationOfBreak = time.Second
	return cfg
}

func TestCacheConfigFrom_MapsCacheFields(t *testing.T) {
	cc := cacheConfigFrom(testConfig())
	assert.Equal(t, time.Millisecond, cc.MinInterval)
	assert.Equal(t, 24*time.Hour, cc.MaxInterval)
	assert.Equal(t, time.Hour, cc.DefaultSliding)
	assert.Equal(t, 250, cc.MaxBatchSize)
}

func TestResilienceConfigFrom_MapsResilienceFields(t *testing.T) {
	rc := resilienceConfigFrom(testConfig())
	assert.True(t, rc.Enable)
	assert.Equal(t, 5, rc.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, rc.BaseDelay)
	assert.True(t, rc.BreakerEnable)
	assert.Equal(t, 3, rc.BreakerFailureThreshold)
}

func TestResilienceConfigFrom_OperationTimeoutPrecedence(t *testing.T) {
	cfg := testConfig()
	cfg.Resilience.Timeouts.OperationTimeout = 10 * time.Second
	cfg.Connection.Timeouts.Operation = 7 * time.Second
	assert.Equal(t, 10*time.Second, resilienceConfigFrom(cfg).OperationTimeout)

	cfg.Resilience.Timeouts.OperationTimeout = 0
	assert.Equal(t, 7*time.Second, resilienceConfigFrom(cfg).OperationTimeout)
}

func TestSeedFor_DeterministicPerKey(t *testing.T) {
	assert.Equal(t, seedFor("public.glacial_cache"), seedFor("public.glacial_cache"))
	assert.NotEqual(t, seedFor("public.a"), seedFor("public.b"))
}
