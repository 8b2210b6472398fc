package glacialcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToInterval_RoundTripsThroughFromInterval(t *testing.T) {
	d := 90*time.Minute + 30*time.Second
	iv := toInterval(d)
	assert.Equal(t, d, fromInterval(iv))
}

func TestToIntervalPtr_NilProducesInvalidInterval(t *testing.T) {
	iv := toIntervalPtr(nil)
	assert.False(t, iv.Valid)
	assert.Equal(t, time.Duration(0), fromInterval(iv))
}

func TestFromInterval_AccountsForDaysAndMonths(t *testing.T) {
	iv := toInterval(0)
	iv.Days = 2
	iv.Months = 1
	got := fromInterval(iv)
	assert.Equal(t, 2*24*time.Hour+30*24*time.Hour, got)
}
