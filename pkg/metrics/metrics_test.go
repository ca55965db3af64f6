package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/tiercache/pkg/models"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg, "tiercache")
	require.NoError(t, err)

	c.Request(ResultL1Hit, time.Millisecond)
	c.Request(ResultMiss, time.Millisecond)
	c.Request(ResultMiss, time.Millisecond)
	c.Set(models.LevelL1, true)
	c.Set(models.LevelL2, false)
	c.Evicted(models.LevelL1, models.ReasonCapacity, 3)
	c.Promotion(true)
	c.ObserveTier(models.TierStats{Level: models.LevelL2, CurrentSizeBytes: 512, Entries: 4})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues(ResultL1Hit)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.requests.WithLabelValues(ResultMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sets.WithLabelValues("l1", "stored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sets.WithLabelValues("l2", "rejected")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.evictions.WithLabelValues("l1", "capacity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.promotions.WithLabelValues("promoted")))
	assert.Equal(t, 512.0, testutil.ToFloat64(c.sizeBytes.WithLabelValues("l2")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.entries.WithLabelValues("l2")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.getDuration))
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg, "tiercache")
	require.NoError(t, err)

	_, err = New(reg, "tiercache")
	assert.Error(t, err)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.Request(ResultL2Hit, time.Second)
		c.Set(models.LevelL1, true)
		c.Evicted(models.LevelL2, models.ReasonExpired, 1)
		c.Promotion(false)
		c.ObserveTier(models.TierStats{})
	})
}
