package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterMonotoneAndLabelMatch(t *testing.T) {
	r := NewRegistry(nil, 0, 0)
	h, err := r.RegisterCounter("njord_orders_total", "orders submitted", []string{"strategy_id", "symbol"})
	require.NoError(t, err)

	require.NoError(t, h.Inc(5, map[string]string{"strategy_id": "twap_v1", "symbol": "BTC/USDT"}))
	require.NoError(t, h.Inc(3, map[string]string{"strategy_id": "vwap_v1", "symbol": "ETH/USDT"}))

	err = h.Inc(-1, map[string]string{"strategy_id": "twap_v1", "symbol": "BTC/USDT"})
	assert.Error(t, err)

	err = h.Inc(1, map[string]string{"strategy_id": "twap_v1"})
	assert.Error(t, err)

	snap := r.CollectAll()
	require.Len(t, snap.Counters, 1)
	values := map[string]float64{}
	for _, s := range snap.Counters[0].Series {
		values[s.Labels["strategy_id"]+"/"+s.Labels["symbol"]] = s.Value
	}
	assert.Equal(t, 5.0, values["twap_v1/BTC/USDT"])
	assert.Equal(t, 3.0, values["vwap_v1/ETH/USDT"])
}

func TestRegisterConflictingKindIsFatal(t *testing.T) {
	r := NewRegistry(nil, 0, 0)
	_, err := r.RegisterCounter("njord_x", "", nil)
	require.NoError(t, err)

	_, err = r.RegisterGauge("njord_x", "", nil)
	assert.Error(t, err)
}

func TestHistogramRejectsUnsortedBounds(t *testing.T) {
	r := NewRegistry(nil, 0, 0)
	_, err := r.RegisterHistogram("njord_latency_ms", "", nil, []float64{10, 5, 20})
	assert.Error(t, err)

	_, err = r.RegisterHistogram("njord_latency_ms2", "", nil, nil)
	assert.Error(t, err)
}

func TestHistogramBucketCumulative(t *testing.T) {
	r := NewRegistry(nil, 0, 0)
	h, err := r.RegisterHistogram("njord_latency_ms", "", nil, []float64{10, 50, 100})
	require.NoError(t, err)

	require.NoError(t, h.Observe(5, nil))
	require.NoError(t, h.Observe(25, nil))
	require.NoError(t, h.Observe(200, nil))

	snap := r.CollectAll()
	require.Len(t, snap.Histograms, 1)
	series := snap.Histograms[0].Series[0]
	assert.Equal(t, []uint64{1, 2, 2, 3}, series.BucketCounts)
	assert.Equal(t, float64(230), series.Sum)
	assert.Equal(t, uint64(3), series.Count)
}

func TestCardinalityEviction(t *testing.T) {
	r := NewRegistry(nil, 2, 3)
	h, err := r.RegisterGauge("njord_probe", "", []string{"id"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Set(float64(i), map[string]string{"id": string(rune('a' + i))}))
	}

	snap := r.CollectAll()
	require.Len(t, snap.Gauges, 1)
	assert.LessOrEqual(t, len(snap.Gauges[0].Series), 3)
}
