package scraper

import (
	"strings"
	"testing"

	"github.com/blackforestdev/njord-quant-sub000/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderExpositionCounterWithLabels(t *testing.T) {
	r := metrics.NewRegistry(nil, 0, 0)
	h, err := r.RegisterCounter("njord_orders_total", "orders submitted", []string{"strategy_id", "symbol"})
	require.NoError(t, err)
	require.NoError(t, h.Inc(5, map[string]string{"strategy_id": "twap_v1", "symbol": "BTC/USDT"}))
	require.NoError(t, h.Inc(3, map[string]string{"strategy_id": "vwap_v1", "symbol": "ETH/USDT"}))

	out := renderExposition(r.CollectAll())
	assert.Contains(t, out, `njord_orders_total{strategy_id="twap_v1",symbol="BTC/USDT"} 5`)
	assert.Contains(t, out, `njord_orders_total{strategy_id="vwap_v1",symbol="ETH/USDT"} 3`)
	assert.Contains(t, out, "# HELP njord_orders_total orders submitted")
	assert.Contains(t, out, "# TYPE njord_orders_total counter")
}

func TestRenderExpositionEmptyFamilyPlaceholder(t *testing.T) {
	r := metrics.NewRegistry(nil, 0, 0)
	_, err := r.RegisterGauge("njord_idle_gauge", "", nil)
	require.NoError(t, err)

	out := renderExposition(r.CollectAll())
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Contains(t, lines, "njord_idle_gauge 0")
}

func TestRenderExpositionHistogramBuckets(t *testing.T) {
	r := metrics.NewRegistry(nil, 0, 0)
	h, err := r.RegisterHistogram("njord_latency_ms", "", nil, []float64{10, 50})
	require.NoError(t, err)
	require.NoError(t, h.Observe(5, nil))

	out := renderExposition(r.CollectAll())
	assert.Contains(t, out, `njord_latency_ms_bucket{le="10"} 1`)
	assert.Contains(t, out, `njord_latency_ms_bucket{le="50"} 1`)
	assert.Contains(t, out, `njord_latency_ms_bucket{le="+Inf"} 1`)
	assert.Contains(t, out, "njord_latency_ms_sum 5")
	assert.Contains(t, out, "njord_latency_ms_count 1")
}

func TestBuildSnapshotDerivesFromWellKnownNames(t *testing.T) {
	r := metrics.NewRegistry(nil, 0, 0)
	pnl, err := r.RegisterGauge("njord_strategy_pnl_usd", "", []string{"strategy_id"})
	require.NoError(t, err)
	require.NoError(t, pnl.Set(100, map[string]string{"strategy_id": "twap_v1"}))
	require.NoError(t, pnl.Set(-20, map[string]string{"strategy_id": "vwap_v1"}))

	orders, err := r.RegisterCounter("njord_orders_placed_total", "", nil)
	require.NoError(t, err)
	require.NoError(t, orders.Inc(7, nil))

	dash := buildSnapshot(r.CollectAll(), 123456)
	assert.Equal(t, int64(123456), dash.TimestampMs)
	assert.Equal(t, 80.0, dash.Portfolio.DailyPnL)
	assert.Equal(t, int64(7), dash.Activity.TotalOrders)
	require.Len(t, dash.Strategies, 2)
}
