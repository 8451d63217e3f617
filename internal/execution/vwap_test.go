package execution

import (
	"testing"

	"github.com/blackforestdev/njord-quant-sub000/internal/marketdata"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVWAPUniformFallbackWhenNoBars(t *testing.T) {
	exec := NewVWAPExecutor(5, nil)
	algo := ExecutionAlgorithm{
		Symbol:          "BTC-USD",
		Side:            SideBuy,
		TotalQuantity:   decimal.NewFromFloat(10.0),
		DurationSeconds: 500,
		StartTsNs:       0,
	}

	intents, err := exec.PlanExecution(algo)
	require.NoError(t, err)
	require.Len(t, intents, 5)

	sum := decimal.Zero
	for _, intent := range intents {
		assert.True(t, intent.Qty.Equal(decimal.NewFromFloat(2.0)))
		sum = sum.Add(intent.Qty)
	}
	assert.True(t, sum.Equal(decimal.NewFromFloat(10.0)))
}

func TestVWAPWeightsByVolumeProfile(t *testing.T) {
	bars := []marketdata.Bar{
		{TimestampNs: 0, Volume: 10},
		{TimestampNs: 1, Volume: 90},
	}
	exec := NewVWAPExecutor(2, bars)
	algo := ExecutionAlgorithm{
		Symbol: "BTC-USD", TotalQuantity: decimal.NewFromFloat(100), DurationSeconds: 120,
	}
	intents, err := exec.PlanExecution(algo)
	require.NoError(t, err)
	require.Len(t, intents, 2)
	assert.True(t, intents[0].Qty.Equal(decimal.NewFromFloat(10.0)))
	assert.True(t, intents[1].Qty.Equal(decimal.NewFromFloat(90.0)))
}

func TestReplanNoDivergencePreservesUniformWeights(t *testing.T) {
	exec := NewVWAPExecutor(5, nil)
	algo := ExecutionAlgorithm{
		ExecutionID: "exec-1", Symbol: "BTC-USD", Side: SideBuy,
		TotalQuantity: decimal.NewFromFloat(10.0), DurationSeconds: 500,
	}
	original, err := exec.PlanExecution(algo)
	require.NoError(t, err)

	fills := []FillEvent{
		{SliceIdx: 0, Qty: decimal.NewFromFloat(2.0)},
		{SliceIdx: 1, Qty: decimal.NewFromFloat(2.0)},
	}

	adjusted, err := ReplanRemainingSlices(original, fills, algo)
	require.NoError(t, err)
	require.Len(t, adjusted, 3)
	for _, intent := range adjusted {
		assert.True(t, intent.Qty.Equal(decimal.NewFromFloat(2.0)))
		assert.True(t, intent.Meta.Replanned)
	}
}

func TestReplanWithDivergenceRedistributesRemaining(t *testing.T) {
	exec := NewVWAPExecutor(5, nil)
	algo := ExecutionAlgorithm{
		ExecutionID: "exec-1", Symbol: "ETH-USD", Side: SideSell,
		TotalQuantity: decimal.NewFromFloat(10.0), DurationSeconds: 500,
	}
	original, err := exec.PlanExecution(algo)
	require.NoError(t, err)

	fills := []FillEvent{
		{SliceIdx: 0, Qty: decimal.NewFromFloat(0.8)},
		{SliceIdx: 1, Qty: decimal.NewFromFloat(1.2)},
	}

	adjusted, err := ReplanRemainingSlices(original, fills, algo)
	require.NoError(t, err)
	require.Len(t, adjusted, 5)
	assert.Equal(t, 0, adjusted[0].Meta.SliceIdx)

	sum := decimal.Zero
	for _, intent := range adjusted {
		assert.True(t, intent.Meta.Replanned)
		assert.Equal(t, "exec-1", intent.Meta.ExecutionID)
		sum = sum.Add(intent.Qty)
	}
	assert.InDelta(t, 8.0, sum.InexactFloat64(), 1e-9)
}

func TestBenchmarkVWAPStampedOnIntents(t *testing.T) {
	bars := []marketdata.Bar{
		{TimestampNs: 0, High: 110, Low: 90, Close: 100, Volume: 5},
		{TimestampNs: 1, High: 120, Low: 100, Close: 110, Volume: 5},
	}
	exec := NewVWAPExecutor(2, bars)
	algo := ExecutionAlgorithm{Symbol: "BTC-USD", TotalQuantity: decimal.NewFromFloat(1), DurationSeconds: 60}
	intents, err := exec.PlanExecution(algo)
	require.NoError(t, err)
	require.NotNil(t, intents[0].Meta.BenchmarkVWAP)
}
