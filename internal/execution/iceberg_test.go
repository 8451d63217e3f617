package execution

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIcebergPlanExecutionShowsVisibleSliceOnly(t *testing.T) {
	exec := NewIcebergExecutor()
	algo := ExecutionAlgorithm{
		ExecutionID: "exec-1", Symbol: "BTC-USD", Side: SideBuy,
		TotalQuantity: decimal.NewFromFloat(100), StartTsNs: 0,
		Params: map[string]interface{}{"visible_ratio": 0.1},
	}
	intents, err := exec.PlanExecution(algo)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.True(t, intents[0].Qty.Equal(decimal.NewFromFloat(10.0)))
	assert.Equal(t, 0, intents[0].Meta.SliceIdx)
}

func TestIcebergReplenishesAfterThresholdFilled(t *testing.T) {
	algo := ExecutionAlgorithm{
		ExecutionID: "exec-1", Symbol: "BTC-USD", Side: SideBuy,
		TotalQuantity: decimal.NewFromFloat(100),
		Params: map[string]interface{}{
			"visible_ratio":       0.1,
			"replenish_threshold": 0.8,
		},
	}

	// visible qty = 10; below 80% threshold, no replenishment yet.
	intent, done, err := ReplenishIceberg(algo, decimal.NewFromFloat(7), 1, 1000)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Nil(t, intent)

	// at/above threshold (8 of 10), replenish.
	intent, done, err = ReplenishIceberg(algo, decimal.NewFromFloat(8), 1, 1000)
	require.NoError(t, err)
	assert.False(t, done)
	require.NotNil(t, intent)
	assert.True(t, intent.Qty.Equal(decimal.NewFromFloat(10.0)))
	assert.Equal(t, 1, intent.Meta.SliceIdx)
}

func TestIcebergDoneWhenTotalFilled(t *testing.T) {
	algo := ExecutionAlgorithm{
		TotalQuantity: decimal.NewFromFloat(100),
		Params:        map[string]interface{}{"visible_ratio": 0.1},
	}
	_, done, err := ReplenishIceberg(algo, decimal.NewFromFloat(100), 10, 1000)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestIcebergRejectsInvalidVisibleRatio(t *testing.T) {
	exec := NewIcebergExecutor()
	algo := ExecutionAlgorithm{
		TotalQuantity: decimal.NewFromFloat(100),
		Params:        map[string]interface{}{"visible_ratio": 1.5},
	}
	_, err := exec.PlanExecution(algo)
	require.Error(t, err)
}
