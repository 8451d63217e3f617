package execution

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTWAPPlanExecutionFiveSlices(t *testing.T) {
	exec := NewTWAPExecutor(5)
	algo := ExecutionAlgorithm{
		ExecutionID:     "exec-1",
		Symbol:          "BTC-USD",
		Side:            SideBuy,
		TotalQuantity:   decimal.NewFromFloat(1.0),
		DurationSeconds: 300,
		StartTsNs:       1_000_000_000,
	}

	intents, err := exec.PlanExecution(algo)
	require.NoError(t, err)
	require.Len(t, intents, 10)

	active := intents[:5]
	cancels := intents[5:]

	for i, intent := range active {
		assert.True(t, intent.Qty.Equal(decimal.NewFromFloat(0.2)))
		assert.Equal(t, "exec-1", intent.Meta.ExecutionID)
		assert.Equal(t, AlgoTWAP, intent.Meta.AlgoType)
		assert.Equal(t, i, intent.Meta.SliceIdx)
		if i > 0 {
			assert.Equal(t, int64(60_000_000_000), intent.TsLocalNs-active[i-1].TsLocalNs)
		}
	}

	for i, c := range cancels {
		assert.True(t, c.IsCancel())
		assert.Equal(t, active[i].Meta.SliceID, c.Meta.TargetSliceID)
		assert.Equal(t, int64(1_000_000_000+300_000_000_000), c.TsLocalNs)
	}
}

func TestTWAPRequiresValidLimitPrice(t *testing.T) {
	exec := NewTWAPExecutor(2)
	algo := ExecutionAlgorithm{
		Symbol:          "BTC-USD",
		TotalQuantity:   decimal.NewFromFloat(1.0),
		DurationSeconds: 60,
		Params:          map[string]interface{}{"limit_price": -1.0},
	}
	_, err := exec.PlanExecution(algo)
	require.Error(t, err)
}

func TestTWAPMarketOrderWithoutLimitPrice(t *testing.T) {
	exec := NewTWAPExecutor(2)
	algo := ExecutionAlgorithm{
		Symbol:          "BTC-USD",
		TotalQuantity:   decimal.NewFromFloat(1.0),
		DurationSeconds: 60,
	}
	intents, err := exec.PlanExecution(algo)
	require.NoError(t, err)
	assert.Equal(t, OrderTypeMarket, intents[0].Type)
}
