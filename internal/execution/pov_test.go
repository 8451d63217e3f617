package execution

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPOVInitialIntentScaledByMeasuredVolume(t *testing.T) {
	exec := NewPOVExecutor(1000)
	algo := ExecutionAlgorithm{
		ExecutionID: "exec-1", Symbol: "BTC-USD", Side: SideBuy,
		TotalQuantity: decimal.NewFromFloat(500),
		Params:        map[string]interface{}{"target_pov": 0.1},
	}
	intents, err := exec.PlanExecution(algo)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.True(t, intents[0].Qty.Equal(decimal.NewFromFloat(100.0)))
}

func TestPOVNoInitialIntentBelowMinVolumeThreshold(t *testing.T) {
	exec := NewPOVExecutor(5)
	algo := ExecutionAlgorithm{
		TotalQuantity: decimal.NewFromFloat(500),
		Params: map[string]interface{}{
			"target_pov":           0.1,
			"min_volume_threshold": 50.0,
		},
	}
	intents, err := exec.PlanExecution(algo)
	require.NoError(t, err)
	assert.Nil(t, intents)
}

func TestPOVAccelerationWhenLaggingProgress(t *testing.T) {
	algo := ExecutionAlgorithm{
		ExecutionID: "exec-1", Symbol: "BTC-USD", Side: SideBuy,
		TotalQuantity: decimal.NewFromFloat(100), DurationSeconds: 100,
		Params: map[string]interface{}{"target_pov": 0.1},
	}

	// 50% of duration elapsed but only 10% filled -> lagging by 35% over the 5% grace -> accelerate.
	intent, done, err := NextPOVSlice(algo, 100, decimal.NewFromFloat(10), 50, 1, 5000)
	require.NoError(t, err)
	assert.False(t, done)
	require.NotNil(t, intent)
	// base qty = 100*0.1 = 10; lag = 0.5-0.1-0.05 = 0.35 -> multiplier = 1+min(0.7,1) = 1.7
	assert.InDelta(t, 17.0, intent.Qty.InexactFloat64(), 1e-9)
}

func TestPOVNoAccelerationWhenOnPace(t *testing.T) {
	algo := ExecutionAlgorithm{
		TotalQuantity: decimal.NewFromFloat(100), DurationSeconds: 100,
		Params: map[string]interface{}{"target_pov": 0.1},
	}
	intent, done, err := NextPOVSlice(algo, 100, decimal.NewFromFloat(50), 50, 1, 5000)
	require.NoError(t, err)
	assert.False(t, done)
	require.NotNil(t, intent)
	assert.InDelta(t, 10.0, intent.Qty.InexactFloat64(), 1e-9)
}

func TestPOVDoneWhenFilled(t *testing.T) {
	algo := ExecutionAlgorithm{TotalQuantity: decimal.NewFromFloat(100), Params: map[string]interface{}{"target_pov": 0.1}}
	_, done, err := NextPOVSlice(algo, 100, decimal.NewFromFloat(100), 100, 1, 5000)
	require.NoError(t, err)
	assert.True(t, done)
}
