package execution

import (
	"context"
	"fmt"
	"math"

	"github.com/blackforestdev/njord-quant-sub000/internal/bus"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultMinVolumeThreshold = 0

// POVExecutor targets a fixed participation rate of measured market
// volume. MeasuredVolume is the volume observed over the current
// measurement period, supplied by the caller (live monitor or backtest
// driver) so PlanExecution stays a pure function. Market volume is
// observability/market data, not a ledger amount, so it stays float64.
type POVExecutor struct {
	MeasuredVolume float64
}

func NewPOVExecutor(measuredVolume float64) *POVExecutor {
	return &POVExecutor{MeasuredVolume: measuredVolume}
}

func povParams(algo ExecutionAlgorithm) (targetPOV, minVolumeThreshold float64, err error) {
	minVolumeThreshold = defaultMinVolumeThreshold
	if algo.Params == nil {
		return 0, 0, errValidation("POVExecutor", "missing target_pov")
	}
	raw, ok := algo.Params["target_pov"]
	if !ok {
		return 0, 0, errValidation("POVExecutor", "missing target_pov")
	}
	targetPOV, ok = toFloat(raw)
	if !ok || targetPOV <= 0 || targetPOV > 1 {
		return 0, 0, errValidation("POVExecutor", "invalid target_pov")
	}
	if rawThresh, ok := algo.Params["min_volume_threshold"]; ok {
		v, ok := toFloat(rawThresh)
		if !ok || v < 0 {
			return 0, 0, errValidation("POVExecutor", "invalid min_volume_threshold")
		}
		minVolumeThreshold = v
	}
	return targetPOV, minVolumeThreshold, nil
}

func (e *POVExecutor) PlanExecution(algo ExecutionAlgorithm) ([]ExecutionIntent, error) {
	targetPOV, minVolumeThreshold, err := povParams(algo)
	if err != nil {
		return nil, err
	}

	if e.MeasuredVolume < minVolumeThreshold {
		return nil, nil
	}

	executionID := algo.ExecutionID
	if executionID == "" {
		executionID = uuid.New().String()
	}

	qty := decimal.NewFromFloat(e.MeasuredVolume * targetPOV)
	qty = decimal.Min(qty, algo.TotalQuantity)

	return []ExecutionIntent{{
		TsLocalNs: algo.StartTsNs,
		Symbol:    algo.Symbol,
		Side:      algo.Side,
		Type:      OrderTypeMarket,
		Qty:       qty,
		Meta: IntentMeta{
			ExecutionID: executionID,
			AlgoType:    AlgoPOV,
			SliceIdx:    0,
			SliceID:     fmt.Sprintf("%s-0", executionID),
		},
	}}, nil
}

func (e *POVExecutor) TrackFills(ctx context.Context, b bus.Bus, executionID string) (<-chan FillEvent, error) {
	return trackFills(ctx, b, executionID)
}

// NextPOVSlice computes the next slice once elapsedSeconds of a
// durationSeconds window have passed. It accelerates the base
// participation-implied size when actual fill progress trails expected
// progress by more than 5%, scaling by 1+min(lag*2, 1) up to a 2x cap.
func NextPOVSlice(algo ExecutionAlgorithm, measuredVolume float64, filledSoFar decimal.Decimal, elapsedSeconds int64, nextSliceIdx int, tsNs int64) (intent *ExecutionIntent, done bool, err error) {
	targetPOV, minVolumeThreshold, err := povParams(algo)
	if err != nil {
		return nil, false, err
	}

	if filledSoFar.GreaterThanOrEqual(algo.TotalQuantity) {
		return nil, true, nil
	}
	if measuredVolume < minVolumeThreshold {
		return nil, false, nil
	}

	baseQty := measuredVolume * targetPOV

	expectedProgress := 0.0
	if algo.DurationSeconds > 0 {
		expectedProgress = float64(elapsedSeconds) / float64(algo.DurationSeconds)
	}
	actualProgress := 0.0
	if algo.TotalQuantity.IsPositive() {
		actualProgress = filledSoFar.Div(algo.TotalQuantity).InexactFloat64()
	}

	lag := expectedProgress - actualProgress - 0.05
	multiplier := 1.0
	if lag > 0 {
		multiplier = 1 + math.Min(lag*2, 1)
	}

	qty := decimal.NewFromFloat(baseQty * multiplier)
	remaining := algo.TotalQuantity.Sub(filledSoFar)
	qty = decimal.Min(qty, remaining)
	if !qty.IsPositive() {
		return nil, false, nil
	}

	executionID := algo.ExecutionID
	return &ExecutionIntent{
		TsLocalNs: tsNs,
		Symbol:    algo.Symbol,
		Side:      algo.Side,
		Type:      OrderTypeMarket,
		Qty:       qty,
		Meta: IntentMeta{
			ExecutionID: executionID,
			AlgoType:    AlgoPOV,
			SliceIdx:    nextSliceIdx,
			SliceID:     fmt.Sprintf("%s-%d", executionID, nextSliceIdx),
		},
	}, false, nil
}
