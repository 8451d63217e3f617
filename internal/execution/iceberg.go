package execution

import (
	"context"
	"fmt"

	"github.com/blackforestdev/njord-quant-sub000/internal/bus"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultVisibleRatio       = 0.1
	defaultReplenishThreshold = 0.8
)

// IcebergExecutor shows only a visible slice of the total quantity at a
// time, replenishing once the visible slice is mostly filled. PlanExecution
// emits only the first visible slice; ReplenishIceberg drives the
// remainder as fills arrive.
type IcebergExecutor struct{}

func NewIcebergExecutor() *IcebergExecutor {
	return &IcebergExecutor{}
}

func icebergParams(algo ExecutionAlgorithm) (visibleRatio, replenishThreshold float64, err error) {
	visibleRatio = defaultVisibleRatio
	replenishThreshold = defaultReplenishThreshold
	if algo.Params == nil {
		return visibleRatio, replenishThreshold, nil
	}
	if raw, ok := algo.Params["visible_ratio"]; ok {
		v, ok := toFloat(raw)
		if !ok || v <= 0 || v > 1 {
			return 0, 0, errValidation("IcebergExecutor", "invalid visible_ratio")
		}
		visibleRatio = v
	}
	if raw, ok := algo.Params["replenish_threshold"]; ok {
		v, ok := toFloat(raw)
		if !ok || v <= 0 || v > 1 {
			return 0, 0, errValidation("IcebergExecutor", "invalid replenish_threshold")
		}
		replenishThreshold = v
	}
	return visibleRatio, replenishThreshold, nil
}

func (e *IcebergExecutor) PlanExecution(algo ExecutionAlgorithm) ([]ExecutionIntent, error) {
	visibleRatio, _, err := icebergParams(algo)
	if err != nil {
		return nil, err
	}

	executionID := algo.ExecutionID
	if executionID == "" {
		executionID = uuid.New().String()
	}

	visibleQty := algo.TotalQuantity.Mul(decimal.NewFromFloat(visibleRatio))
	return []ExecutionIntent{{
		TsLocalNs: algo.StartTsNs,
		Symbol:    algo.Symbol,
		Side:      algo.Side,
		Type:      OrderTypeMarket,
		Qty:       visibleQty,
		Meta: IntentMeta{
			ExecutionID: executionID,
			AlgoType:    AlgoIceberg,
			SliceIdx:    0,
			SliceID:     fmt.Sprintf("%s-0", executionID),
		},
	}}, nil
}

func (e *IcebergExecutor) TrackFills(ctx context.Context, b bus.Bus, executionID string) (<-chan FillEvent, error) {
	return trackFills(ctx, b, executionID)
}

// ReplenishIceberg inspects cumulative fills against the total quantity
// and the currently-visible slice, returning the next replenishment
// intent once the visible slice has filled past replenishThreshold. done
// is true once total_quantity has been filled, at which point no further
// replenishment is needed.
func ReplenishIceberg(algo ExecutionAlgorithm, cumulativeFilled decimal.Decimal, nextSliceIdx int, tsNs int64) (intent *ExecutionIntent, done bool, err error) {
	visibleRatio, replenishThreshold, err := icebergParams(algo)
	if err != nil {
		return nil, false, err
	}

	if cumulativeFilled.GreaterThanOrEqual(algo.TotalQuantity) {
		return nil, true, nil
	}

	visibleQty := algo.TotalQuantity.Mul(decimal.NewFromFloat(visibleRatio))
	currentSliceStart := visibleQty.Mul(decimal.NewFromInt(int64(nextSliceIdx - 1)))
	filledInCurrentSlice := cumulativeFilled.Sub(currentSliceStart)
	if filledInCurrentSlice.LessThan(visibleQty.Mul(decimal.NewFromFloat(replenishThreshold))) {
		return nil, false, nil
	}

	remaining := algo.TotalQuantity.Sub(cumulativeFilled)
	nextQty := decimal.Min(visibleQty, remaining)

	executionID := algo.ExecutionID
	return &ExecutionIntent{
		TsLocalNs: tsNs,
		Symbol:    algo.Symbol,
		Side:      algo.Side,
		Type:      OrderTypeMarket,
		Qty:       nextQty,
		Meta: IntentMeta{
			ExecutionID: executionID,
			AlgoType:    AlgoIceberg,
			SliceIdx:    nextSliceIdx,
			SliceID:     fmt.Sprintf("%s-%d", executionID, nextSliceIdx),
		},
	}, false, nil
}
