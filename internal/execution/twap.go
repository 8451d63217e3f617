package execution

import (
	"context"
	"fmt"

	"github.com/blackforestdev/njord-quant-sub000/internal/bus"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultTWAPSliceCount = 10

// TWAPExecutor splits total_quantity equally across SliceCount intents,
// evenly spaced across the execution duration, followed by a matching
// set of cancellation intents at the end of the window.
type TWAPExecutor struct {
	SliceCount int
}

// NewTWAPExecutor builds a TWAPExecutor with the given slice count, or
// defaultTWAPSliceCount if sliceCount <= 0.
func NewTWAPExecutor(sliceCount int) *TWAPExecutor {
	if sliceCount <= 0 {
		sliceCount = defaultTWAPSliceCount
	}
	return &TWAPExecutor{SliceCount: sliceCount}
}

func (e *TWAPExecutor) PlanExecution(algo ExecutionAlgorithm) ([]ExecutionIntent, error) {
	n := e.SliceCount
	if n <= 0 {
		n = defaultTWAPSliceCount
	}

	var limitPrice *decimal.Decimal
	if algo.Params != nil {
		if raw, ok := algo.Params["limit_price"]; ok {
			v, ok := toFloat(raw)
			if !ok || v <= 0 {
				return nil, errValidation("TWAPExecutor.PlanExecution", "missing/invalid-limit-price")
			}
			d := decimal.NewFromFloat(v)
			limitPrice = &d
		}
	}

	executionID := algo.ExecutionID
	if executionID == "" {
		executionID = uuid.New().String()
	}

	durationNs := algo.DurationSeconds * 1_000_000_000
	qtyPerSlice := algo.TotalQuantity.Div(decimal.NewFromInt(int64(n)))
	intervalNs := durationNs / int64(n)

	intents := make([]ExecutionIntent, 0, n*2)
	sliceIDs := make([]string, n)

	orderType := OrderTypeMarket
	if limitPrice != nil {
		orderType = OrderTypeLimit
	}

	for i := 0; i < n; i++ {
		sliceID := fmt.Sprintf("%s-%d", executionID, i)
		sliceIDs[i] = sliceID
		intents = append(intents, ExecutionIntent{
			TsLocalNs:  algo.StartTsNs + int64(i)*intervalNs,
			Symbol:     algo.Symbol,
			Side:       algo.Side,
			Type:       orderType,
			Qty:        qtyPerSlice,
			LimitPrice: limitPrice,
			Meta: IntentMeta{
				ExecutionID: executionID,
				AlgoType:    AlgoTWAP,
				SliceIdx:    i,
				SliceID:     sliceID,
			},
		})
	}

	cancelTs := algo.StartTsNs + durationNs
	for i := 0; i < n; i++ {
		intents = append(intents, ExecutionIntent{
			TsLocalNs: cancelTs,
			Symbol:    algo.Symbol,
			Side:      algo.Side,
			Type:      orderType,
			Qty:       decimal.Zero,
			Meta: IntentMeta{
				ExecutionID:   executionID,
				AlgoType:      AlgoTWAP,
				SliceIdx:      i,
				SliceID:       sliceIDs[i],
				Action:        "cancel",
				TargetSliceID: sliceIDs[i],
			},
		})
	}

	return intents, nil
}

func (e *TWAPExecutor) TrackFills(ctx context.Context, b bus.Bus, executionID string) (<-chan FillEvent, error) {
	return trackFills(ctx, b, executionID)
}

// toFloat coerces an untyped algorithm param (always decoded from JSON or
// passed as a numeric literal) into a float64 ratio, threshold or limit
// price. It is never used for ledger quantities, which stay
// decimal.Decimal.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
