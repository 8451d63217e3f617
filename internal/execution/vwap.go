package execution

import (
	"context"
	"fmt"
	"math"

	"github.com/blackforestdev/njord-quant-sub000/internal/bus"
	"github.com/blackforestdev/njord-quant-sub000/internal/marketdata"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultVWAPSliceCount = 10

// TimeframeSecondsForDuration chooses the historical-bar timeframe used
// to build a volume profile: <=1h duration uses 1m bars, <=4h uses 5m,
// otherwise 15m.
func TimeframeSecondsForDuration(durationSeconds int64) int {
	switch {
	case durationSeconds <= 3600:
		return 60
	case durationSeconds <= 14400:
		return 300
	default:
		return 900
	}
}

// FetchBarsForVWAP performs the I/O a VWAP plan needs: lookbackDays of
// history at the timeframe implied by durationSeconds, ending at
// startTsNs. A caller fetches bars with it and hands them to
// NewVWAPExecutor, keeping PlanExecution itself pure.
func FetchBarsForVWAP(ctx context.Context, reader marketdata.HistoricalDataReader, symbol string, startTsNs int64, durationSeconds int64, lookbackDays int) ([]marketdata.Bar, error) {
	timeframe := TimeframeSecondsForDuration(durationSeconds)
	fromNs := startTsNs - int64(lookbackDays)*86400*1_000_000_000
	return reader.ReadOHLCV(ctx, symbol, fromNs, startTsNs, timeframe)
}

// VWAPExecutor schedules slices weighted by a historical volume profile,
// with adaptive re-planning as fills diverge from the profile.
type VWAPExecutor struct {
	SliceCount int
	// Bars is the pre-fetched historical window FetchBarsForVWAP
	// returned; PlanExecution never performs I/O itself.
	Bars []marketdata.Bar
}

// NewVWAPExecutor builds a VWAPExecutor over bars already fetched by the
// caller.
func NewVWAPExecutor(sliceCount int, bars []marketdata.Bar) *VWAPExecutor {
	if sliceCount <= 0 {
		sliceCount = defaultVWAPSliceCount
	}
	return &VWAPExecutor{SliceCount: sliceCount, Bars: bars}
}

// volumeProfile partitions bars into n equal contiguous index ranges and
// returns the normalized volume share of each. Zero total volume or
// insufficient data falls back to uniform weights. Weights are ratios,
// not ledger amounts, so they stay float64.
func volumeProfile(bars []marketdata.Bar, n int) []float64 {
	uniform := make([]float64, n)
	for i := range uniform {
		uniform[i] = 1.0 / float64(n)
	}
	if len(bars) == 0 {
		return uniform
	}

	var total float64
	for _, b := range bars {
		total += b.Volume
	}
	if total <= 0 {
		return uniform
	}

	bucketSize := float64(len(bars)) / float64(n)
	weights := make([]float64, n)
	for i := range weights {
		start := int(math.Floor(float64(i) * bucketSize))
		end := int(math.Floor(float64(i+1) * bucketSize))
		if end > len(bars) {
			end = len(bars)
		}
		var sum float64
		for _, b := range bars[start:end] {
			sum += b.Volume
		}
		weights[i] = sum / total
	}
	return weights
}

// benchmarkVWAP computes sum(typical_price*volume)/sum(volume) over
// bars, or nil if no volume is present. The result is a price, so it is
// handed back as decimal.
func benchmarkVWAP(bars []marketdata.Bar) *decimal.Decimal {
	var notional, volume float64
	for _, b := range bars {
		notional += b.TypicalPrice() * b.Volume
		volume += b.Volume
	}
	if volume <= 0 {
		return nil
	}
	v := decimal.NewFromFloat(notional / volume)
	return &v
}

func (e *VWAPExecutor) PlanExecution(algo ExecutionAlgorithm) ([]ExecutionIntent, error) {
	n := e.SliceCount
	if n <= 0 {
		n = defaultVWAPSliceCount
	}

	executionID := algo.ExecutionID
	if executionID == "" {
		executionID = uuid.New().String()
	}

	weights := volumeProfile(e.Bars, n)
	bench := benchmarkVWAP(e.Bars)

	durationNs := algo.DurationSeconds * 1_000_000_000
	intervalNs := durationNs / int64(n)

	intents := make([]ExecutionIntent, 0, n)
	for i := 0; i < n; i++ {
		intents = append(intents, ExecutionIntent{
			TsLocalNs: algo.StartTsNs + int64(i)*intervalNs,
			Symbol:    algo.Symbol,
			Side:      algo.Side,
			Type:      OrderTypeMarket,
			Qty:       algo.TotalQuantity.Mul(decimal.NewFromFloat(weights[i])),
			Meta: IntentMeta{
				ExecutionID:   executionID,
				AlgoType:      AlgoVWAP,
				SliceIdx:      i,
				SliceID:       fmt.Sprintf("%s-%d", executionID, i),
				BenchmarkVWAP: bench,
			},
		})
	}
	return intents, nil
}

func (e *VWAPExecutor) TrackFills(ctx context.Context, b bus.Bus, executionID string) (<-chan FillEvent, error) {
	return trackFills(ctx, b, executionID)
}

// ReplanRemainingSlices implements the adaptive re-planning rule: find
// the first incomplete original slice, compare cumulative expected vs
// actual fill up to that point, and either preserve or re-normalize the
// remaining weights before re-emitting intents for every slice from
// there forward.
func ReplanRemainingSlices(original []ExecutionIntent, fills []FillEvent, algo ExecutionAlgorithm) ([]ExecutionIntent, error) {
	n := len(original)
	if n == 0 {
		return nil, nil
	}

	filledPerSlice := make([]decimal.Decimal, n)
	for i := range filledPerSlice {
		filledPerSlice[i] = decimal.Zero
	}
	totalFilled := decimal.Zero
	for _, f := range fills {
		if f.SliceIdx >= 0 && f.SliceIdx < n {
			filledPerSlice[f.SliceIdx] = filledPerSlice[f.SliceIdx].Add(f.Qty)
		}
		totalFilled = totalFilled.Add(f.Qty)
	}

	firstIncomplete := -1
	for i, intent := range original {
		if filledPerSlice[i].LessThan(intent.Qty) {
			firstIncomplete = i
			break
		}
	}
	if firstIncomplete == -1 {
		if totalFilled.LessThan(algo.TotalQuantity) {
			firstIncomplete = 0
		} else {
			return nil, nil
		}
	}

	var expected, actual float64
	for i := 0; i <= firstIncomplete; i++ {
		expected += original[i].Qty.InexactFloat64()
		actual += filledPerSlice[i].InexactFloat64()
	}

	origWeights := make([]float64, n)
	for i, intent := range original {
		if algo.TotalQuantity.IsPositive() {
			origWeights[i] = intent.Qty.Div(algo.TotalQuantity).InexactFloat64()
		}
	}

	remaining := origWeights[firstIncomplete:]
	rebalance := expected != 0 && math.Abs(actual-expected)/expected > 0.10
	if rebalance {
		var sum float64
		for _, w := range remaining {
			sum += w
		}
		if sum > 0 {
			for i := range remaining {
				remaining[i] /= sum
			}
		}
	}

	remainingQty := algo.TotalQuantity.Sub(totalFilled)

	executionID := original[0].Meta.ExecutionID
	var bench *decimal.Decimal
	if original[0].Meta.BenchmarkVWAP != nil {
		v := *original[0].Meta.BenchmarkVWAP
		bench = &v
	}

	out := make([]ExecutionIntent, 0, len(remaining))
	var weightSum float64
	for _, w := range remaining {
		weightSum += w
	}
	for offset, w := range remaining {
		idx := firstIncomplete + offset
		var qty decimal.Decimal
		if weightSum == 0 {
			qty = remainingQty.Div(decimal.NewFromInt(int64(len(remaining))))
		} else if rebalance {
			// The re-normalized share is this slice's planned qty over the
			// planned qty of every remaining slice, kept in decimal.
			plannedRemaining := decimal.Zero
			for _, o := range original[firstIncomplete:] {
				plannedRemaining = plannedRemaining.Add(o.Qty)
			}
			qty = remainingQty.Mul(original[idx].Qty).Div(plannedRemaining)
		} else {
			qty = remainingQty.Mul(decimal.NewFromFloat(w))
		}
		out = append(out, ExecutionIntent{
			TsLocalNs: original[idx].TsLocalNs,
			Symbol:    algo.Symbol,
			Side:      algo.Side,
			Type:      OrderTypeMarket,
			Qty:       qty,
			Meta: IntentMeta{
				ExecutionID:   executionID,
				AlgoType:      AlgoVWAP,
				SliceIdx:      idx,
				SliceID:       fmt.Sprintf("%s-%d", executionID, idx),
				BenchmarkVWAP: bench,
				Replanned:     true,
			},
		})
	}
	return out, nil
}
