package backtest

import (
	"sort"

	"github.com/blackforestdev/njord-quant-sub000/internal/execution"
	"github.com/blackforestdev/njord-quant-sub000/internal/marketdata"
	"github.com/shopspring/decimal"
)

// nearestBarAtOrBefore binary-searches bars (sorted ascending by
// timestamp) for the last bar at or before tsNs, falling back to the
// first bar if tsNs precedes all of them.
func nearestBarAtOrBefore(bars []marketdata.Bar, tsNs int64) (marketdata.Bar, bool) {
	if len(bars) == 0 {
		return marketdata.Bar{}, false
	}
	idx := sort.Search(len(bars), func(i int) bool { return bars[i].TimestampNs > tsNs })
	if idx == 0 {
		return bars[0], true
	}
	return bars[idx-1], true
}

// simulateExecution runs a planned set of algorithmic intents against
// bars: every non-cancel intent is matched to the nearest bar at or
// before its scheduled timestamp and priced through model. No commission
// is applied here; the caller charges it. Returns the fills and the
// aggregated report.
func simulateExecution(executionID string, totalQuantity decimal.Decimal, intents []execution.ExecutionIntent, bars []marketdata.Bar, model SlippageModel, benchmarkVWAP *decimal.Decimal) ([]execution.FillEvent, execution.ExecutionReport) {
	fills := make([]execution.FillEvent, 0, len(intents))
	for _, intent := range intents {
		if intent.IsCancel() {
			continue
		}
		bar, ok := nearestBarAtOrBefore(bars, intent.TsLocalNs)
		if !ok {
			continue
		}
		spread := bar.High - bar.Low
		price := model.Price(intent.Side, intent.Qty.InexactFloat64(), bar.Volume, bar.Close, spread)
		fills = append(fills, execution.FillEvent{
			TsNs:     bar.TimestampNs,
			Symbol:   intent.Symbol,
			Qty:      intent.Qty,
			Price:    decimal.NewFromFloat(price),
			SliceIdx: intent.Meta.SliceIdx,
			Meta:     intent.Meta,
		})
	}

	report := execution.AggregateFills(executionID, totalQuantity, fills, benchmarkVWAP)
	return fills, report
}
