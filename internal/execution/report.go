package execution

import "github.com/shopspring/decimal"

// AggregateFills folds fills into an ExecutionReport. It is pure and
// independent of any one executor; the backtest simulator calls it on
// the fills it produces.
func AggregateFills(executionID string, totalQuantity decimal.Decimal, fills []FillEvent, benchmarkVWAP *decimal.Decimal) ExecutionReport {
	report := ExecutionReport{ExecutionID: executionID, Status: "pending"}

	qtySum := decimal.Zero
	notionalSum := decimal.Zero
	for _, f := range fills {
		qtySum = qtySum.Add(f.Qty)
		notionalSum = notionalSum.Add(f.Qty.Mul(f.Price))
	}

	report.FilledQuantity = qtySum
	if qtySum.IsPositive() {
		report.AvgFillPrice = notionalSum.Div(qtySum)
	}

	switch {
	case !qtySum.IsPositive():
		report.Status = "pending"
	case qtySum.GreaterThanOrEqual(totalQuantity):
		report.Status = "completed"
	default:
		report.Status = "partial"
	}

	if benchmarkVWAP != nil && !benchmarkVWAP.IsZero() && !report.AvgFillPrice.IsZero() {
		dev := report.AvgFillPrice.Sub(*benchmarkVWAP).Div(*benchmarkVWAP).InexactFloat64()
		report.VWAPDeviation = &dev
	}

	return report
}
