package backtest

import (
	"math"
	"sort"

	"github.com/blackforestdev/njord-quant-sub000/internal/errs"
	"github.com/blackforestdev/njord-quant-sub000/internal/execution"
	"github.com/blackforestdev/njord-quant-sub000/internal/marketdata"
	"github.com/shopspring/decimal"
)

// annualizationFactor is sqrt(365), used in place of the conventional
// sqrt(252) trading-day convention; this system runs on wall-clock days,
// not trading sessions.
var annualizationFactor = math.Sqrt(365)

// commissionRateDecimal mirrors commissionRate for decimal arithmetic.
var commissionRateDecimal = decimal.NewFromFloat(commissionRate)

// Engine deterministically replays Bars against Strategy, maintaining a
// single-symbol Position and cash balance.
type Engine struct {
	Bars           []marketdata.Bar
	Symbol         string
	Strategy       Strategy
	InitialCapital decimal.Decimal
	Slippage       SlippageModel
	Executors      map[execution.AlgoType]execution.Executor

	bridgeActive bool
}

// NewEngine builds an Engine with bars sorted ascending by timestamp.
func NewEngine(bars []marketdata.Bar, symbol string, strategy Strategy, initialCapital decimal.Decimal, slippage SlippageModel, executors map[execution.AlgoType]execution.Executor) *Engine {
	sorted := append([]marketdata.Bar(nil), bars...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TimestampNs < sorted[j].TimestampNs })
	return &Engine{
		Bars: sorted, Symbol: symbol, Strategy: strategy,
		InitialCapital: initialCapital, Slippage: slippage, Executors: executors,
	}
}

// Run replays every bar once, feeding it to Strategy and executing the
// resulting intents, then returns the deterministic Result.
func (e *Engine) Run() (Result, error) {
	cash := e.InitialCapital
	pos := Position{Qty: decimal.Zero, AvgPrice: decimal.Zero}

	var equityCurve []EquityPoint
	var trades []TradeRecord
	var wins, losses []float64

	for _, bar := range e.Bars {
		intents := e.Strategy.OnBar(bar)
		for _, si := range intents {
			var fills []execution.FillEvent
			if si.Execution != nil {
				f, err := e.runAlgorithmic(si, bar)
				if err != nil {
					return Result{}, err
				}
				fills = f
			} else {
				fills = []execution.FillEvent{{
					TsNs: bar.TimestampNs, Symbol: si.Symbol, Qty: si.Qty, Price: decimal.NewFromFloat(bar.Close),
				}}
			}

			for _, f := range fills {
				commission := f.Qty.Mul(f.Price).Mul(commissionRateDecimal)
				realized := applyFill(&cash, &pos, si.Side, f.Qty, f.Price, commission)
				trades = append(trades, TradeRecord{
					TsNs: f.TsNs, Symbol: si.Symbol, Side: si.Side, Qty: f.Qty, Price: f.Price, Commission: commission,
				})
				if realized != nil {
					r := realized.InexactFloat64()
					if r >= 0 {
						wins = append(wins, r)
					} else {
						losses = append(losses, -r)
					}
				}
			}
		}

		equity := cash.Add(pos.Qty.Mul(decimal.NewFromFloat(bar.Close)))
		equityCurve = append(equityCurve, EquityPoint{TsNs: bar.TimestampNs, Equity: equity})
	}

	finalCapital := e.InitialCapital
	if len(equityCurve) > 0 {
		finalCapital = equityCurve[len(equityCurve)-1].Equity
	}

	result := Result{
		EquityCurve:  equityCurve,
		FinalCapital: finalCapital,
		TradeCount:   len(trades),
		Trades:       trades,
	}
	if e.InitialCapital.IsPositive() {
		result.TotalReturnPct = finalCapital.Sub(e.InitialCapital).Div(e.InitialCapital).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	result.MaxDrawdownPct = maxDrawdownPct(equityCurve)
	result.SharpeRatio = sharpeRatio(equityCurve)

	totalClosed := len(wins) + len(losses)
	if totalClosed > 0 {
		result.WinRate = float64(len(wins)) / float64(totalClosed) * 100
	}
	if sum(losses) > 0 {
		result.ProfitFactor = sum(wins) / sum(losses)
	}

	return result, nil
}

// runAlgorithmic bridges the synchronous engine into the pure-planning
// side of the Executor contract. The bridge is not reentrant: a strategy
// that tries to trigger another algorithmic execution while one is being
// planned fails rather than silently nesting.
func (e *Engine) runAlgorithmic(si StrategyIntent, bar marketdata.Bar) ([]execution.FillEvent, error) {
	if e.bridgeActive {
		return nil, errs.New(errs.KindFatal, "Engine.runAlgorithmic", "cannot-block-inside-event-loop")
	}
	e.bridgeActive = true
	defer func() { e.bridgeActive = false }()

	executor, ok := e.Executors[si.Execution.AlgoType]
	if !ok {
		return nil, errs.New(errs.KindConfiguration, "Engine.runAlgorithmic", "no registered executor for algo_type")
	}

	algo := execution.ExecutionAlgorithm{
		AlgoType:        si.Execution.AlgoType,
		Symbol:          si.Symbol,
		Side:            si.Side,
		TotalQuantity:   si.Qty,
		DurationSeconds: si.Execution.DurationSeconds,
		StartTsNs:       bar.TimestampNs,
		Params:          si.Execution.Params,
	}

	planned, err := executor.PlanExecution(algo)
	if err != nil {
		return nil, errs.Wrap(errs.KindExecutor, "Engine.runAlgorithmic", err, "executor-failed")
	}

	var benchmark *decimal.Decimal
	executionID := algo.ExecutionID
	if len(planned) > 0 {
		benchmark = planned[0].Meta.BenchmarkVWAP
		executionID = planned[0].Meta.ExecutionID
	}

	fills, _ := simulateExecution(executionID, si.Qty, planned, e.Bars, e.Slippage, benchmark)
	return fills, nil
}

// applyFill updates cash and an average-cost position, returning the
// realized P&L of a sell (nil for a buy, which only opens/adds to cost
// basis).
func applyFill(cash *decimal.Decimal, pos *Position, side execution.Side, qty, price, commission decimal.Decimal) *decimal.Decimal {
	notional := qty.Mul(price)
	if side == execution.SideBuy {
		newQty := pos.Qty.Add(qty)
		if !newQty.IsZero() {
			pos.AvgPrice = pos.Qty.Mul(pos.AvgPrice).Add(notional).Div(newQty)
		}
		pos.Qty = newQty
		*cash = cash.Sub(notional.Add(commission))
		return nil
	}

	realized := price.Sub(pos.AvgPrice).Mul(qty).Sub(commission)
	pos.Qty = pos.Qty.Sub(qty)
	if !pos.Qty.IsPositive() {
		pos.AvgPrice = decimal.Zero
	}
	*cash = cash.Add(notional.Sub(commission))
	return &realized
}

func maxDrawdownPct(curve []EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].Equity.InexactFloat64()
	var maxDD float64
	for _, p := range curve {
		equity := p.Equity.InexactFloat64()
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (peak - equity) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func sharpeRatio(curve []EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity.InexactFloat64()
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity.InexactFloat64()-prev)/prev)
	}
	if len(returns) == 0 {
		return 0
	}

	mean := sum(returns) / float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	stdev := math.Sqrt(variance)
	if stdev == 0 {
		return 0
	}
	return mean / stdev * annualizationFactor
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}
