// Package backtest deterministically replays historical bars against a
// strategy, filling plain intents at bar close and algorithmic intents
// (TWAP/VWAP/Iceberg/POV) through the execution package's pure planning
// path and a slippage-model simulator.
package backtest

import (
	"github.com/blackforestdev/njord-quant-sub000/internal/execution"
	"github.com/blackforestdev/njord-quant-sub000/internal/marketdata"
	"github.com/shopspring/decimal"
)

// Position tracks a single-symbol holding. Qty and AvgPrice are settled
// ledger facts and use decimal.Decimal, matching every other money/qty
// field in this package.
type Position struct {
	Qty      decimal.Decimal
	AvgPrice decimal.Decimal
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	TsNs   int64           `json:"ts_ns"`
	Equity decimal.Decimal `json:"equity"`
}

// TradeRecord is one executed fill, plain or algorithmic.
type TradeRecord struct {
	TsNs       int64           `json:"ts_ns"`
	Symbol     string          `json:"symbol"`
	Side       execution.Side  `json:"side"`
	Qty        decimal.Decimal `json:"qty"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
}

// ExecutionConfig is the algorithmic-execution configuration a strategy
// attaches to an intent instead of requesting a plain fill.
type ExecutionConfig struct {
	AlgoType        execution.AlgoType
	DurationSeconds int64
	Params          map[string]interface{}
}

// StrategyIntent is what a Strategy emits in response to a bar: a plain
// fill-at-close request, or an algorithmic execution when Execution is
// set.
type StrategyIntent struct {
	Symbol    string
	Side      execution.Side
	Qty       decimal.Decimal
	Execution *ExecutionConfig
}

// Strategy reacts to each bar in sequence and may emit zero or more
// intents.
type Strategy interface {
	OnBar(bar marketdata.Bar) []StrategyIntent
}

// Result is the engine's output: equity curve, final capital, trade log,
// and the derived performance metrics. FinalCapital is a ledger amount
// and stays decimal.Decimal; the performance ratios below it have no
// settlement meaning and stay float64.
type Result struct {
	EquityCurve    []EquityPoint   `json:"equity_curve"`
	FinalCapital   decimal.Decimal `json:"final_capital"`
	TradeCount     int             `json:"trade_count"`
	Trades         []TradeRecord   `json:"trades"`
	TotalReturnPct float64         `json:"total_return_pct"`
	SharpeRatio    float64         `json:"sharpe_ratio"`
	MaxDrawdownPct float64         `json:"max_drawdown_pct"`
	WinRate        float64         `json:"win_rate"`
	ProfitFactor   float64         `json:"profit_factor"`
}
