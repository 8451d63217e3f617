package backtest

import (
	"testing"

	"github.com/blackforestdev/njord-quant-sub000/internal/execution"
	"github.com/blackforestdev/njord-quant-sub000/internal/marketdata"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buyHoldStrategy buys a fixed quantity on the first bar and holds.
type buyHoldStrategy struct {
	qty    decimal.Decimal
	bought bool
	symbol string
}

func (s *buyHoldStrategy) OnBar(bar marketdata.Bar) []StrategyIntent {
	if s.bought {
		return nil
	}
	s.bought = true
	return []StrategyIntent{{Symbol: s.symbol, Side: execution.SideBuy, Qty: s.qty}}
}

func barsWithIncrementingClose(n int) []marketdata.Bar {
	bars := make([]marketdata.Bar, n)
	for i := 0; i < n; i++ {
		price := 100 + float64(i)
		bars[i] = marketdata.Bar{
			TimestampNs: int64(i) * 1_000_000_000,
			Open:        price, High: price, Low: price, Close: price, Volume: 1000,
		}
	}
	return bars
}

func TestBacktestDeterministicAcrossRuns(t *testing.T) {
	bars := barsWithIncrementingClose(10)

	run := func() Result {
		engine := NewEngine(bars, "BTC-USD", &buyHoldStrategy{qty: decimal.NewFromFloat(10), symbol: "BTC-USD"}, decimal.NewFromFloat(10000), LinearSlippageModel{Coefficient: 0.1}, nil)
		result, err := engine.Run()
		require.NoError(t, err)
		return result
	}

	r1 := run()
	r2 := run()

	assert.Equal(t, r1.EquityCurve, r2.EquityCurve)
	assert.True(t, r1.FinalCapital.Equal(r2.FinalCapital))
	assert.Equal(t, r1.TradeCount, r2.TradeCount)
}

func TestBacktestBuyHoldAccumulatesPosition(t *testing.T) {
	bars := barsWithIncrementingClose(5)
	engine := NewEngine(bars, "BTC-USD", &buyHoldStrategy{qty: decimal.NewFromFloat(10), symbol: "BTC-USD"}, decimal.NewFromFloat(10000), LinearSlippageModel{Coefficient: 0.1}, nil)
	result, err := engine.Run()
	require.NoError(t, err)

	require.Len(t, result.EquityCurve, 5)
	assert.Equal(t, 1, result.TradeCount)
	// Bought 10 @ 100 on bar 0; by bar 4 close is 104, equity should exceed initial capital.
	assert.True(t, result.FinalCapital.GreaterThan(decimal.NewFromFloat(10000)))
}

func TestBacktestAlgorithmicIntentRunsThroughExecutor(t *testing.T) {
	bars := barsWithIncrementingClose(20)
	strategy := &algoOnceStrategy{qty: decimal.NewFromFloat(5), symbol: "BTC-USD"}
	executors := map[execution.AlgoType]execution.Executor{
		execution.AlgoTWAP: execution.NewTWAPExecutor(2),
	}
	engine := NewEngine(bars, "BTC-USD", strategy, decimal.NewFromFloat(10000), LinearSlippageModel{Coefficient: 0.1}, executors)
	result, err := engine.Run()
	require.NoError(t, err)
	assert.Greater(t, result.TradeCount, 0)
}

type algoOnceStrategy struct {
	qty    decimal.Decimal
	symbol string
	fired  bool
}

func (s *algoOnceStrategy) OnBar(bar marketdata.Bar) []StrategyIntent {
	if s.fired {
		return nil
	}
	s.fired = true
	return []StrategyIntent{{
		Symbol: s.symbol, Side: execution.SideBuy, Qty: s.qty,
		Execution: &ExecutionConfig{AlgoType: execution.AlgoTWAP, DurationSeconds: 10},
	}}
}
