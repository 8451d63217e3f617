// Command backtest replays a historical NDJSON bar file through a
// strategy and the execution-algorithm simulator, writing the resulting
// equity curve as NDJSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/blackforestdev/njord-quant-sub000/internal/backtest"
	"github.com/blackforestdev/njord-quant-sub000/internal/config"
	"github.com/blackforestdev/njord-quant-sub000/internal/execution"
	"github.com/blackforestdev/njord-quant-sub000/internal/marketdata"
	"github.com/blackforestdev/njord-quant-sub000/pkg/observability"
	"github.com/shopspring/decimal"
)

func main() {
	strategyName := flag.String("strategy", "buy-and-hold", "built-in strategy: buy-and-hold, twap-entry")
	symbol := flag.String("symbol", "", "symbol to trade (required)")
	barsDir := flag.String("bars-dir", "", "directory containing <symbol>.jsonl NDJSON bar files (required)")
	startNs := flag.Int64("start", 0, "window start, unix nanoseconds (0 = earliest bar)")
	endNs := flag.Int64("end", 0, "window end, unix nanoseconds (0 = latest bar)")
	capital := flag.Float64("capital", 10000, "initial capital")
	commissionCoeff := flag.Float64("slippage-coefficient", 0.1, "linear slippage model coefficient")
	qty := flag.Float64("qty", 1, "quantity the built-in strategy trades")
	durationSeconds := flag.Int64("duration-seconds", 600, "execution window for algorithmic strategies")
	outputPath := flag.String("output", "", "output NDJSON path (default: stdout)")
	flag.Parse()

	logger := observability.NewLogger(config.ObservabilityConfig{LogLevel: "info", LogFormat: "json"})
	ctx := context.Background()

	if *symbol == "" || *barsDir == "" {
		log.Fatal("both -symbol and -bars-dir are required")
	}

	reader := marketdata.NewNDJSONReader(*barsDir)
	from := *startNs
	to := *endNs
	if to == 0 {
		to = 1<<63 - 1
	}
	bars, err := reader.ReadOHLCV(ctx, *symbol, from, to, 0)
	if err != nil {
		log.Fatalf("read bars: %v", err)
	}
	if len(bars) == 0 {
		log.Fatalf("no bars found for %s in %s", *symbol, *barsDir)
	}

	strategy, err := buildStrategy(*strategyName, *symbol, decimal.NewFromFloat(*qty), *durationSeconds)
	if err != nil {
		log.Fatalf("build strategy: %v", err)
	}

	executors := map[execution.AlgoType]execution.Executor{
		execution.AlgoTWAP:    execution.NewTWAPExecutor(10),
		execution.AlgoVWAP:    execution.NewVWAPExecutor(10, bars),
		execution.AlgoIceberg: execution.NewIcebergExecutor(),
		execution.AlgoPOV:     execution.NewPOVExecutor(averageVolume(bars)),
	}

	engine := backtest.NewEngine(bars, *symbol, strategy, decimal.NewFromFloat(*capital),
		backtest.LinearSlippageModel{Coefficient: *commissionCoeff}, executors)

	result, err := engine.Run()
	if err != nil {
		log.Fatalf("run backtest: %v", err)
	}

	logger.Info(ctx, "backtest complete", map[string]interface{}{
		"symbol":           *symbol,
		"strategy":         *strategyName,
		"trade_count":      result.TradeCount,
		"final_capital":    result.FinalCapital.String(),
		"total_return_pct": result.TotalReturnPct,
		"sharpe_ratio":     result.SharpeRatio,
		"max_drawdown_pct": result.MaxDrawdownPct,
	})

	out := os.Stdout
	if *outputPath != "" {
		f, err := os.Create(*outputPath)
		if err != nil {
			log.Fatalf("create output file: %v", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	for _, p := range result.EquityCurve {
		if err := enc.Encode(p); err != nil {
			log.Fatalf("write equity point: %v", err)
		}
	}
}

// averageVolume is a crude flat participation baseline for the POV
// executor: mean bar volume across the loaded window.
func averageVolume(bars []marketdata.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	var total float64
	for _, b := range bars {
		total += b.Volume
	}
	return total / float64(len(bars))
}

// buildStrategy returns one of the illustrative built-in strategies.
// Real signal generation is out of scope here; these exist to exercise
// the engine's plain and algorithmic code paths end to end.
func buildStrategy(name, symbol string, qty decimal.Decimal, durationSeconds int64) (backtest.Strategy, error) {
	switch name {
	case "buy-and-hold":
		return &buyAndHoldStrategy{symbol: symbol, qty: qty}, nil
	case "twap-entry":
		return &twapEntryStrategy{symbol: symbol, qty: qty, durationSeconds: durationSeconds}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// buyAndHoldStrategy buys qty on the first bar and holds, as a baseline
// for comparing algorithmic-execution strategies against.
type buyAndHoldStrategy struct {
	symbol  string
	qty     decimal.Decimal
	entered bool
}

func (s *buyAndHoldStrategy) OnBar(bar marketdata.Bar) []backtest.StrategyIntent {
	if s.entered {
		return nil
	}
	s.entered = true
	return []backtest.StrategyIntent{{Symbol: s.symbol, Side: execution.SideBuy, Qty: s.qty}}
}

// twapEntryStrategy routes its single entry through the TWAP executor
// instead of filling at bar close, exercising the engine's
// synchronous/algorithmic bridge.
type twapEntryStrategy struct {
	symbol          string
	qty             decimal.Decimal
	durationSeconds int64
	entered         bool
}

func (s *twapEntryStrategy) OnBar(bar marketdata.Bar) []backtest.StrategyIntent {
	if s.entered {
		return nil
	}
	s.entered = true
	return []backtest.StrategyIntent{{
		Symbol: s.symbol, Side: execution.SideBuy, Qty: s.qty,
		Execution: &backtest.ExecutionConfig{AlgoType: execution.AlgoTWAP, DurationSeconds: s.durationSeconds},
	}}
}
