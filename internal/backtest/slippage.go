package backtest

import (
	"math"

	"github.com/blackforestdev/njord-quant-sub000/internal/execution"
)

// SlippageModel produces an execution price for a fill given the bar it
// was matched against. spread is approximated as high-low on bars that
// carry no explicit bid/ask. qty and price are taken as float64 here:
// the impact model is a ratio computation against market volume, not a
// ledger operation, so the simulator converts at the boundary.
type SlippageModel interface {
	Price(side execution.Side, qty, volume, price, spread float64) float64
}

// LinearSlippageModel applies impact proportional to qty/volume.
type LinearSlippageModel struct {
	Coefficient float64
}

func (m LinearSlippageModel) Price(side execution.Side, qty, volume, price, spread float64) float64 {
	impact := price
	if volume > 0 {
		impact = m.Coefficient * (qty / volume) * price
	} else {
		impact = 0
	}
	return applySlippage(side, price, impact+spread/2)
}

// SqrtSlippageModel applies impact proportional to sqrt(qty/volume),
// modeling the diminishing marginal impact of larger clips.
type SqrtSlippageModel struct {
	Coefficient float64
}

func (m SqrtSlippageModel) Price(side execution.Side, qty, volume, price, spread float64) float64 {
	var impact float64
	if volume > 0 {
		impact = m.Coefficient * math.Sqrt(qty/volume) * price
	}
	return applySlippage(side, price, impact+spread/2)
}

func applySlippage(side execution.Side, price, adjustment float64) float64 {
	if side == execution.SideBuy {
		return price + adjustment
	}
	return price - adjustment
}

// commissionRate is the fixed fee applied to every fill's notional.
const commissionRate = 0.001
