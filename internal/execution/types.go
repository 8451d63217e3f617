// Package execution decomposes large parent orders into scheduled child
// order intents (TWAP/VWAP/Iceberg/POV) and correlates fills back to
// them through the bus.
package execution

import (
	"context"
	"encoding/json"

	"github.com/blackforestdev/njord-quant-sub000/internal/bus"
	"github.com/blackforestdev/njord-quant-sub000/internal/errs"
	"github.com/shopspring/decimal"
)

// AlgoType names one of the four execution-scheduling algorithms.
type AlgoType string

const (
	AlgoTWAP    AlgoType = "TWAP"
	AlgoVWAP    AlgoType = "VWAP"
	AlgoIceberg AlgoType = "Iceberg"
	AlgoPOV     AlgoType = "POV"
)

// Side is the direction of a parent order or child intent.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType distinguishes a market child intent from a limit one.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// ExecutionAlgorithm is the planning input shared by every executor.
// TotalQuantity is decimal, matching the teacher's convention of keeping
// every ledger quantity out of float64.
type ExecutionAlgorithm struct {
	ExecutionID     string                 `json:"execution_id"`
	AlgoType        AlgoType               `json:"algo_type"`
	Symbol          string                 `json:"symbol"`
	Side            Side                   `json:"side"`
	TotalQuantity   decimal.Decimal        `json:"total_quantity"`
	DurationSeconds int64                  `json:"duration_seconds"`
	StartTsNs       int64                  `json:"start_ts_ns"`
	Params          map[string]interface{} `json:"params,omitempty"`
}

// IntentMeta carries every well-known execution-tracking key as a typed
// field (rather than an untyped map) so each algorithm's extras
// (BenchmarkVWAP, Replanned, Action/TargetSliceID) are compile-time safe.
type IntentMeta struct {
	ExecutionID    string           `json:"execution_id"`
	ParentIntentID string           `json:"parent_intent_id,omitempty"`
	AlgoType       AlgoType         `json:"algo_type"`
	SliceIdx       int              `json:"slice_idx"`
	SliceID        string           `json:"slice_id"`
	Action         string           `json:"action,omitempty"`
	TargetSliceID  string           `json:"target_slice_id,omitempty"`
	Replanned      bool             `json:"replanned,omitempty"`
	BenchmarkVWAP  *decimal.Decimal `json:"benchmark_vwap,omitempty"`
}

// ExecutionIntent is a single scheduled child order, or a cancellation
// when Qty is zero and Meta.Action == "cancel".
type ExecutionIntent struct {
	TsLocalNs  int64            `json:"ts_local_ns"`
	Symbol     string           `json:"symbol"`
	Side       Side             `json:"side"`
	Type       OrderType        `json:"type"`
	Qty        decimal.Decimal  `json:"qty"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
	Meta       IntentMeta       `json:"meta"`
}

// IsCancel reports whether i represents a cancellation of a prior slice.
func (i ExecutionIntent) IsCancel() bool {
	return i.Qty.IsZero() && i.Meta.Action == "cancel"
}

// FillEvent is a single broker fill, correlated back to the intent that
// produced it via Meta.
type FillEvent struct {
	TsNs     int64           `json:"ts_ns"`
	Symbol   string          `json:"symbol"`
	Qty      decimal.Decimal `json:"qty"`
	Price    decimal.Decimal `json:"price"`
	SliceIdx int             `json:"slice_idx"`
	Meta     IntentMeta      `json:"meta"`
}

// ExecutionReport aggregates fills for one execution_id into a running
// status. VWAPDeviation is a ratio, not a ledger amount, so it stays
// float64.
type ExecutionReport struct {
	ExecutionID    string          `json:"execution_id"`
	Status         string          `json:"status"` // pending, partial, completed
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	AvgFillPrice   decimal.Decimal `json:"avg_fill_price"`
	VWAPDeviation  *float64        `json:"vwap_deviation,omitempty"`
}

// Executor is the contract every algorithm implements. PlanExecution is
// a pure function: no I/O, no suspension, safe to call from synchronous
// contexts like the backtest engine. TrackFills is the live,
// suspending counterpart used outside backtests.
type Executor interface {
	PlanExecution(algo ExecutionAlgorithm) ([]ExecutionIntent, error)
	TrackFills(ctx context.Context, b bus.Bus, executionID string) (<-chan FillEvent, error)
}

// FillsTopic is the bus topic fills are published on.
const FillsTopic = "fills.new"

// trackFills is the shared filtered-subscription implementation: it
// yields only fills whose meta.execution_id matches executionID.
func trackFills(ctx context.Context, b bus.Bus, executionID string) (<-chan FillEvent, error) {
	sub, err := b.Subscribe(ctx, FillsTopic)
	if err != nil {
		return nil, err
	}

	out := make(chan FillEvent, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				var fill FillEvent
				if err := json.Unmarshal(msg.Payload, &fill); err != nil {
					continue
				}
				if fill.Meta.ExecutionID != executionID {
					continue
				}
				select {
				case out <- fill:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func errValidation(op, msg string) error {
	return errs.New(errs.KindValidation, op, msg)
}
