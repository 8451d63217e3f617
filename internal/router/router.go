// Package router selects an execution algorithm for a parent order based
// on urgency and market characteristics, then drives that algorithm's
// planning and publishes the resulting intents onto the bus.
package router

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/blackforestdev/njord-quant-sub000/internal/bus"
	"github.com/blackforestdev/njord-quant-sub000/internal/errs"
	"github.com/blackforestdev/njord-quant-sub000/internal/execution"
	"github.com/blackforestdev/njord-quant-sub000/pkg/observability"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IntentTopic is the bus topic routed intents are published on.
const IntentTopic = "strat.intent"

// ParentIntent is the order handed to the router for decomposition. Qty is
// a ledger amount and stays decimal.Decimal; AvgVolume1h and
// VolumeVolatility are market-observation ratios used only in algorithm
// selection, so they stay float64.
type ParentIntent struct {
	ID               string
	Symbol           string
	Side             execution.Side
	Qty              decimal.Decimal
	AvgVolume1h      float64
	VolumeVolatility float64
	Params           map[string]interface{}
}

// Metrics tracks routing outcomes: a mutex-guarded counters struct,
// without the venue-performance bookkeeping this domain doesn't need.
type Metrics struct {
	mu             sync.Mutex
	TotalOrders    int64
	RoutedOrders   int64
	RejectedOrders int64
	AlgoCounts     map[execution.AlgoType]int64
}

func newMetrics() *Metrics {
	return &Metrics{AlgoCounts: make(map[execution.AlgoType]int64)}
}

func (m *Metrics) recordRouted(algo execution.AlgoType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalOrders++
	m.RoutedOrders++
	m.AlgoCounts[algo]++
}

func (m *Metrics) recordRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalOrders++
	m.RejectedOrders++
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[execution.AlgoType]int64, len(m.AlgoCounts))
	for k, v := range m.AlgoCounts {
		counts[k] = v
	}
	return Metrics{TotalOrders: m.TotalOrders, RoutedOrders: m.RoutedOrders, RejectedOrders: m.RejectedOrders, AlgoCounts: counts}
}

// SmartOrderRouter selects an Executor per ParentIntent and publishes the
// planned child intents.
type SmartOrderRouter struct {
	bus       bus.Bus
	logger    *observability.Logger
	mu        sync.RWMutex
	executors map[execution.AlgoType]execution.Executor
	order     []execution.AlgoType
	metrics   *Metrics
}

// New builds a SmartOrderRouter with no executors registered; call
// Register for each algorithm it should be able to select.
func New(b bus.Bus, logger *observability.Logger) *SmartOrderRouter {
	return &SmartOrderRouter{
		bus:       b,
		logger:    logger,
		executors: make(map[execution.AlgoType]execution.Executor),
		metrics:   newMetrics(),
	}
}

// Register adds or replaces the executor for algo. Registration order is
// preserved for the iteration-order fallback rule.
func (r *SmartOrderRouter) Register(algo execution.AlgoType, executor execution.Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[algo]; !exists {
		r.order = append(r.order, algo)
	}
	r.executors[algo] = executor
}

// Metrics returns the router's running counters.
func (r *SmartOrderRouter) Metrics() Metrics {
	return r.metrics.Snapshot()
}

// selectAlgo applies the ordered selection rules, falling back to any
// registered executor (in registration order) if the chosen algorithm has
// none registered.
func (r *SmartOrderRouter) selectAlgo(parent ParentIntent, urgencySeconds *int64) execution.AlgoType {
	var chosen execution.AlgoType
	switch {
	case urgencySeconds != nil && *urgencySeconds < 60:
		chosen = execution.AlgoPOV
	case parent.AvgVolume1h > 0 && parent.Qty.GreaterThan(decimal.NewFromFloat(10*parent.AvgVolume1h)):
		chosen = execution.AlgoIceberg
	case parent.VolumeVolatility > 0.5:
		chosen = execution.AlgoVWAP
	default:
		chosen = execution.AlgoTWAP
	}

	if _, ok := r.executors[chosen]; ok {
		return chosen
	}
	for _, algo := range r.order {
		return algo
	}
	return chosen
}

// defaultDuration returns the default execution window by quantity:
// <10 -> 300s, <100 -> 600s, else 900s.
func defaultDuration(qty decimal.Decimal) int64 {
	switch {
	case qty.LessThan(decimal.NewFromInt(10)):
		return 300
	case qty.LessThan(decimal.NewFromInt(100)):
		return 600
	default:
		return 900
	}
}

// RouteOrder builds an ExecutionAlgorithm from parent, plans it through
// the selected executor, stamps every resulting intent's meta, and
// publishes each intent onto IntentTopic. It returns the execution_id.
func (r *SmartOrderRouter) RouteOrder(ctx context.Context, parent ParentIntent, startTsNs int64, urgencySeconds *int64) (string, error) {
	r.mu.RLock()
	algoType := r.selectAlgo(parent, urgencySeconds)
	executor, ok := r.executors[algoType]
	r.mu.RUnlock()

	if !ok {
		r.metrics.recordRejected()
		return "", errs.New(errs.KindConfiguration, "SmartOrderRouter.RouteOrder", "no registered executor available")
	}

	executionID := uuid.New().String()
	algo := execution.ExecutionAlgorithm{
		ExecutionID:     executionID,
		AlgoType:        algoType,
		Symbol:          parent.Symbol,
		Side:            parent.Side,
		TotalQuantity:   parent.Qty,
		DurationSeconds: defaultDuration(parent.Qty),
		StartTsNs:       startTsNs,
		Params:          parent.Params,
	}

	intents, err := executor.PlanExecution(algo)
	if err != nil {
		r.metrics.recordRejected()
		return "", errs.Wrap(errs.KindExecutor, "SmartOrderRouter.RouteOrder", err, "executor-failed")
	}

	for i := range intents {
		stampMeta(&intents[i].Meta, executionID, parent.ID, algoType)
		payload, err := json.Marshal(intents[i])
		if err != nil {
			return "", errs.Wrap(errs.KindProtocol, "SmartOrderRouter.RouteOrder", err, "intent-encode-failed")
		}
		if err := r.bus.Publish(ctx, IntentTopic, payload); err != nil {
			return "", errs.Wrap(errs.KindTransient, "SmartOrderRouter.RouteOrder", err, "publish-failed")
		}
	}

	r.metrics.recordRouted(algoType)
	r.logger.Info(ctx, "routed parent order", map[string]interface{}{
		"execution_id": executionID,
		"algo_type":    string(algoType),
		"intent_count": len(intents),
	})
	return executionID, nil
}

// stampMeta fills execution_id/parent_intent_id/algo_type without
// overwriting values the executor already set. slice_idx and slice_id
// are always set by the executor's own PlanExecution and are left alone.
func stampMeta(meta *execution.IntentMeta, executionID, parentIntentID string, algoType execution.AlgoType) {
	if meta.ExecutionID == "" {
		meta.ExecutionID = executionID
	}
	if meta.ParentIntentID == "" {
		meta.ParentIntentID = parentIntentID
	}
	if meta.AlgoType == "" {
		meta.AlgoType = algoType
	}
}
