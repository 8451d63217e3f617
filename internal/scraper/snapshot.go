package scraper

import (
	"sort"

	"github.com/blackforestdev/njord-quant-sub000/internal/metrics"
)

// DashboardSnapshot is the fixed shape emitted once per second on the SSE
// stream, derived from well-known metric names in the registry. Unknown
// metric names are ignored.
type DashboardSnapshot struct {
	TimestampMs int64                    `json:"timestamp"`
	Portfolio   portfolioView            `json:"portfolio"`
	Strategies  []strategyView           `json:"strategies"`
	Risk        riskView                 `json:"risk"`
	Activity    activityView             `json:"activity"`
	System      systemView               `json:"system"`
}

type portfolioView struct {
	Equity        float64 `json:"equity"`
	DailyPnL      float64 `json:"daily_pnl"`
	PositionCount int     `json:"position_count"`
}

type strategyView struct {
	ID      string  `json:"id"`
	PnL     float64 `json:"pnl"`
	Sharpe  float64 `json:"sharpe"`
	WinRate float64 `json:"win_rate"`
}

type riskView struct {
	KillswitchActive bool    `json:"killswitch_active"`
	CapsUtilization  float64 `json:"caps_utilization"`
}

type activityView struct {
	TotalOrders int64 `json:"total_orders"`
	TotalFills  int64 `json:"total_fills"`
}

type systemView struct {
	EventLoopLagMs  float64 `json:"event_loop_lag_ms"`
	MemoryUsageMB   float64 `json:"memory_usage_mb"`
}

// buildSnapshot derives a DashboardSnapshot from the registry's current
// values by name, per the fixed well-known-metric-name mapping. If a
// strategy has multiple label-tuples sharing the same strategy_id, its
// PnL is over-counted by summation; this mirrors the original dashboard's
// behaviour and is a known limitation, not a bug to fix here.
func buildSnapshot(snap metrics.Snapshot, nowMs int64) DashboardSnapshot {
	strategies := make(map[string]*strategyView)
	order := make([]string, 0)

	strategyFor := func(id string) *strategyView {
		if v, ok := strategies[id]; ok {
			return v
		}
		v := &strategyView{ID: id}
		strategies[id] = v
		order = append(order, id)
		return v
	}

	var portfolioPnL float64
	var positionCount int
	var eventLoopLagSeconds float64
	var memoryUsageMB float64

	for _, g := range snap.Gauges {
		for _, s := range g.Series {
			switch g.Name {
			case "njord_strategy_pnl_usd":
				sid := labelOrUnknown(s.Labels, "strategy_id")
				strategyFor(sid).PnL = s.Value
				portfolioPnL += s.Value
			case "njord_position_size":
				positionCount++
			case "njord_event_loop_lag_seconds":
				eventLoopLagSeconds = s.Value
			case "njord_memory_usage_mb":
				memoryUsageMB += s.Value
			case "njord_strategy_sharpe_ratio":
				sid := labelOrUnknown(s.Labels, "strategy_id")
				strategyFor(sid).Sharpe = s.Value
			case "njord_strategy_win_rate":
				sid := labelOrUnknown(s.Labels, "strategy_id")
				strategyFor(sid).WinRate = s.Value
			}
		}
	}

	var totalOrders, totalFills int64
	for _, c := range snap.Counters {
		for _, s := range c.Series {
			switch c.Name {
			case "njord_orders_placed_total":
				totalOrders += int64(s.Value)
			case "njord_fills_generated_total":
				totalFills += int64(s.Value)
			}
		}
	}

	sort.Strings(order)
	strategyList := make([]strategyView, 0, len(order))
	for _, id := range order {
		strategyList = append(strategyList, *strategies[id])
	}

	return DashboardSnapshot{
		TimestampMs: nowMs,
		Portfolio: portfolioView{
			DailyPnL:      portfolioPnL,
			PositionCount: positionCount,
		},
		Strategies: strategyList,
		Risk:       riskView{},
		Activity: activityView{
			TotalOrders: totalOrders,
			TotalFills:  totalFills,
		},
		System: systemView{
			EventLoopLagMs: eventLoopLagSeconds * 1000,
			MemoryUsageMB:  memoryUsageMB,
		},
	}
}

func labelOrUnknown(labels map[string]string, key string) string {
	if v, ok := labels[key]; ok {
		return v
	}
	return "unknown"
}
